package gds

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/pkg/repo"
)

// Classify wraps err from operation op. Failures that reconnecting can fix
// become domain.TransientEngineError; unexpected result shapes become
// domain.SchemaDriftError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	var fe *repo.FieldError
	if errors.As(err, &fe) {
		return &domain.SchemaDriftError{Source: "gds " + op, Detail: fe.Error()}
	}
	if IsTransient(err) {
		return &domain.TransientEngineError{Op: op, Wrapped: err}
	}
	return fmt.Errorf("gds: %s: %w", op, err)
}

// IsTransient reports dropped connections, expired sessions, server-side
// transient errors and a graph vanishing from the catalog mid-operation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		if strings.HasPrefix(nerr.Code, "Neo.TransientError.") {
			return true
		}
		if graphMissing(nerr.Msg) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return graphMissing(msg) ||
		strings.Contains(msg, "session expired") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

func graphMissing(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "graph") &&
		(strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found"))
}
