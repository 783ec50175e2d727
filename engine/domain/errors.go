package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per failure class. Every typed error below matches
// exactly one of them through errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrProjection    = errors.New("projection error")
	ErrTransient     = errors.New("transient engine error")
	ErrSchemaDrift   = errors.New("schema drift")
	ErrAlgorithm     = errors.New("algorithm failure")
)

// Kind classifies an error for the window loop.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindProjection
	KindTransient
	KindSchemaDrift
	KindAlgorithm
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProjection:
		return "projection"
	case KindTransient:
		return "transient"
	case KindSchemaDrift:
		return "schema_drift"
	case KindAlgorithm:
		return "algorithm"
	default:
		return "unknown"
	}
}

// ConfigurationError reports invalid options or missing credentials.
type ConfigurationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ConfigurationError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("config: %s (value=%q)", e.Field, e.Value)
	}
	return fmt.Sprintf("config: %s: %s (value=%q)", e.Field, e.Wrapped, e.Value)
}

func (e *ConfigurationError) Unwrap() error        { return e.Wrapped }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, value string, wrapped error) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Wrapped: wrapped}
}

// Configf is shorthand for a ConfigurationError with a formatted cause.
func Configf(field, value, format string, args ...any) *ConfigurationError {
	return NewConfigurationError(field, value, fmt.Errorf(format, args...))
}

// ProjectionError reports a base graph projection that came back empty.
type ProjectionError struct {
	Graph         string
	Nodes         int64
	Relationships int64
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection: graph %q projected %d nodes and %d relationships", e.Graph, e.Nodes, e.Relationships)
}

func (e *ProjectionError) Is(target error) bool { return target == ErrProjection }

// TransientEngineError wraps a remote failure that is expected to clear
// after reconnecting.
type TransientEngineError struct {
	Op      string
	Wrapped error
}

func (e *TransientEngineError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Wrapped)
}

func (e *TransientEngineError) Unwrap() error        { return e.Wrapped }
func (e *TransientEngineError) Is(target error) bool { return target == ErrTransient }

// SchemaDriftError reports data whose shape does not match what the current
// configuration requires: a cached file missing columns, or a streamed
// property with an unexpected type.
type SchemaDriftError struct {
	Source  string
	Missing []string
	Detail  string
}

func (e *SchemaDriftError) Error() string {
	var b strings.Builder
	b.WriteString("schema drift: ")
	b.WriteString(e.Source)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *SchemaDriftError) Is(target error) bool { return target == ErrSchemaDrift }

// AlgorithmFailure wraps the failure of a single algorithm call.
type AlgorithmFailure struct {
	Algorithm string
	Graph     string
	Wrapped   error
}

func (e *AlgorithmFailure) Error() string {
	return fmt.Sprintf("algorithm %s on %s: %v", e.Algorithm, e.Graph, e.Wrapped)
}

func (e *AlgorithmFailure) Unwrap() error        { return e.Wrapped }
func (e *AlgorithmFailure) Is(target error) bool { return target == ErrAlgorithm }

// KindOf returns the most specific class of err. Transient causes win over the
// wrapper they travel in, so an algorithm call that lost its connection
// reports KindTransient.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrProjection):
		return KindProjection
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrSchemaDrift):
		return KindSchemaDrift
	case errors.Is(err, ErrAlgorithm):
		return KindAlgorithm
	default:
		return KindUnknown
	}
}

// Retryable reports whether a window attempt that failed with err may be
// restarted from its filter stage.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindAlgorithm, KindSchemaDrift:
		return true
	default:
		return false
	}
}
