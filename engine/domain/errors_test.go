package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"config", Configf("window.size", "0", "must be positive"), KindConfiguration},
		{"projection", &ProjectionError{Graph: "base"}, KindProjection},
		{"transient", &TransientEngineError{Op: "filter", Wrapped: errors.New("conn reset")}, KindTransient},
		{"drift", &SchemaDriftError{Source: "nodes.parquet", Missing: []string{"page_rank"}}, KindSchemaDrift},
		{"algorithm", &AlgorithmFailure{Algorithm: "wcc", Graph: "rw_2004_3y", Wrapped: errors.New("bad config")}, KindAlgorithm},
		{"wrapped config", fmt.Errorf("load: %w", Configf("x", "", "bad")), KindConfiguration},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestKindOfPrefersTransientCause(t *testing.T) {
	err := &AlgorithmFailure{
		Algorithm: "page_rank",
		Wrapped:   &TransientEngineError{Op: "mutate", Wrapped: errors.New("session expired")},
	}
	if got := KindOf(err); got != KindTransient {
		t.Fatalf("expected transient, got %v", got)
	}
	if !errors.Is(err, ErrAlgorithm) {
		t.Fatal("expected algorithm failure to still match ErrAlgorithm")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(Configf("f", "", "bad")) {
		t.Error("configuration errors must not be retried")
	}
	if Retryable(&ProjectionError{Graph: "base"}) {
		t.Error("projection errors must not be retried")
	}
	if !Retryable(&TransientEngineError{Op: "x", Wrapped: errors.New("y")}) {
		t.Error("transient errors must be retried")
	}
	if !Retryable(&AlgorithmFailure{Algorithm: "wcc", Wrapped: errors.New("y")}) {
		t.Error("algorithm failures restart the window")
	}
	if Retryable(errors.New("unknown")) {
		t.Error("unclassified errors must not be retried")
	}
}

func TestErrorMessages(t *testing.T) {
	msg := (&SchemaDriftError{Source: "edges.parquet", Missing: []string{"a", "b"}}).Error()
	if !strings.Contains(msg, "missing a, b") {
		t.Fatalf("unexpected message %q", msg)
	}
	msg = NewConfigurationError("NEO4J_URI", "", errors.New("not set")).Error()
	if msg != `config: NEO4J_URI: not set (value="")` {
		t.Fatalf("unexpected message %q", msg)
	}
	if KindSchemaDrift.String() != "schema_drift" {
		t.Fatalf("unexpected kind string %q", KindSchemaDrift.String())
	}
}
