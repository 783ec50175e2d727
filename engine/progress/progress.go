// Package progress reports per-window pipeline events.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/rollwin/pkg/natsutil"
)

// Stage names an event.
type Stage string

const (
	StageStart   Stage = "start"
	StageAttempt Stage = "attempt"
	StageRetry   Stage = "retry"
	StageWindow  Stage = "window"
	StageSummary Stage = "summary"
)

// Event is one progress message. Counts are set on window and summary
// events only.
type Event struct {
	RunID     string    `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Window    string    `json:"window,omitempty"`
	Index     int       `json:"index,omitempty"`
	Total     int       `json:"total,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Nodes     int64     `json:"nodes,omitempty"`
	Edges     int64     `json:"edges,omitempty"`
	Predicted int64     `json:"predicted,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Skipped   int       `json:"skipped,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives events. A failing sink never fails the run; callers log
// the error and carry on.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// LogSink writes events to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"stage", e.Stage}
	if e.Window != "" {
		attrs = append(attrs, "window", e.Window)
	}
	if e.Total > 0 {
		attrs = append(attrs, "index", e.Index, "total", e.Total)
	}
	switch e.Stage {
	case StageAttempt, StageRetry:
		attrs = append(attrs, "attempt", e.Attempt)
	case StageWindow:
		attrs = append(attrs, "outcome", e.Outcome, "nodes", e.Nodes, "edges", e.Edges,
			"predicted", e.Predicted, "elapsed_ms", e.ElapsedMS)
	case StageSummary:
		attrs = append(attrs, "succeeded", e.Succeeded, "skipped", e.Skipped, "failed", e.Failed,
			"elapsed_ms", e.ElapsedMS)
	}
	level := slog.LevelInfo
	if e.Stage == StageAttempt {
		level = slog.LevelDebug
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "progress", attrs...)
	return nil
}

// NATSSink publishes events as JSON on Subject.
type NATSSink struct {
	Conn    natsutil.Publisher
	Subject string
}

func (s NATSSink) Emit(ctx context.Context, e Event) error {
	return natsutil.Publish(ctx, s.Conn, s.Subject, e)
}

// DialNATS connects to url and returns a sink for subject together with a
// close function that flushes pending events.
func DialNATS(url, subject, name string) (*NATSSink, func(), error) {
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		_ = nc.Flush()
		nc.Close()
	}
	return &NATSSink{Conn: nc, Subject: subject}, closer, nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
