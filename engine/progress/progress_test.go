package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs []*nats.Msg
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

type failing struct{ err error }

func (f failing) Emit(context.Context, Event) error { return f.err }

type recorder struct{ events []Event }

func (r *recorder) Emit(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	require.NoError(t, s.Emit(context.Background(), Event{
		Stage: StageWindow, Window: "rw_2004_3y", Index: 2, Total: 5,
		Outcome: "done", Nodes: 6, Edges: 3,
	}))
	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "window=rw_2004_3y")
	assert.Contains(t, out, "outcome=done")
	assert.Contains(t, out, "nodes=6")

	buf.Reset()
	require.NoError(t, s.Emit(context.Background(), Event{Stage: StageRetry, Window: "rw_2004_3y", Attempt: 2, Error: "connection reset"}))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "attempt=2")
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	fc := &fakeConn{}
	s := NATSSink{Conn: fc, Subject: "rollwin.progress"}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Emit(context.Background(), Event{RunID: "r1", Stage: StageSummary, Succeeded: 3, Failed: 1, At: at}))
	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "rollwin.progress", fc.msgs[0].Subject)

	var got Event
	require.NoError(t, json.Unmarshal(fc.msgs[0].Data, &got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, StageSummary, got.Stage)
	assert.Equal(t, 3, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.True(t, at.Equal(got.At))
	assert.NotContains(t, string(fc.msgs[0].Data), `"window"`)
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("nats down")
	m := Multi{failing{boom}, nil, rec}

	err := m.Emit(context.Background(), Event{Stage: StageStart})
	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.events, 1, "later sinks still receive the event")
	assert.Equal(t, StageStart, rec.events[0].Stage)

	assert.NoError(t, Multi{rec}.Emit(context.Background(), Event{}))
}
