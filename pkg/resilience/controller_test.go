package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("connection reset")

type handle struct {
	id     int
	closed bool
}

type harness struct {
	opened   []*handle
	prepared int
	waits    []time.Duration
	trail    []State
}

func newHarness(t *testing.T, opts Opts) (*harness, *Controller[*handle]) {
	t.Helper()
	h := &harness{}
	c := New(opts,
		func(context.Context) (*handle, error) {
			hd := &handle{id: len(h.opened) + 1}
			h.opened = append(h.opened, hd)
			return hd, nil
		},
		WithPrepare(func(context.Context, *handle) error { h.prepared++; return nil }),
		WithClose(func(_ context.Context, hd *handle) error { hd.closed = true; return nil }),
		WithClassifier[*handle](func(err error) bool { return errors.Is(err, errFlaky) }),
		WithSleep[*handle](func(_ context.Context, d time.Duration) error { h.waits = append(h.waits, d); return nil }),
		WithObserver[*handle](func(tr Transition) { h.trail = append(h.trail, tr.To) }),
	)
	return h, c
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateAttempting, "attempting"},
		{StateTransientFailure, "transient-failure"},
		{StateBackoff, "backoff"},
		{StateFatal, "fatal"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestDoSucceedsFirstTime(t *testing.T) {
	h, c := newHarness(t, Opts{MaxRetries: 3, BackoffBase: time.Second})
	var used *handle
	err := c.Do(context.Background(), func(_ context.Context, hd *handle) error {
		used = hd
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if used == nil || used.id != 1 || h.prepared != 1 {
		t.Fatalf("expected lazily opened and prepared handle, got %+v (prepared=%d)", used, h.prepared)
	}
	if c.State() != StateSuccess || c.Reconnects() != 0 {
		t.Fatalf("expected success without reconnects, got %v/%d", c.State(), c.Reconnects())
	}

	// A second unit of work reuses the handle.
	_ = c.Do(context.Background(), func(_ context.Context, hd *handle) error { used = hd; return nil })
	if used.id != 1 || len(h.opened) != 1 {
		t.Fatalf("expected handle reuse, opened %d", len(h.opened))
	}
}

func TestDoRetriesWithBackoffAndReconnect(t *testing.T) {
	h, c := newHarness(t, Opts{MaxRetries: 4, BackoffBase: time.Second})
	attempts := 0
	var seen []int
	err := c.Do(context.Background(), func(_ context.Context, hd *handle) error {
		attempts++
		seen = append(seen, hd.id)
		if attempts <= 2 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if want := []int{1, 2, 3}; len(seen) != 3 || seen[0] != want[0] || seen[1] != want[1] || seen[2] != want[2] {
		t.Fatalf("expected a fresh handle per attempt, got %v", seen)
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; len(h.waits) != 2 || h.waits[0] != want[0] || h.waits[1] != want[1] {
		t.Fatalf("expected waits %v, got %v", want, h.waits)
	}
	if !h.opened[0].closed || !h.opened[1].closed || h.opened[2].closed {
		t.Fatal("expected replaced handles closed and the current one open")
	}
	if h.prepared != 3 || c.Reconnects() != 2 {
		t.Fatalf("expected 3 prepares and 2 reconnects, got %d/%d", h.prepared, c.Reconnects())
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	h, c := newHarness(t, Opts{MaxRetries: 3, BackoffBase: 10 * time.Millisecond})
	attempts := 0
	err := c.Do(context.Background(), func(context.Context, *handle) error {
		attempts++
		return errFlaky
	})
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, errFlaky) {
		t.Fatalf("expected exhausted flaky error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if c.State() != StateFatal {
		t.Fatalf("expected fatal, got %v", c.State())
	}
	if len(h.waits) != 2 || h.waits[1] != 20*time.Millisecond {
		t.Fatalf("unexpected waits %v", h.waits)
	}
	want := []State{
		StateAttempting, StateTransientFailure, StateBackoff,
		StateAttempting, StateTransientFailure, StateBackoff,
		StateAttempting, StateTransientFailure, StateFatal,
	}
	if len(h.trail) != len(want) {
		t.Fatalf("expected trail %v, got %v", want, h.trail)
	}
	for i := range want {
		if h.trail[i] != want[i] {
			t.Fatalf("step %d: expected %v, got %v", i, want[i], h.trail[i])
		}
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	h, c := newHarness(t, Opts{MaxRetries: 5, BackoffBase: time.Second})
	permanent := errors.New("bad config")
	attempts := 0
	err := c.Do(context.Background(), func(context.Context, *handle) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 || len(h.waits) != 0 {
		t.Fatalf("expected a single attempt and no waits, got %d/%d", attempts, len(h.waits))
	}
}

func TestPrepareFailureCountsAsAttempt(t *testing.T) {
	prepares := 0
	c := New(Opts{MaxRetries: 3},
		func(context.Context) (int, error) { return 1, nil },
		WithPrepare(func(context.Context, int) error {
			prepares++
			if prepares == 1 {
				return errFlaky
			}
			return nil
		}),
		WithClassifier[int](func(err error) bool { return errors.Is(err, errFlaky) }),
		WithSleep[int](func(context.Context, time.Duration) error { return nil }),
	)
	ran := 0
	if err := c.Do(context.Background(), func(context.Context, int) error { ran++; return nil }); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if prepares != 2 || ran != 1 {
		t.Fatalf("expected 2 prepares and 1 run, got %d/%d", prepares, ran)
	}
}

func TestBackoffDoubles(t *testing.T) {
	c := New[int](Opts{MaxRetries: 5, BackoffBase: 2 * time.Second}, nil)
	for attempt, want := range map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 3: 8 * time.Second} {
		if got := c.Backoff(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestCloseReleasesHandle(t *testing.T) {
	h, c := newHarness(t, DefaultOpts)
	_ = c.Do(context.Background(), func(context.Context, *handle) error { return nil })
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.opened[0].closed {
		t.Fatal("expected handle closed")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
