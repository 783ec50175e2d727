// Package resilience drives remote work through bounded retry with
// exponential backoff, reconnecting to the remote side between attempts.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a controller state.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateSuccess
	StateTransientFailure
	StateBackoff
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateSuccess:
		return "success"
	case StateTransientFailure:
		return "transient-failure"
	case StateBackoff:
		return "backoff"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var ErrRetriesExhausted = errors.New("retries exhausted")

// Opts configures the controller.
type Opts struct {
	// MaxRetries is the number of consecutive failed attempts after which a
	// unit of work is abandoned as fatal.
	MaxRetries int
	// BackoffBase is the wait after the first failure. The wait after
	// failure k is BackoffBase * 2^(k-1).
	BackoffBase time.Duration
}

// DefaultOpts matches the run configuration defaults.
var DefaultOpts = Opts{
	MaxRetries:  3,
	BackoffBase: 2 * time.Second,
}

// Transition describes one state change, reported to the observer.
type Transition struct {
	From    State
	To      State
	Attempt int
	Err     error
	Wait    time.Duration
}

// Connector opens a fresh remote handle.
type Connector[H any] func(context.Context) (H, error)

// Controller owns the current remote handle and runs work against it. A
// retry never mutates the old handle: it opens a new one, prepares it and
// swaps it in, then closes the old one.
type Controller[H any] struct {
	mu         sync.Mutex
	opts       Opts
	state      State
	handle     H
	connected  bool
	reconnects int

	connect   Connector[H]
	prepare   func(context.Context, H) error
	closeFn   func(context.Context, H) error
	retryable func(error) bool
	observe   func(Transition)
	sleep     func(context.Context, time.Duration) error
}

// Option configures a Controller.
type Option[H any] func(*Controller[H])

// WithPrepare runs f on every freshly opened handle before work uses it.
func WithPrepare[H any](f func(context.Context, H) error) Option[H] {
	return func(c *Controller[H]) { c.prepare = f }
}

// WithClose releases handles that have been replaced or at Close.
func WithClose[H any](f func(context.Context, H) error) Option[H] {
	return func(c *Controller[H]) { c.closeFn = f }
}

// WithClassifier decides which errors are retried. Without it nothing is.
func WithClassifier[H any](f func(error) bool) Option[H] {
	return func(c *Controller[H]) { c.retryable = f }
}

// WithObserver receives every state transition.
func WithObserver[H any](f func(Transition)) Option[H] {
	return func(c *Controller[H]) { c.observe = f }
}

// WithSleep replaces the backoff timer, for tests.
func WithSleep[H any](f func(context.Context, time.Duration) error) Option[H] {
	return func(c *Controller[H]) { c.sleep = f }
}

// New creates a controller. No connection is opened until work needs one.
func New[H any](opts Opts, connect Connector[H], options ...Option[H]) *Controller[H] {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOpts.MaxRetries
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = 0
	}
	c := &Controller[H]{
		opts:      opts,
		connect:   connect,
		retryable: func(error) bool { return false },
		sleep:     sleepCtx,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current state.
func (c *Controller[H]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnects returns how many times the handle has been replaced.
func (c *Controller[H]) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Backoff returns the wait that follows failed attempt number attempt.
func (c *Controller[H]) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.opts.BackoffBase << (attempt - 1)
}

func (c *Controller[H]) transition(to State, attempt int, err error, wait time.Duration) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if c.observe != nil {
		c.observe(Transition{From: from, To: to, Attempt: attempt, Err: err, Wait: wait})
	}
}

// Do runs f until it succeeds, fails with a non-retryable error, or has
// failed MaxRetries times in a row. Every attempt after the first runs on a
// freshly opened and prepared handle.
func (c *Controller[H]) Do(ctx context.Context, f func(context.Context, H) error) error {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		c.transition(StateAttempting, attempt, nil, 0)

		err := c.run(ctx, attempt > 1, f)
		if err == nil {
			c.transition(StateSuccess, attempt, nil, 0)
			return nil
		}
		if ctx.Err() != nil || !c.retryable(err) {
			c.transition(StateFatal, attempt, err, 0)
			return err
		}

		c.transition(StateTransientFailure, attempt, err, 0)
		if attempt >= c.opts.MaxRetries {
			c.transition(StateFatal, attempt, err, 0)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		wait := c.Backoff(attempt)
		c.transition(StateBackoff, attempt, err, wait)
		if serr := c.sleep(ctx, wait); serr != nil {
			c.transition(StateFatal, attempt, serr, 0)
			return serr
		}
	}
}

func (c *Controller[H]) run(ctx context.Context, fresh bool, f func(context.Context, H) error) error {
	h, err := c.acquire(ctx, fresh)
	if err != nil {
		return err
	}
	return f(ctx, h)
}

// acquire returns the current handle, opening and preparing a new one when
// none is open yet or fresh is set.
func (c *Controller[H]) acquire(ctx context.Context, fresh bool) (H, error) {
	c.mu.Lock()
	if c.connected && !fresh {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	var zero H
	h, err := c.connect(ctx)
	if err != nil {
		return zero, err
	}
	if c.prepare != nil {
		if err := c.prepare(ctx, h); err != nil {
			c.release(ctx, h)
			return zero, err
		}
	}

	c.mu.Lock()
	old, had := c.handle, c.connected
	c.handle, c.connected = h, true
	if had {
		c.reconnects++
	}
	c.mu.Unlock()

	if had {
		c.release(ctx, old)
	}
	return h, nil
}

func (c *Controller[H]) release(ctx context.Context, h H) {
	if c.closeFn != nil {
		_ = c.closeFn(ctx, h)
	}
}

// Close releases the current handle, if any.
func (c *Controller[H]) Close(ctx context.Context) error {
	c.mu.Lock()
	h, had := c.handle, c.connected
	var zero H
	c.handle, c.connected = zero, false
	c.mu.Unlock()
	if !had || c.closeFn == nil {
		return nil
	}
	return c.closeFn(ctx, h)
}
