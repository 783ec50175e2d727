// Package fn holds the small generic toolkit the pipeline stages are built
// from: a Result type, composable traced stages, classified retry and slice
// helpers.
package fn

import "fmt"

// Result[T] carries either a value or an error out of a stage.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err creates a failed Result from an error. A nil error still yields a
// failed Result so callers never mistake it for a zero value.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = fmt.Errorf("fn: Err called with nil error")
	}
	return Result[T]{err: err}
}

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool  { return r.ok }
func (r Result[T]) IsErr() bool { return !r.ok }

// Error returns the failure, or nil.
func (r Result[T]) Error() error { return r.err }
