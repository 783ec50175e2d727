package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/WessleyAI/rollwin/pkg/fn"

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Pipeline runs same-typed stages in order and stops at the first error.
func Pipeline[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, t T) Result[T] {
		r := Ok(t)
		for _, s := range stages {
			if err := ctx.Err(); err != nil {
				return Err[T](err)
			}
			r = s(ctx, r.val)
			if r.IsErr() {
				return r
			}
		}
		return r
	}
}

// Step lifts an in-place mutation of *T into a Stage.
func Step[T any](f func(context.Context, *T) error) Stage[*T, *T] {
	return func(ctx context.Context, t *T) Result[*T] {
		if err := f(ctx, t); err != nil {
			return Err[*T](err)
		}
		return Ok(t)
	}
}

// Traced wraps a stage in an OTel span named name. Failures are recorded on
// the span.
func Traced[In, Out any](name string, stage Stage[In, Out], attrs ...attribute.KeyValue) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		span.SetAttributes(attrs...)
		result := stage(ctx, in)
		if result.IsErr() {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		return result
	}
}
