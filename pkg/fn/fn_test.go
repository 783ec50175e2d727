package fn

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() || r.val != 42 || r.Error() != nil {
		t.Fatalf("expected ok 42, got %v %v", r.val, r.Error())
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
	if Err[int](nil).IsOk() {
		t.Fatal("Err(nil) must still fail")
	}
	if FromPair(1, errors.New("x")).IsOk() || !FromPair(1, nil).IsOk() {
		t.Fatal("FromPair should follow the error")
	}
}

func TestPipelineStopsAtFirstError(t *testing.T) {
	var ran []string
	step := func(name string, err error) Stage[*[]string, *[]string] {
		return Step(func(_ context.Context, s *[]string) error {
			ran = append(ran, name)
			*s = append(*s, name)
			return err
		})
	}
	state := &[]string{}
	r := Pipeline(step("a", nil), step("b", errors.New("stop")), step("c", nil))(context.Background(), state)
	if r.IsOk() {
		t.Fatal("expected error")
	}
	if !reflect.DeepEqual(ran, []string{"a", "b"}) {
		t.Fatalf("expected a,b to run, got %v", ran)
	}
}

func TestPipelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Pipeline(MapStageOf(func(i int) int { return i + 1 }))(ctx, 1)
	if !errors.Is(r.Error(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.Error())
	}
}

func MapStageOf(f func(int) int) Stage[int, int] {
	return func(_ context.Context, in int) Result[int] { return Ok(f(in)) }
}

func TestTracedPipeline(t *testing.T) {
	double := Traced("double", MapStageOf(func(i int) int { return i * 2 }))
	fail := Traced("fail", func(context.Context, int) Result[int] { return Err[int](errors.New("nope")) })

	if r := Pipeline(double, double)(context.Background(), 3); !r.IsOk() || r.val != 12 {
		t.Fatalf("expected 12, got %d", r.val)
	}
	if r := Pipeline(fail, double)(context.Background(), 3); r.IsOk() || r.Error().Error() != "nope" {
		t.Fatalf("expected failure, got %v", r.Error())
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	opts := RetryOpts{
		MaxAttempts: 4,
		InitialWait: time.Millisecond,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Err[string](errors.New("flaky"))
		}
		return Ok("done")
	})
	if !r.IsOk() || r.val != "done" || calls != 3 {
		t.Fatalf("expected success on third call, got %v after %d", r.Error(), calls)
	}
	if !reflect.DeepEqual(retried, []int{1, 2}) {
		t.Fatalf("expected retries after attempts 1,2, got %v", retried)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := RetryErr(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected one call with permanent error, got %d calls, %v", calls, err)
	}
}

func TestRetryContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}, func(context.Context) Result[int] {
		calls++
		cancel()
		return Err[int](errors.New("x"))
	})
	if !errors.Is(r.Error(), context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after one call, got %v (%d calls)", r.Error(), calls)
	}
}

func TestSliceHelpers(t *testing.T) {
	if got := Map([]int{1, 2}, func(i int) int { return i * 10 }); !reflect.DeepEqual(got, []int{10, 20}) {
		t.Fatalf("Map: got %v", got)
	}
	if got := Chunk([]int{1, 2, 3, 4, 5}, 2); len(got) != 3 || len(got[2]) != 1 {
		t.Fatalf("Chunk: got %v", got)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n=0 should be nil")
	}
}
