package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock is an adjustable clock for driving reset timeouts.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time            { return f.t }
func (f *fakeClock) advance(d time.Duration)   { f.t = f.t.Add(d) }

func newTestBreaker(clk *fakeClock) *Breaker {
	return New(Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		SuccessThreshold: 2,
		CallTimeout:      time.Second,
	}, WithClock(clk.now))
}

var errUpstream = errors.New("upstream failed")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestOpensAfterFailureThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: got %v, want upstream error", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	// While open, calls are rejected without invoking the function.
	invoked := false
	err := b.Execute(ctx, func(context.Context) error { invoked = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if invoked {
		t.Fatal("wrapped function invoked while breaker open")
	}
}

func TestSuccessResetsClosedFailureCount(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newTestBreaker(clk)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", got)
	}
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clk.advance(time.Minute)

	// Next call after the reset timeout is the probe and must run.
	invoked := false
	if err := b.Execute(ctx, func(context.Context) error { invoked = true; return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if !invoked {
		t.Fatal("probe call did not invoke the wrapped function")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half_open after one probe success", got)
	}

	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after success threshold", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clk.advance(time.Minute)

	if err := b.Execute(ctx, fail); !errors.Is(err, errUpstream) {
		t.Fatalf("probe: got %v, want upstream error", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", got)
	}
	if err := b.Execute(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("got %v, want ErrOpen immediately after reopen", err)
	}
}

func TestExecuteEnforcesCallTimeout(t *testing.T) {
	b := New(Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		SuccessThreshold: 2,
		CallTimeout:      20 * time.Millisecond,
	})
	ctx := context.Background()

	start := time.Now()
	err := b.Execute(ctx, func(ctx context.Context) error {
		// Ignores its context on purpose.
		time.Sleep(500 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Execute blocked %v; timeout not enforced", elapsed)
	}
	if s := b.Snapshot(); s.Failures != 1 {
		t.Fatalf("failures = %d, want 1 (timeout counts as failure)", s.Failures)
	}
}

func TestOpenRejectionsDoNotCountAsFailures(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	before := b.Snapshot()
	for i := 0; i < 10; i++ {
		_ = b.Execute(ctx, succeed)
	}
	after := b.Snapshot()
	if before.LastFailure != after.LastFailure {
		t.Fatal("open-circuit rejection moved last_failure; reset window would never elapse")
	}
}
