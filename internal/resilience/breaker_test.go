package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failNTimes(n int) func(context.Context) error {
	count := 0
	return func(context.Context) error {
		if count < n {
			count++
			return errBoom
		}
		return nil
	}
}

func TestBreaker_OpensAtExactThreshold(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "test", 3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Do(context.Background(), func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if got := b.State(); got != StateClosed {
			t.Fatalf("after %d failures state = %v, want closed", i+1, got)
		}
	}

	if err := b.Do(context.Background(), func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("after threshold failures state = %v, want open", got)
	}
	if b.OpenedAt().IsZero() {
		t.Fatal("openedAt not recorded")
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "test", 3, time.Minute)

	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	if err := b.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Fatalf("failures after success = %d, want 0", got)
	}

	// Two more failures must not open: the streak restarted.
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestBreaker_OpenFailsFastWithoutInvoking(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "test", 1, time.Minute)
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	invoked := false
	err := b.Do(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("error = %v, want ErrBreakerOpen", err)
	}
	if invoked {
		t.Fatal("wrapped function invoked while breaker open")
	}
}

func TestBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "test", 1, 10*time.Millisecond)
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after successful trial = %v, want closed", got)
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Fatalf("failures after close = %d, want 0", got)
	}
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "test", 1, 10*time.Millisecond)
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	openedFirst := b.OpenedAt()

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(context.Background(), func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected trial error: %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after failed trial = %v, want open", got)
	}
	if !b.OpenedAt().After(openedFirst) {
		t.Fatal("open timer not restarted after failed trial")
	}

	// Still open: the timer restarted, so the next call fails fast.
	if err := b.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("error = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SingleTrialWhileHalfOpen(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "test", 1, 10*time.Millisecond)
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })

	time.Sleep(20 * time.Millisecond)

	trialStarted := make(chan struct{})
	trialRelease := make(chan struct{})
	go func() {
		_ = b.Do(context.Background(), func(context.Context) error {
			close(trialStarted)
			<-trialRelease
			return nil
		})
	}()
	<-trialStarted

	// A second call during the in-flight trial must fail fast.
	if err := b.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("error = %v, want ErrBreakerOpen", err)
	}
	close(trialRelease)
}

func TestBreaker_Snapshot(t *testing.T) {
	t.Parallel()
	b := NewBreaker(nil, "completion", 5, time.Minute)
	snap := b.Snapshot()
	if snap.Name != "completion" || snap.State != "closed" || snap.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
