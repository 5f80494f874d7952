package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_GetOrComputeCachesValue(t *testing.T) {
	t.Parallel()
	c := NewCache(time.Minute)
	computes := 0
	compute := func(context.Context) (string, error) {
		computes++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrCompute(context.Background(), c, "k", compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "value" {
			t.Fatalf("got %q, want value", got)
		}
	}
	if computes != 1 {
		t.Fatalf("computes = %d, want 1", computes)
	}
}

func TestCache_ErrorsNotCached(t *testing.T) {
	t.Parallel()
	c := NewCache(time.Minute)
	calls := 0
	_, err := GetOrCompute(context.Background(), c, "k", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("datastore down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	got, err := GetOrCompute(context.Background(), c, "k", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", got, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCache_InvalidateForcesRecompute(t *testing.T) {
	t.Parallel()
	c := NewCache(time.Minute)
	value := "first"
	compute := func(context.Context) (string, error) { return value, nil }

	if got, _ := GetOrCompute(context.Background(), c, "k", compute); got != "first" {
		t.Fatalf("got %q, want first", got)
	}
	value = "second"
	c.Invalidate("k")
	if got, _ := GetOrCompute(context.Background(), c, "k", compute); got != "second" {
		t.Fatalf("got %q after invalidate, want second", got)
	}
}

func TestCache_InvalidatePrefix(t *testing.T) {
	t.Parallel()
	c := NewCache(time.Minute)
	keep := func(context.Context) (string, error) { return "v", nil }
	_, _ = GetOrCompute(context.Background(), c, "conv:1", keep)
	_, _ = GetOrCompute(context.Background(), c, "conv:2", keep)
	_, _ = GetOrCompute(context.Background(), c, "acct:1", keep)

	c.InvalidatePrefix("conv:")

	recomputed := 0
	count := func(context.Context) (string, error) {
		recomputed++
		return "v", nil
	}
	_, _ = GetOrCompute(context.Background(), c, "conv:1", count)
	_, _ = GetOrCompute(context.Background(), c, "conv:2", count)
	_, _ = GetOrCompute(context.Background(), c, "acct:1", count)
	if recomputed != 2 {
		t.Fatalf("recomputed = %d, want 2", recomputed)
	}
}

func TestCache_ExpiryTriggersRecompute(t *testing.T) {
	t.Parallel()
	c := NewCache(20 * time.Millisecond)
	computes := 0
	compute := func(context.Context) (int, error) {
		computes++
		return computes, nil
	}
	_, _ = GetOrCompute(context.Background(), c, "k", compute)
	time.Sleep(40 * time.Millisecond)
	got, _ := GetOrCompute(context.Background(), c, "k", compute)
	if got != 2 {
		t.Fatalf("got %d after expiry, want 2", got)
	}
}

func TestCache_ConcurrentComputesCollapse(t *testing.T) {
	t.Parallel()
	c := NewCache(time.Minute)
	var computes atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = GetOrCompute(context.Background(), c, "k", func(context.Context) (string, error) {
				computes.Add(1)
				time.Sleep(10 * time.Millisecond)
				return "v", nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if got := computes.Load(); got != 1 {
		t.Fatalf("computes = %d, want 1", got)
	}
}
