// Package resilience provides the shared failure-handling primitives:
// a per-dependency circuit breaker, retry with exponential backoff, and
// a TTL cache with synchronous invalidation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrBreakerOpen is returned without invoking the wrapped call while a
// breaker is open. Callers treat it as "dependency unavailable": fail
// fast, no retry budget consumed.
var ErrBreakerOpen = errors.New("dependency unavailable: circuit open")

// BreakerState is the lifecycle state of a circuit breaker.
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a process-wide circuit breaker for one named external
// dependency, shared across all tenants of that dependency. State moves
// via compare-and-swap so reads on the hot path never take a lock.
type Breaker struct {
	name             string
	failureThreshold int32
	openDuration     time.Duration
	logger           *slog.Logger

	state    atomic.Int32
	failures atomic.Int32
	openedAt atomic.Int64 // unix nanos; 0 while closed
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(log *slog.Logger, name string, failureThreshold int, openDuration time.Duration) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		name:             name,
		failureThreshold: int32(failureThreshold),
		openDuration:     openDuration,
		logger:           log.With(slog.String("breaker", name)),
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() BreakerState { return BreakerState(b.state.Load()) }

// ConsecutiveFailures returns the current consecutive-failure count.
func (b *Breaker) ConsecutiveFailures() int { return int(b.failures.Load()) }

// OpenedAt returns when the breaker last opened, or the zero time.
func (b *Breaker) OpenedAt() time.Time {
	nanos := b.openedAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Do runs fn through the breaker. While open, fn is not invoked and
// ErrBreakerOpen is returned immediately. After the open duration
// elapses, exactly one call is let through as a half-open trial; its
// outcome decides whether the breaker closes or re-opens.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	switch BreakerState(b.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		openedAt := b.openedAt.Load()
		if openedAt == 0 || time.Since(time.Unix(0, openedAt)) < b.openDuration {
			return false
		}
		// The CAS winner takes the single half-open trial; losers keep
		// failing fast until the trial resolves.
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.logger.Info("breaker half-open, allowing trial call")
			return true
		}
		return false
	default: // half-open: trial already in flight
		return false
	}
}

func (b *Breaker) record(err error) {
	if err != nil {
		if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
			b.openedAt.Store(time.Now().UnixNano())
			b.logger.Warn("breaker trial failed, re-opening",
				slog.Duration("open_duration", b.openDuration),
				slog.Any("error", err),
			)
			return
		}
		failures := b.failures.Add(1)
		if failures >= b.failureThreshold &&
			b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
			b.openedAt.Store(time.Now().UnixNano())
			b.logger.Warn("breaker opened",
				slog.Int("consecutive_failures", int(failures)),
				slog.Duration("open_duration", b.openDuration),
				slog.Any("error", err),
			)
		}
		return
	}

	b.failures.Store(0)
	if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
		b.openedAt.Store(0)
		b.logger.Info("breaker closed after successful trial")
	}
}

// BreakerSnapshot is a point-in-time view of one breaker for diagnostics.
type BreakerSnapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// Snapshot captures the breaker's current state for diagnostics output.
func (b *Breaker) Snapshot() BreakerSnapshot {
	return BreakerSnapshot{
		Name:                b.name,
		State:               b.State().String(),
		ConsecutiveFailures: b.ConsecutiveFailures(),
		OpenedAt:            b.OpenedAt(),
	}
}
