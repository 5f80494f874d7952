package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig bounds a retry loop: up to MaxAttempts calls with delays
// growing as baseDelay * 2^(attempt-1) * rand(0.5, 1.5).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig matches the orchestrator contract of Retry(3, 1s).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// transientMarkers classify provider errors by message when no typed
// error is available, the same set of signals HTTP clients surface for
// throttling and upstream outages.
var transientMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"temporary failure",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// IsTransient reports whether err is worth retrying. Validation and
// auth failures are permanent; timeouts and connection-level errors
// are transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retry runs fn up to cfg.MaxAttempts times, backing off between
// attempts. Non-transient errors abort immediately; exhausting the
// budget surfaces the last error.
func Retry(ctx context.Context, log *slog.Logger, cfg RetryConfig, operation string, fn func(context.Context) error) error {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retry",
					slog.String("operation", operation),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			log.Debug("non-retryable error, aborting",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg.BaseDelay, attempt)
		log.Warn("retrying operation after transient error",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("retry_delay", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}

// RetryValue is Retry for calls that produce a result.
func RetryValue[T any](ctx context.Context, log *slog.Logger, cfg RetryConfig, operation string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, log, cfg, operation, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

// backoffDelay computes baseDelay * 2^(attempt-1), jittered by a
// uniform factor in [0.5, 1.5) to spread synchronized retries.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	backoff := float64(base)
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(backoff * jitter)
}
