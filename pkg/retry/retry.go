// Package retry provides a context-aware retry engine with exponential
// backoff, used for calls that leave the process: the advisory service and
// external scanner invocations.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/bountyscan/bountyscan/pkg/duration"
)

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero or negative means the function is never called.
	MaxAttempts int

	// InitDelay is the backoff before the first retry. It doubles on each
	// subsequent retry.
	InitDelay time.Duration

	// MaxDelay caps any single backoff delay.
	MaxDelay time.Duration

	// Jitter adds ±25% randomization to each delay when set.
	Jitter bool
}

// DefaultConfig matches the behaviour expected of advisory calls:
// 3 attempts, exponential backoff between the shared retry bounds,
// with jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitDelay:   duration.RetryInitial,
		MaxDelay:    duration.RetryMax,
		Jitter:      true,
	}
}

// StopError wraps an error to signal that retrying is pointless, e.g. a
// malformed-response error that will not improve on a second attempt.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further attempts.
func Stop(err error) error {
	return &StopError{Err: err}
}

// Do executes fn up to cfg.MaxAttempts times. It returns nil on the first
// success, ctx.Err() if the context is cancelled while waiting, and
// otherwise the last error fn returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var stop *StopError
		if errors.As(lastErr, &stop) {
			return stop.Err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if err := sleep(ctx, cfg.delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// delay computes the backoff after the given zero-based attempt.
func (cfg Config) delay(attempt int) time.Duration {
	d := time.Duration(float64(cfg.InitDelay) * math.Pow(2, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter && d > 0 {
		// ±25%
		span := int64(d) / 2
		d = d - time.Duration(span/2) + time.Duration(rand.Int64N(span))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
