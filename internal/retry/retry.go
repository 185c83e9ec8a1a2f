// Package retry runs an operation repeatedly with linear or exponential
// backoff. The schedule itself is deterministic (Policy.Delay); Do adds
// bounded random jitter on top so that many clients do not retry in lockstep.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	Exponential Backoff = iota
	Linear
)

func (b Backoff) String() string {
	if b == Linear {
		return "linear"
	}
	return "exponential"
}

// Policy describes a retry schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff

	// Jitter is the fraction of the scheduled delay that may be added at
	// random (0.2 => up to +20%). The result never exceeds MaxDelay.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retried.
	Retryable func(error) bool

	// OnRetry is called before sleeping, mostly for logging.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default mirrors the policy used for idempotent reads against Pinboard.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Backoff:     Exponential,
		Jitter:      0.2,
	}
}

// Delay returns the unjittered wait after the given failed attempt (1-based):
// min(MaxDelay, BaseDelay*attempt) for linear,
// min(MaxDelay, BaseDelay*2^(attempt-1)) for exponential.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Backoff {
	case Linear:
		d = p.BaseDelay * time.Duration(attempt)
	default:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = p.BaseDelay * time.Duration(1<<shift)
	}
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// jittered adds up to Jitter*d of random delay, capped at MaxDelay.
func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	extra := time.Duration(rand.Float64() * p.Jitter * float64(d))
	d += extra
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// sleep is swapped in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return zero, errors.Join(err, ctx.Err())
		}

		delay := p.jittered(p.Delay(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, errors.Join(err, serr)
		}
	}
	return zero, lastErr
}
