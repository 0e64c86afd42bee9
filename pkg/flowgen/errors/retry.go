package errors

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

// NoRetry makes a single attempt.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// DefaultRetry retries twice with exponential backoff.
var DefaultRetry = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// Transient is implemented by errors that know whether a retry may succeed.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err may succeed on retry. Context errors and
// rejections never do; errors implementing Transient decide for
// themselves; anything else is assumed transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return !IsRejection(err)
}

// Retry calls fn until it succeeds, the policy is exhausted, fn returns a
// non-retryable error, or ctx is done. It returns the number of attempts
// made alongside the last result.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	backoff := p.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, attempt, nil
		}
		lastErr = err
		if attempt == attempts || !retryable(err) {
			return zero, attempt, err
		}

		timer := time.NewTimer(withJitter(backoff, p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, lastErr
		case <-timer.C:
		}

		if p.BackoffFactor > 0 {
			backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		}
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return zero, attempts, lastErr
}

// withJitter returns base +/- (base * jitter * random).
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	return time.Duration(float64(base) + float64(base)*jitter*(rand.Float64()*2-1))
}
