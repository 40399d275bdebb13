// Package retry implements retry policies for outbound I/O.
//
// Policies are plain data shared across the RPC gateway, the sports-data
// client and the transaction sender, so backoff behaviour is configured in
// one place instead of being re-implemented per adapter.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes how an operation is retried after transient failures.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	// A value of 1 disables retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff growth.
	MaxBackoff time.Duration

	// Multiplier is applied to the backoff after each retry (default 2.0).
	Multiplier float64

	// Jitter adds rand(0, backoff) to each delay to avoid synchronised
	// retries across tasks.
	Jitter bool
}

// DefaultPolicy matches the gateway defaults: 3 attempts, 500ms initial
// backoff doubling up to 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// RetryableFunc reports whether an error is worth retrying.
type RetryableFunc func(error) bool

// OnRetryFunc is invoked before each retry (1-indexed attempt), typically
// for logging.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do runs fn under the policy. It returns fn's result on first success, the
// error unchanged when isRetryable rejects it, and the last error wrapped
// once the attempt budget is spent. Context cancellation interrupts the
// backoff sleep.
func Do[T any](ctx context.Context, p Policy, isRetryable RetryableFunc, onRetry OnRetryFunc, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff
			if p.Jitter {
				delay += time.Duration(rand.Int63n(int64(backoff)))
			}
			if onRetry != nil {
				onRetry(attempt-1, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry interrupted: %w", ctx.Err())
			case <-time.After(delay):
			}

			backoff = time.Duration(float64(backoff) * p.Multiplier)
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}

// DoVoid is Do for functions without a result.
func DoVoid(ctx context.Context, p Policy, isRetryable RetryableFunc, onRetry OnRetryFunc, fn func() error) error {
	_, err := Do(ctx, p, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
