package source

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/torosent/mechafeed/internal/record"
)

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

type retrySource struct {
	inner  Source
	policy RetryPolicy
}

// WithRetry wraps src so that failed calls are repeated according to policy.
func WithRetry(src Source, policy RetryPolicy) Source {
	if policy.MaxAttempts <= 1 {
		return src
	}
	return &retrySource{inner: src, policy: policy}
}

func (r *retrySource) TotalCount(ctx context.Context) (uint64, error) {
	var total uint64
	err := r.do(ctx, func() error {
		var err error
		total, err = r.inner.TotalCount(ctx)
		return err
	})
	return total, err
}

func (r *retrySource) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	var raw record.RawData
	err := r.do(ctx, func() error {
		var err error
		raw, err = r.inner.RawDataAt(ctx, position)
		return err
	})
	return raw, err
}

func (r *retrySource) do(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}

		// Don't delay after the last attempt.
		if attempt < r.policy.MaxAttempts {
			if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
				return lastErr
			}
			var delay time.Duration
			if r.policy.DelayFunc != nil {
				delay = r.policy.DelayFunc(attempt, lastErr)
			} else {
				delay = r.policy.Delay
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}

// DefaultShouldRetry retries transient failures: rate limiting, server
// errors and plain I/O errors. Cancellation, out of range positions,
// malformed records and other client errors are final.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrPositionOutOfRange) {
		return false
	}
	var cerr *record.ConstructionError
	if errors.As(err, &cerr) {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode == http.StatusTooManyRequests || herr.StatusCode >= 500
	}
	return true
}

// ExponentialBackoff returns a DelayFunc doubling base on every attempt up to
// max, with up to 20% random jitter added.
func ExponentialBackoff(base, max time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		if base <= 0 {
			return 0
		}
		delay := base
		for i := 1; i < attempt && delay < max; i++ {
			delay *= 2
		}
		if max > 0 && delay > max {
			delay = max
		}
		if jitter := int64(delay) / 5; jitter > 0 {
			delay += time.Duration(rand.Int64N(jitter))
		}
		return delay
	}
}
