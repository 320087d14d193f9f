package source

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/torosent/mechafeed/internal/record"
)

// NewLimiter returns a limiter allowing rps calls per second, or nil when
// rps is not positive.
func NewLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}

type rateLimitedSource struct {
	inner   Source
	limiter *rate.Limiter
}

// WithRateLimit makes every call wait for a token from limiter. A nil limiter
// leaves src unchanged.
func WithRateLimit(src Source, limiter *rate.Limiter) Source {
	if limiter == nil {
		return src
	}
	return &rateLimitedSource{inner: src, limiter: limiter}
}

func (r *rateLimitedSource) TotalCount(ctx context.Context) (uint64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.TotalCount(ctx)
}

func (r *rateLimitedSource) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return record.RawData{}, err
	}
	return r.inner.RawDataAt(ctx, position)
}
