package source

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/torosent/mechafeed/internal/record"
)

// RawCache is a Source that keeps recently fetched raw data in an expiring
// LRU keyed by position. The total count is always asked of the inner source.
type RawCache struct {
	inner Source
	cache *expirable.LRU[uint64, record.RawData]
}

// WithRawCache wraps src with a raw data cache of size entries living ttl.
// A size below one leaves src unchanged.
func WithRawCache(src Source, size int, ttl time.Duration) Source {
	if size < 1 {
		return src
	}
	return NewRawCache(src, size, ttl)
}

// NewRawCache builds a RawCache; size must be positive.
func NewRawCache(src Source, size int, ttl time.Duration) *RawCache {
	return &RawCache{
		inner: src,
		cache: expirable.NewLRU[uint64, record.RawData](size, nil, ttl),
	}
}

func (c *RawCache) TotalCount(ctx context.Context) (uint64, error) {
	return c.inner.TotalCount(ctx)
}

func (c *RawCache) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	if raw, ok := c.cache.Get(position); ok {
		return cloneRaw(raw), nil
	}
	raw, err := c.inner.RawDataAt(ctx, position)
	if err != nil {
		return record.RawData{}, err
	}
	c.cache.Add(position, cloneRaw(raw))
	return raw, nil
}

// Len returns the number of cached positions.
func (c *RawCache) Len() int {
	return c.cache.Len()
}

// Purge drops every cached position.
func (c *RawCache) Purge() {
	c.cache.Purge()
}

func cloneRaw(raw record.RawData) record.RawData {
	raw.Payload = append([]byte(nil), raw.Payload...)
	return raw
}
