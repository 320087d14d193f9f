// Package collection implements a lazy, append-only cached accessor over a
// remote record source. Records are fetched in fixed-size batches the first
// time the cursor walks past the cached prefix and are never fetched twice.
package collection

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
	"github.com/torosent/mechafeed/internal/tracing"
)

// DefaultBatchSize is the number of positions fetched per refill.
const DefaultBatchSize = 5

var (
	// ErrEndOfSequence signals that the collection is exhausted. It is not a failure.
	ErrEndOfSequence = errors.New("end of sequence")
	// ErrSourceShrunk is returned when the source reports fewer records than are already cached.
	ErrSourceShrunk = errors.New("source total dropped below cached prefix")
	// ErrNonContiguous is returned for a refill offset past the end of the cached prefix.
	ErrNonContiguous = errors.New("refill offset leaves a gap in the cached prefix")
)

// Stats counts the remote work a Collection has done.
type Stats struct {
	Refills      int `json:"refills" yaml:"refills"`
	CountQueries int `json:"count_queries" yaml:"count_queries"`
	Fetched      int `json:"fetched" yaml:"fetched"`
}

// Collection walks a Source forward, caching every record it produces.
// A Collection is not safe for concurrent use.
type Collection struct {
	src       source.Source
	batchSize uint64
	logger    zerolog.Logger
	tracer    trace.Tracer

	cached        []record.Record
	cursor        uint64
	total         uint64
	totalObserved bool
	stats         Stats
}

// Option configures a Collection.
type Option func(*Collection)

// WithBatchSize sets the refill window. Values below one keep the default.
func WithBatchSize(n int) Option {
	return func(c *Collection) {
		if n >= 1 {
			c.batchSize = uint64(n)
		}
	}
}

// WithLogger sets the logger used for refill events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Collection) {
		c.logger = logger
	}
}

// WithTracer records a span for every refill.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Collection) {
		c.tracer = tracer
	}
}

// New returns an empty Collection over src. No remote calls are made.
func New(src source.Source, opts ...Option) *Collection {
	c := &Collection{
		src:       src,
		batchSize: DefaultBatchSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next produces the record at the cursor, refilling the cache first when
// the cursor has moved past it. It returns ErrEndOfSequence once the last
// observed total is reached. A refill failure is returned unchanged and
// leaves the cursor where it was.
func (c *Collection) Next(ctx context.Context) (record.Record, error) {
	if c.totalObserved && c.cursor >= c.total {
		return record.Record{}, ErrEndOfSequence
	}

	if c.cursor >= uint64(len(c.cached)) {
		if err := c.Refill(ctx, c.cursor); err != nil {
			return record.Record{}, err
		}
	}

	if c.cursor < uint64(len(c.cached)) {
		rec := c.cached[c.cursor].Clone()
		c.cursor++
		return rec, nil
	}

	// The refreshed total did not cover the cursor.
	c.cursor++
	return record.Record{}, ErrEndOfSequence
}

// Refill re-queries the total count and appends every missing position in
// [offset, min(offset+batch size, total)). Positions are fetched one at a
// time in order; if one fails the ones before it stay cached.
func (c *Collection) Refill(ctx context.Context, offset uint64) (err error) {
	ctx, span := tracing.StartSpan(ctx, c.tracer, "collection.refill",
		tracing.AttrOffset.Int64(int64(offset)),
		tracing.AttrBatchSize.Int64(int64(c.batchSize)),
	)
	appended := 0
	defer func() {
		tracing.EndSpan(span, err,
			tracing.AttrAppended.Int(appended),
			tracing.AttrCached.Int(len(c.cached)),
			tracing.AttrTotal.Int64(int64(c.total)),
		)
	}()

	c.stats.Refills++

	total, err := c.src.TotalCount(ctx)
	c.stats.CountQueries++
	if err != nil {
		return fmt.Errorf("query total count: %w", err)
	}

	cachedLen := uint64(len(c.cached))
	if total < cachedLen {
		return fmt.Errorf("total %d with %d cached: %w", total, cachedLen, ErrSourceShrunk)
	}
	c.total = total
	c.totalObserved = true

	if offset >= total {
		return nil
	}
	if offset > cachedLen {
		return fmt.Errorf("offset %d with %d cached: %w", offset, cachedLen, ErrNonContiguous)
	}

	end := min(offset+c.batchSize, total)
	for position := max(offset, cachedLen); position < end; position++ {
		raw, err := c.src.RawDataAt(ctx, position)
		c.stats.Fetched++
		if err != nil {
			c.logger.Debug().Err(err).Uint64("position", position).Int("appended", appended).Msg("refill aborted")
			return fmt.Errorf("fetch position %d: %w", position, err)
		}
		if raw.Position != position {
			return fmt.Errorf("fetch position %d: source answered for position %d", position, raw.Position)
		}
		rec, err := record.FromRaw(raw)
		if err != nil {
			c.logger.Debug().Err(err).Uint64("position", position).Int("appended", appended).Msg("refill aborted")
			return err
		}
		c.cached = append(c.cached, rec)
		appended++
	}

	c.logger.Debug().
		Uint64("offset", offset).
		Int("appended", appended).
		Int("cached", len(c.cached)).
		Uint64("total", total).
		Msg("refilled")
	return nil
}

// All returns an iterator over the remaining records. Iteration stops at the
// end of the sequence; a failure is yielded once and then iteration stops.
func (c *Collection) All(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for {
			rec, err := c.Next(ctx)
			if errors.Is(err, ErrEndOfSequence) {
				return
			}
			if err != nil {
				yield(record.Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Cursor returns the position of the next record to produce.
func (c *Collection) Cursor() uint64 { return c.cursor }

// Cached returns the length of the cached prefix.
func (c *Collection) Cached() int { return len(c.cached) }

// Total returns the last observed total count and whether one was observed.
func (c *Collection) Total() (uint64, bool) { return c.total, c.totalObserved }

// BatchSize returns the refill window.
func (c *Collection) BatchSize() int { return int(c.batchSize) }

// Stats returns the remote work done so far.
func (c *Collection) Stats() Stats { return c.stats }
