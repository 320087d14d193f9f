package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/torosent/mechafeed/internal/record"
)

// Source supplies the size of a remote collection and the raw data of any
// position inside it. The count may change between calls.
type Source interface {
	TotalCount(ctx context.Context) (uint64, error)
	RawDataAt(ctx context.Context, position uint64) (record.RawData, error)
}

// ErrPositionOutOfRange is returned for a position at or past the total count.
var ErrPositionOutOfRange = errors.New("position out of range")

// OutOfRange wraps ErrPositionOutOfRange with the offending position.
func OutOfRange(position, total uint64) error {
	return fmt.Errorf("position %d (total %d): %w", position, total, ErrPositionOutOfRange)
}

// HTTPError represents a transport failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Func adapts a pair of functions to the Source interface.
type Func struct {
	Count func(ctx context.Context) (uint64, error)
	At    func(ctx context.Context, position uint64) (record.RawData, error)
}

func (f Func) TotalCount(ctx context.Context) (uint64, error) {
	return f.Count(ctx)
}

func (f Func) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	return f.At(ctx, position)
}

// Middleware decorates a Source.
type Middleware func(Source) Source

// Chain applies middleware to src. The first middleware is the outermost.
func Chain(src Source, mws ...Middleware) Source {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			src = mws[i](src)
		}
	}
	return src
}
