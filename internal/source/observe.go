package source

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/mechafeed/internal/metrics"
	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/tracing"
)

type metricsSource struct {
	inner     Source
	collector *metrics.Collector
}

// WithMetrics records the latency and outcome of every call in collector.
func WithMetrics(src Source, collector *metrics.Collector) Source {
	if collector == nil {
		return src
	}
	return &metricsSource{inner: src, collector: collector}
}

func (m *metricsSource) TotalCount(ctx context.Context) (uint64, error) {
	start := time.Now()
	total, err := m.inner.TotalCount(ctx)
	m.collector.RecordCall(metrics.OpTotalCount, time.Since(start), err)
	return total, err
}

func (m *metricsSource) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	start := time.Now()
	raw, err := m.inner.RawDataAt(ctx, position)
	m.collector.RecordCall(metrics.OpRawDataAt, time.Since(start), err)
	return raw, err
}

type tracingSource struct {
	inner  Source
	tracer trace.Tracer
	system string
}

// WithTracing starts a client span named after system for every call.
func WithTracing(src Source, tracer trace.Tracer, system string) Source {
	if tracer == nil {
		return src
	}
	return &tracingSource{inner: src, tracer: tracer, system: system}
}

func (t *tracingSource) TotalCount(ctx context.Context) (uint64, error) {
	ctx, span := tracing.StartClientSpan(ctx, t.tracer, t.system, string(metrics.OpTotalCount))
	total, err := t.inner.TotalCount(ctx)
	tracing.EndSpan(span, err, tracing.AttrTotal.Int64(int64(total)))
	return total, err
}

func (t *tracingSource) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	ctx, span := tracing.StartClientSpan(ctx, t.tracer, t.system, string(metrics.OpRawDataAt))
	span.SetAttributes(tracing.AttrPosition.Int64(int64(position)))
	raw, err := t.inner.RawDataAt(ctx, position)
	tracing.EndSpan(span, err)
	return raw, err
}

type loggingSource struct {
	inner  Source
	logger zerolog.Logger
}

// WithLogging writes a debug line per call and a warning per failed call.
func WithLogging(src Source, logger zerolog.Logger) Source {
	return &loggingSource{inner: src, logger: logger}
}

func (l *loggingSource) TotalCount(ctx context.Context) (uint64, error) {
	start := time.Now()
	total, err := l.inner.TotalCount(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Dur("took", time.Since(start)).Msg("total count failed")
		return total, err
	}
	l.logger.Debug().Uint64("total", total).Dur("took", time.Since(start)).Msg("total count")
	return total, nil
}

func (l *loggingSource) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	start := time.Now()
	raw, err := l.inner.RawDataAt(ctx, position)
	if err != nil {
		l.logger.Warn().Err(err).Uint64("position", position).Dur("took", time.Since(start)).Msg("fetch failed")
		return raw, err
	}
	l.logger.Debug().Uint64("position", position).Int("bytes", len(raw.Payload)).Dur("took", time.Since(start)).Msg("fetched raw data")
	return raw, nil
}
