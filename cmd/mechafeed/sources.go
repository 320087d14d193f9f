package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/mechafeed/internal/config"
	"github.com/torosent/mechafeed/internal/filesource"
	"github.com/torosent/mechafeed/internal/httpsource"
	"github.com/torosent/mechafeed/internal/metrics"
	"github.com/torosent/mechafeed/internal/rpcsource"
	"github.com/torosent/mechafeed/internal/snapshot"
	"github.com/torosent/mechafeed/internal/source"
)

const (
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// openSource builds the configured base source. The returned close func is never nil.
func openSource(ctx context.Context, cfg *config.Config, propagate bool) (source.Source, func(), error) {
	noop := func() {}

	switch cfg.Source {
	case config.SourceHTTP:
		src, err := httpsource.New(httpsource.Options{
			BaseURL:    cfg.Target,
			CountPath:  cfg.CountPath,
			RecordPath: cfg.RecordPath,
			CountField: cfg.CountField,
			Headers:    cfg.Headers,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			Propagate:  propagate,
		})
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil

	case config.SourceRPC:
		client, err := rpcsource.NewClient(ctx, cfg.Target, cfg.Token)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to %s: %w", cfg.Target, err)
		}
		return client, client.Close, nil

	case config.SourceFile:
		src, err := filesource.Open(cfg.Target, cfg.Format)
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil

	case config.SourceSnapshot:
		store, err := snapshot.Open(cfg.Target)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.SourceMemory:
		return generate(cfg.Generate), noop, nil

	default:
		return nil, noop, fmt.Errorf("unsupported source %q", cfg.Source)
	}
}

// generate returns a memory source holding n synthetic records.
func generate(n int) *source.Memory {
	mem := source.NewMemory()
	for i := 0; i < n; i++ {
		mem.AppendNamed(fmt.Sprintf("mecha-%04d", i))
	}
	return mem
}

// instrument wraps src with the middleware a walk uses. Retries see one span
// and one log line per logical call while metrics and the rate limit apply to
// each attempt. A walk never asks for a cached position again, so there is no
// raw cache here; serve adds one in serveSource.
func instrument(src source.Source, cfg *config.Config, logger zerolog.Logger, tracer trace.Tracer, collector *metrics.Collector) source.Source {
	mws := []source.Middleware{
		func(s source.Source) source.Source { return source.WithLogging(s, logger) },
		func(s source.Source) source.Source { return source.WithTracing(s, tracer, string(cfg.Source)) },
	}
	if cfg.Retries > 0 {
		mws = append(mws, func(s source.Source) source.Source {
			return source.WithRetry(s, source.RetryPolicy{
				MaxAttempts: cfg.Retries + 1,
				ShouldRetry: source.DefaultShouldRetry,
				DelayFunc:   source.ExponentialBackoff(baseRetryDelay, maxRetryDelay),
			})
		})
	}
	if collector != nil {
		mws = append(mws, func(s source.Source) source.Source { return source.WithMetrics(s, collector) })
	}
	if limiter := source.NewLimiter(cfg.Rate); limiter != nil {
		mws = append(mws, func(s source.Source) source.Source { return source.WithRateLimit(s, limiter) })
	}
	return source.Chain(src, mws...)
}
