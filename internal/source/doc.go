// Package source defines the record source capability consumed by the
// collection, an in-memory implementation and composable middleware.
//
// A Source answers two questions: how many records exist right now, and what
// raw data describes the record at a zero-based position. Middleware wraps a
// Source and returns another, so concerns stack outside the core:
//
//	src := source.Chain(remote,
//		func(s source.Source) source.Source { return source.WithRetry(s, policy) },
//		func(s source.Source) source.Source { return source.WithRateLimit(s, limiter) },
//	)
//
// The first middleware in the chain is the outermost.
package source
