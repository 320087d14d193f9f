// Package metrics records latency and failure statistics for record source calls.
//
// A [Collector] keeps one HDR histogram per [Operation] so count queries and item
// fetches are reported separately:
//
//	collector := metrics.NewCollector()
//	src = source.WithMetrics(src, collector)
//	// ... walk the collection ...
//	stats := collector.Stats(elapsed)
//	fmt.Println(stats.Operations[metrics.OpRawDataAt].P99Latency)
//
// Error types are grouped under human readable labels, see [FriendlyErrorName].
//
// The Collector is safe for concurrent use.
package metrics
