package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Operation names one kind of record source call.
type Operation string

const (
	OpTotalCount Operation = "total_count"
	OpRawDataAt  Operation = "raw_data_at"
)

// Collector records per-call metrics in a thread-safe manner.
type Collector struct {
	mu    sync.Mutex
	ops   map[Operation]*opCollector
	start time.Time
}

type opCollector struct {
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
}

// Stats represents aggregated metrics across all operations.
type Stats struct {
	Total       int64                        `json:"total"`
	Successes   int64                        `json:"successes"`
	Failures    int64                        `json:"failures"`
	Duration    time.Duration                `json:"-"`
	DurationMs  float64                      `json:"duration_ms"`
	CallsPerSec float64                      `json:"calls_per_sec"`
	Operations  map[Operation]OperationStats `json:"operations,omitempty"`
	Errors      map[string]int               `json:"errors,omitempty"`
}

// OperationStats holds the statistics of a single operation.
type OperationStats struct {
	Total       int64         `json:"total"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64        `json:"min_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P90LatencyMs  float64        `json:"p90_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	Errors        map[string]int `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		ops:   make(map[Operation]*opCollector),
		start: time.Now(),
	}
}

func newOpCollector() *opCollector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &opCollector{
		hist:         hdrhistogram.New(1, 60_000_000, 3),
		errorsByType: make(map[string]int64),
	}
}

// Start resets the reference time used for the calls/sec rate.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Elapsed returns the time since the collector was created or last started.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordCall records a single source call's latency and error state.
func (c *Collector) RecordCall(op Operation, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oc, ok := c.ops[op]
	if !ok {
		oc = newOpCollector()
		c.ops[op] = oc
	}

	if latency > 0 {
		us := latency.Microseconds()
		if us < oc.hist.LowestTrackableValue() {
			us = oc.hist.LowestTrackableValue()
		}
		if us > oc.hist.HighestTrackableValue() {
			us = oc.hist.HighestTrackableValue()
		}
		_ = oc.hist.RecordValue(us)
	}
	oc.sumLatency += latency

	if oc.minLatency == 0 || latency < oc.minLatency {
		oc.minLatency = latency
	}
	if latency > oc.maxLatency {
		oc.maxLatency = latency
	}

	if err == nil {
		oc.successes++
		return
	}
	oc.failures++
	oc.errorsByType[FriendlyErrorName(fmt.Sprintf("%T", err))]++
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Duration:   elapsed,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
	}

	for op, oc := range c.ops {
		opStats := oc.stats()
		if stats.Operations == nil {
			stats.Operations = make(map[Operation]OperationStats, len(c.ops))
		}
		stats.Operations[op] = opStats
		stats.Total += opStats.Total
		stats.Successes += opStats.Successes
		stats.Failures += opStats.Failures
		for k, v := range opStats.Errors {
			if stats.Errors == nil {
				stats.Errors = make(map[string]int)
			}
			stats.Errors[k] += v
		}
	}

	if elapsed > 0 && stats.Total > 0 {
		stats.CallsPerSec = float64(stats.Total) / elapsed.Seconds()
	}
	return stats
}

func (oc *opCollector) stats() OperationStats {
	total := oc.successes + oc.failures
	stats := OperationStats{
		Total:      total,
		Successes:  oc.successes,
		Failures:   oc.failures,
		MinLatency: oc.minLatency,
		MaxLatency: oc.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(oc.sumLatency) / total)
	}

	if oc.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(oc.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(oc.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(oc.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = float64(stats.MinLatency) / float64(time.Millisecond)
	stats.MaxLatencyMs = float64(stats.MaxLatency) / float64(time.Millisecond)
	stats.MeanLatencyMs = float64(stats.MeanLatency) / float64(time.Millisecond)
	stats.P50LatencyMs = float64(stats.P50Latency) / float64(time.Millisecond)
	stats.P90LatencyMs = float64(stats.P90Latency) / float64(time.Millisecond)
	stats.P99LatencyMs = float64(stats.P99Latency) / float64(time.Millisecond)

	if len(oc.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(oc.errorsByType))
		for k, v := range oc.errorsByType {
			stats.Errors[k] = int(v)
		}
	}
	return stats
}

// SortedOperations returns the operations present in s in a stable order.
func (s Stats) SortedOperations() []Operation {
	ops := make([]Operation, 0, len(s.Operations))
	for op := range s.Operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
