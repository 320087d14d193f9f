package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/mechafeed/internal/metrics"
)

// ProgressReporter rewrites a single status line with the source call counters.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and writes a final line.
func (p *ProgressReporter) Stop() {
	p.ticker.Stop()
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
		fmt.Fprintln(p.writer, p.line())
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	stats := p.collector.Stats(time.Since(p.start))
	fetched := stats.Operations[metrics.OpRawDataAt]
	line := fmt.Sprintf("\rCalls: %d | Fetched: %d | Failures: %d | Calls/sec: %.1f",
		stats.Total, fetched.Successes, stats.Failures, stats.CallsPerSec)
	if fetched.Total > 0 {
		line += fmt.Sprintf(" | Fetch P99: %.1fms", fetched.P99LatencyMs)
	}
	return line
}
