package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
	"github.com/torosent/mechafeed/internal/tracing"
)

func newMemory(n int) *source.Memory {
	m := source.NewMemory()
	for i := 0; i < n; i++ {
		m.AppendNamed(fmt.Sprintf("%d", i))
	}
	return m
}

func drain(t *testing.T, c *Collection) []record.Record {
	t.Helper()
	var out []record.Record
	for rec, err := range c.All(context.Background()) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestNewMakesNoRemoteCalls(t *testing.T) {
	m := newMemory(3)
	c := New(m)

	if m.CountCalls() != 0 || m.TotalFetches() != 0 {
		t.Fatalf("New() made remote calls: count=%d fetches=%d", m.CountCalls(), m.TotalFetches())
	}
	if c.Cursor() != 0 || c.Cached() != 0 {
		t.Errorf("cursor=%d cached=%d, want 0/0", c.Cursor(), c.Cached())
	}
	if total, observed := c.Total(); total != 0 || observed {
		t.Errorf("Total() = %d, %v, want 0, false", total, observed)
	}
	if c.BatchSize() != DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", c.BatchSize(), DefaultBatchSize)
	}
}

// Scenario A: 9 records, batch 5.
func TestRefillCapsAtTotal(t *testing.T) {
	ctx := context.Background()
	m := newMemory(9)
	c := New(m, WithBatchSize(5))

	if err := c.Refill(ctx, 0); err != nil {
		t.Fatalf("Refill(0) error = %v", err)
	}
	if c.Cached() != 5 {
		t.Fatalf("Cached() after Refill(0) = %d, want 5", c.Cached())
	}

	if err := c.Refill(ctx, 5); err != nil {
		t.Fatalf("Refill(5) error = %v", err)
	}
	if c.Cached() != 9 {
		t.Fatalf("Cached() after Refill(5) = %d, want 9", c.Cached())
	}

	names := make([]string, 0, 9)
	for _, rec := range drain(t, c) {
		names = append(names, rec.Name)
	}
	if got := strings.Join(names, ","); got != "0,1,2,3,4,5,6,7,8" {
		t.Errorf("names = %s", got)
	}
	if m.TotalFetches() != 9 {
		t.Errorf("TotalFetches() = %d, want 9 (no refetch while draining)", m.TotalFetches())
	}
}

// Scenario B: an empty source.
func TestEmptySource(t *testing.T) {
	m := newMemory(0)
	c := New(m)

	_, err := c.Next(context.Background())
	if !errors.Is(err, ErrEndOfSequence) {
		t.Fatalf("Next() error = %v, want ErrEndOfSequence", err)
	}
	if m.CountCalls() != 1 {
		t.Errorf("CountCalls() = %d, want 1", m.CountCalls())
	}
	if m.TotalFetches() != 0 {
		t.Errorf("TotalFetches() = %d, want 0", m.TotalFetches())
	}

	// Further calls stay at the end without touching the source.
	if _, err := c.Next(context.Background()); !errors.Is(err, ErrEndOfSequence) {
		t.Fatalf("second Next() error = %v, want ErrEndOfSequence", err)
	}
	if m.CountCalls() != 1 {
		t.Errorf("CountCalls() after second Next = %d, want 1", m.CountCalls())
	}
}

// Scenario C: a failure in the middle of a batch keeps the earlier positions.
func TestRefillPartialFailure(t *testing.T) {
	ctx := context.Background()
	m := newMemory(6)
	boom := errors.New("backend unavailable")
	m.FailAt(3, boom)
	c := New(m, WithBatchSize(5))

	err := c.Refill(ctx, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("Refill(0) error = %v, want %v", err, boom)
	}
	if c.Cached() != 3 {
		t.Fatalf("Cached() = %d, want 3 (positions 0-2)", c.Cached())
	}
	if m.FetchCalls(4) != 0 {
		t.Errorf("position 4 fetched after failure at 3")
	}

	// Positions already cached are served without new fetches.
	for want := uint64(0); want < 3; want++ {
		rec, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if rec.Position != want {
			t.Fatalf("Position = %d, want %d", rec.Position, want)
		}
	}

	// The cursor stays on the failing position while it keeps failing.
	if _, err := c.Next(ctx); !errors.Is(err, boom) {
		t.Fatalf("Next() at 3 error = %v, want %v", err, boom)
	}
	if c.Cursor() != 3 {
		t.Fatalf("Cursor() after failure = %d, want 3", c.Cursor())
	}

	// Once the source recovers the walk resumes where it stopped.
	m.FailAt(3, nil)
	rest := drain(t, c)
	if len(rest) != 3 || rest[0].Position != 3 || rest[2].Position != 5 {
		t.Fatalf("resumed records = %+v", rest)
	}
	for p := uint64(0); p < 6; p++ {
		want := 1
		if p == 3 {
			want = 3
		}
		if got := m.FetchCalls(p); got != want {
			t.Errorf("FetchCalls(%d) = %d, want %d", p, got, want)
		}
	}
}

func TestMalformedRecordFailsRefill(t *testing.T) {
	m := source.NewMemory()
	m.AppendNamed("ok")
	m.Append([]byte(`{"class":"scout"}`))
	c := New(m)

	if _, err := c.Next(context.Background()); err == nil {
		t.Fatal("Next() error = nil, want construction error")
	} else {
		var cerr *record.ConstructionError
		if !errors.As(err, &cerr) || cerr.Position != 1 {
			t.Fatalf("Next() error = %v, want ConstructionError at position 1", err)
		}
	}
	if c.Cached() != 1 || c.Cursor() != 0 {
		t.Errorf("cached=%d cursor=%d, want 1/0", c.Cached(), c.Cursor())
	}
}

func TestCountFailureLeavesStateUntouched(t *testing.T) {
	m := newMemory(3)
	boom := errors.New("count unavailable")
	m.FailCount(boom)
	c := New(m)

	if _, err := c.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v, want %v", err, boom)
	}
	if _, observed := c.Total(); observed {
		t.Error("Total() observed after failed count query")
	}
	if c.Cursor() != 0 || c.Cached() != 0 || m.TotalFetches() != 0 {
		t.Errorf("cursor=%d cached=%d fetches=%d, want all 0", c.Cursor(), c.Cached(), m.TotalFetches())
	}
}

// P1, P3, P4 and P5 over a range of sizes and batch sizes.
func TestWalkProperties(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 6, 10, 23} {
		for _, batch := range []int{1, 2, 5, 7, 50} {
			t.Run(fmt.Sprintf("n=%d/batch=%d", n, batch), func(t *testing.T) {
				ctx := context.Background()
				m := newMemory(n)
				c := New(m, WithBatchSize(batch))

				produced := 0
				for {
					before := c.Cursor()
					rec, err := c.Next(ctx)
					if errors.Is(err, ErrEndOfSequence) {
						break
					}
					if err != nil {
						t.Fatalf("Next() error = %v", err)
					}
					if c.Cursor() != before+1 {
						t.Fatalf("cursor moved %d -> %d, want +1", before, c.Cursor())
					}
					if rec.Position != uint64(produced) {
						t.Fatalf("Position = %d, want %d", rec.Position, produced)
					}
					if total, _ := c.Total(); uint64(c.Cached()) > total {
						t.Fatalf("cached %d exceeds total %d", c.Cached(), total)
					}
					produced++
				}

				if produced != n {
					t.Fatalf("produced %d records, want %d", produced, n)
				}
				for p := 0; p < n; p++ {
					if got := m.FetchCalls(uint64(p)); got != 1 {
						t.Errorf("FetchCalls(%d) = %d, want 1", p, got)
					}
				}
				wantRefills := (n + batch - 1) / batch
				if n == 0 {
					// An empty source still needs one count query to learn it is empty.
					wantRefills = 1
				}
				if got := c.Stats().Refills; got != wantRefills {
					t.Errorf("Refills = %d, want %d", got, wantRefills)
				}
			})
		}
	}
}

// P2: a refill at offset o appends min(batch, T-o) records.
func TestRefillBatchSizing(t *testing.T) {
	tests := []struct {
		total, batch int
		want         int
	}{
		{9, 5, 5},
		{3, 5, 3},
		{0, 5, 0},
		{5, 5, 5},
		{1, 1, 1},
	}
	for _, tt := range tests {
		c := New(newMemory(tt.total), WithBatchSize(tt.batch))
		if err := c.Refill(context.Background(), 0); err != nil {
			t.Fatalf("Refill() error = %v", err)
		}
		if c.Cached() != tt.want {
			t.Errorf("total=%d batch=%d: Cached() = %d, want %d", tt.total, tt.batch, c.Cached(), tt.want)
		}
	}
}

func TestRefillAtOrPastTotalAppendsNothing(t *testing.T) {
	ctx := context.Background()
	m := newMemory(3)
	c := New(m)
	if err := c.Refill(ctx, 0); err != nil {
		t.Fatalf("Refill(0) error = %v", err)
	}
	if err := c.Refill(ctx, 3); err != nil {
		t.Fatalf("Refill(3) error = %v", err)
	}
	if c.Cached() != 3 || m.TotalFetches() != 3 {
		t.Errorf("cached=%d fetches=%d, want 3/3", c.Cached(), m.TotalFetches())
	}
}

func TestRefillPastTotalOnEmptyCacheAppendsNothing(t *testing.T) {
	ctx := context.Background()
	m := newMemory(3)
	c := New(m, WithBatchSize(5))
	if err := c.Refill(ctx, 5); err != nil {
		t.Fatalf("Refill(5) error = %v", err)
	}
	if c.Cached() != 0 || m.TotalFetches() != 0 {
		t.Errorf("cached=%d fetches=%d, want 0/0", c.Cached(), m.TotalFetches())
	}
	if total, ok := c.Total(); !ok || total != 3 {
		t.Errorf("Total() = %d, %v, want 3, true", total, ok)
	}
	if err := c.Refill(ctx, 3); err != nil {
		t.Fatalf("Refill(3) error = %v", err)
	}
	if c.Cached() != 0 {
		t.Errorf("Cached() = %d after Refill(3), want 0", c.Cached())
	}
}

func TestRefillOverlappingOffsetSkipsCached(t *testing.T) {
	ctx := context.Background()
	m := newMemory(9)
	c := New(m, WithBatchSize(5))
	if err := c.Refill(ctx, 0); err != nil {
		t.Fatalf("Refill(0) error = %v", err)
	}
	if err := c.Refill(ctx, 2); err != nil {
		t.Fatalf("Refill(2) error = %v", err)
	}
	// [2,7) minus the cached [0,5) leaves 5 and 6.
	if c.Cached() != 7 {
		t.Fatalf("Cached() = %d, want 7", c.Cached())
	}
	for p := uint64(0); p < 7; p++ {
		if m.FetchCalls(p) != 1 {
			t.Errorf("FetchCalls(%d) = %d, want 1", p, m.FetchCalls(p))
		}
	}
}

func TestRefillRejectsGap(t *testing.T) {
	c := New(newMemory(20))
	err := c.Refill(context.Background(), 10)
	if !errors.Is(err, ErrNonContiguous) {
		t.Fatalf("Refill(10) error = %v, want ErrNonContiguous", err)
	}
	if c.Cached() != 0 {
		t.Errorf("Cached() = %d, want 0", c.Cached())
	}
}

func TestSourceGrowthBetweenRefills(t *testing.T) {
	ctx := context.Background()
	m := newMemory(6)
	c := New(m, WithBatchSize(5))

	for i := 0; i < 5; i++ {
		if _, err := c.Next(ctx); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
	}
	if total, _ := c.Total(); total != 6 {
		t.Fatalf("Total() = %d, want 6", total)
	}

	for i := 0; i < 3; i++ {
		m.AppendNamed(fmt.Sprintf("late-%d", i))
	}

	rest := drain(t, c)
	if len(rest) != 4 {
		t.Fatalf("remaining = %d, want 4 (total refreshed to 9)", len(rest))
	}
	if rest[3].Name != "late-2" {
		t.Errorf("last name = %q, want late-2", rest[3].Name)
	}
	if total, _ := c.Total(); total != 9 {
		t.Errorf("Total() = %d, want 9", total)
	}
}

func TestSourceShrinkIsAnError(t *testing.T) {
	ctx := context.Background()
	m := newMemory(8)
	c := New(m, WithBatchSize(5))
	if err := c.Refill(ctx, 0); err != nil {
		t.Fatalf("Refill(0) error = %v", err)
	}

	m.Truncate(2)
	err := c.Refill(ctx, 5)
	if !errors.Is(err, ErrSourceShrunk) {
		t.Fatalf("Refill(5) error = %v, want ErrSourceShrunk", err)
	}
	if total, _ := c.Total(); total != 8 {
		t.Errorf("Total() = %d, want the previous 8", total)
	}
}

func TestShrinkBelowCursorEndsSequence(t *testing.T) {
	ctx := context.Background()
	m := newMemory(10)
	c := New(m, WithBatchSize(5))
	for i := 0; i < 5; i++ {
		if _, err := c.Next(ctx); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
	}

	// The source now reports exactly what is cached.
	m.Truncate(5)
	before := c.Cursor()
	if _, err := c.Next(ctx); !errors.Is(err, ErrEndOfSequence) {
		t.Fatalf("Next() error = %v, want ErrEndOfSequence", err)
	}
	if c.Cursor() != before+1 {
		t.Errorf("Cursor() = %d, want %d", c.Cursor(), before+1)
	}
}

func TestProducedRecordsAreCopies(t *testing.T) {
	m := source.NewMemory([]byte(`{"name":"atlas","class":"scout"}`))
	c := New(m)

	rec, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	rec.Attributes["class"] = "tank"

	if got, _ := c.cached[0].Attribute("class"); got != "scout" {
		t.Errorf("cached attribute = %q, want scout", got)
	}
}

func TestAllStopsOnFailure(t *testing.T) {
	m := newMemory(4)
	boom := errors.New("boom")
	m.FailAt(2, boom)
	c := New(m, WithBatchSize(2))

	var got []uint64
	var gotErr error
	for rec, err := range c.All(context.Background()) {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, rec.Position)
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("All() error = %v, want %v", gotErr, boom)
	}
	if len(got) != 2 {
		t.Errorf("positions before failure = %v, want [0 1]", got)
	}
}

func TestAllBreakEarly(t *testing.T) {
	m := newMemory(12)
	c := New(m, WithBatchSize(5))
	n := 0
	for _, err := range c.All(context.Background()) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		n++
		if n == 3 {
			break
		}
	}
	if c.Cursor() != 3 || m.TotalFetches() != 5 {
		t.Errorf("cursor=%d fetches=%d, want 3/5", c.Cursor(), m.TotalFetches())
	}
}

func TestWithBatchSizeIgnoresInvalid(t *testing.T) {
	if got := New(newMemory(0), WithBatchSize(0)).BatchSize(); got != DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want default", got)
	}
	if got := New(newMemory(0), WithBatchSize(-3)).BatchSize(); got != DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want default", got)
	}
}

func TestStatsCountRemoteWork(t *testing.T) {
	m := newMemory(7)
	c := New(m, WithBatchSize(5))
	drain(t, c)

	stats := c.Stats()
	if stats.Refills != 2 || stats.CountQueries != 2 || stats.Fetched != 7 {
		t.Errorf("Stats() = %+v, want 2 refills, 2 count queries, 7 fetched", stats)
	}
}

func TestContextCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(newMemory(3))
	if _, err := c.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() error = %v, want context.Canceled", err)
	}
}

func TestRefillSpanAndLogging(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	m := newMemory(3)
	m.FailAt(2, errors.New("down"))
	c := New(m, WithTracer(tp.Tracer("test")), WithLogger(logger))

	if err := c.Refill(context.Background(), 0); err == nil {
		t.Fatal("Refill() error = nil, want down")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "collection.refill" {
		t.Fatalf("spans = %v, want one collection.refill", spans)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status.Code)
	}
	var appended int64 = -1
	for _, kv := range spans[0].Attributes {
		if kv.Key == tracing.AttrAppended {
			appended = kv.Value.AsInt64()
		}
	}
	if appended != 2 {
		t.Errorf("appended attribute = %d, want 2", appended)
	}
	if !strings.Contains(buf.String(), "refill aborted") {
		t.Errorf("log = %q, want refill aborted line", buf.String())
	}
}
