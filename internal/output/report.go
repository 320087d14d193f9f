package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/torosent/mechafeed/internal/collection"
	"github.com/torosent/mechafeed/internal/metrics"
)

// Summary describes one finished walk.
type Summary struct {
	Session    string           `json:"session"`
	Source     string           `json:"source"`
	Emitted    int              `json:"emitted"`
	Total      uint64           `json:"total"`
	Elapsed    time.Duration    `json:"-"`
	ElapsedMs  float64          `json:"elapsed_ms"`
	Collection collection.Stats `json:"collection"`
	Calls      metrics.Stats    `json:"calls"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n--- Walk Summary ---")
	fmt.Fprintf(w, "Session:           %s\n", s.Session)
	fmt.Fprintf(w, "Source:            %s\n", s.Source)
	fmt.Fprintf(w, "Records Emitted:   %d\n", s.Emitted)
	fmt.Fprintf(w, "Total Count:       %d\n", s.Total)
	fmt.Fprintf(w, "Duration:          %s\n", s.Elapsed)
	fmt.Fprintln(w, "\nCollection:")
	fmt.Fprintf(w, "  Refills:         %d\n", s.Collection.Refills)
	fmt.Fprintf(w, "  Count Queries:   %d\n", s.Collection.CountQueries)
	fmt.Fprintf(w, "  Fetched:         %d\n", s.Collection.Fetched)

	if s.Calls.Total == 0 {
		return
	}
	fmt.Fprintln(w, "\nSource Calls:")
	fmt.Fprintf(w, "  Total:           %d\n", s.Calls.Total)
	fmt.Fprintf(w, "  Failed:          %d\n", s.Calls.Failures)
	fmt.Fprintf(w, "  Calls/sec:       %.2f\n", s.Calls.CallsPerSec)
	for _, op := range s.Calls.SortedOperations() {
		st := s.Calls.Operations[op]
		fmt.Fprintf(
			w,
			"  - %s: total=%d, failures=%d, mean=%s, p50=%s, p99=%s\n",
			op,
			st.Total,
			st.Failures,
			st.MeanLatency,
			st.P50Latency,
			st.P99Latency,
		)
	}

	if len(s.Calls.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		names := make([]string, 0, len(s.Calls.Errors))
		for name := range s.Calls.Errors {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return s.Calls.Errors[names[i]] > s.Calls.Errors[names[j]]
		})
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, s.Calls.Errors[name])
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, s Summary) error {
	s.ElapsedMs = float64(s.Elapsed) / float64(time.Millisecond)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
