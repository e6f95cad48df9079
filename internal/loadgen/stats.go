// Package loadgen drives simulated participants against a running chat
// server over HTTP and aggregates per-operation latency for a summary report.
package loadgen

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the Collector.
const (
	OpRegister  = "register"
	OpHeartbeat = "heartbeat"
	OpPost      = "post"
	OpList      = "list"
)

// Collector aggregates latencies and errors from many participant
// goroutines. All methods are goroutine-safe.
type Collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	errors    map[string]int
	startTime time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		errors:    make(map[string]int),
		startTime: time.Now(),
	}
}

// Record adds one observation of op. A non-nil err counts as an error and
// its latency is not sampled.
func (c *Collector) Record(op string, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errors[op]++
		return
	}
	c.latencies[op] = append(c.latencies[op], d)
}

// Count returns the number of successful observations of op.
func (c *Collector) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.latencies[op])
}

// ErrorCount returns the number of failed requests across all operations.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.errors {
		total += n
	}
	return total
}

// Summary is the latency distribution of one operation.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize returns the latency distribution of op; N is zero when nothing
// was recorded.
func (c *Collector) Summarize(op string) Summary {
	c.mu.Lock()
	durations := append([]time.Duration(nil), c.latencies[op]...)
	c.mu.Unlock()
	return summarize(durations)
}

func summarize(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}

// Report writes a formatted summary with percentile distributions per
// operation.
func (c *Collector) Report(w io.Writer) {
	elapsed := time.Since(c.startTime)
	errs := c.ErrorCount()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Errors:       %d\n", errs)

	for _, op := range []string{OpRegister, OpHeartbeat, OpPost, OpList} {
		s := c.Summarize(op)
		if s.N == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", op)
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			s.Avg.Round(time.Microsecond),
			s.P50.Round(time.Microsecond),
			s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond),
			s.Max.Round(time.Microsecond),
			s.N,
		)
	}
	fmt.Fprintln(w)
}
