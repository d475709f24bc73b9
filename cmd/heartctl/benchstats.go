package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// collector aggregates results from many bench workers. All methods are safe
// for concurrent use.
type collector struct {
	mu        sync.Mutex
	logins    []time.Duration
	searches  []time.Duration
	statuses  map[int]int
	errors    int
	matched   int
	startTime time.Time
}

func newCollector() *collector {
	return &collector{statuses: make(map[int]int), startTime: time.Now()}
}

func (c *collector) addLogin(d time.Duration) {
	c.mu.Lock()
	c.logins = append(c.logins, d)
	c.mu.Unlock()
}

// addSearch records one match search. Only 200 responses count towards the
// latency distribution.
func (c *collector) addSearch(d time.Duration, status, matches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[status]++
	if status == 200 {
		c.searches = append(c.searches, d)
		c.matched += matches
	}
}

func (c *collector) addError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *collector) report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Match Bench Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", time.Since(c.startTime).Round(time.Millisecond))
	fmt.Fprintf(w, "Searches:     %d\n", len(c.searches))
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)
	if len(c.searches) > 0 {
		fmt.Fprintf(w, "Avg matches:  %.1f\n", float64(c.matched)/float64(len(c.searches)))
	}

	codes := make([]int, 0, len(c.statuses))
	for code := range c.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "HTTP %d:     %d\n", code, c.statuses[code])
	}

	if len(c.logins) > 0 {
		fmt.Fprintln(w, "\n--- Login Latency ---")
		printPercentiles(w, c.logins)
	}
	if len(c.searches) > 0 {
		fmt.Fprintln(w, "\n--- Search Latency ---")
		printPercentiles(w, c.searches)
	}
}

type percentiles struct {
	avg, p50, p95, p99, max time.Duration
}

// summarize sorts durations in place. durations must not be empty.
func summarize(durations []time.Duration) percentiles {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return percentiles{
		avg: sum / time.Duration(n),
		p50: durations[n/2],
		p95: durations[int(math.Ceil(float64(n)*0.95))-1],
		p99: durations[int(math.Ceil(float64(n)*0.99))-1],
		max: durations[n-1],
	}
}

func printPercentiles(w io.Writer, durations []time.Duration) {
	p := summarize(durations)
	fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		p.avg.Round(time.Microsecond),
		p.p50.Round(time.Microsecond),
		p.p95.Round(time.Microsecond),
		p.p99.Round(time.Microsecond),
		p.max.Round(time.Microsecond),
		len(durations),
	)
}
