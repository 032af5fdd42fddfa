package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats aggregates results from every worker.
type Stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

// Record counts one request. statusCode is 0 when the request never got a
// response.
func (s *Stats) Record(d time.Duration, statusCode int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[statusCode]++
	s.mu.Unlock()
}

// Report is the summary printed at the end of a run.
type Report struct {
	Total, Success, Errors, CacheHits int64
	RequestsPerSec                    float64
	Min, Avg, P50, P90, P99, Max      time.Duration
	StdDev                            time.Duration
	StatusCodes                       map[int]int64
}

func (s *Stats) Report(elapsed time.Duration) Report {
	r := Report{
		Total:     s.total.Load(),
		Success:   s.success.Load(),
		Errors:    s.errors.Load(),
		CacheHits: s.cacheHits.Load(),
	}
	if elapsed > 0 {
		r.RequestsPerSec = float64(r.Total) / elapsed.Seconds()
	}

	s.mu.Lock()
	lat := slices.Clone(s.latencies)
	r.StatusCodes = make(map[int]int64, len(s.codes))
	for c, n := range s.codes {
		r.StatusCodes[c] = n
	}
	s.mu.Unlock()

	if len(lat) == 0 {
		return r
	}
	slices.Sort(lat)
	var sum time.Duration
	for _, l := range lat {
		sum += l
	}
	r.Avg = sum / time.Duration(len(lat))
	r.Min, r.Max = lat[0], lat[len(lat)-1]
	r.P50 = percentile(lat, 50)
	r.P90 = percentile(lat, 90)
	r.P99 = percentile(lat, 99)
	var sq float64
	for _, l := range lat {
		d := float64(l - r.Avg)
		sq += d * d
	}
	r.StdDev = time.Duration(math.Sqrt(sq / float64(len(lat))))
	return r
}

func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", r.Total)
	fmt.Fprintf(w, "Successful:      %d\n", r.Success)
	fmt.Fprintf(w, "Errors:          %d\n", r.Errors)
	if r.Total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(r.Errors)/float64(r.Total)*100)
		fmt.Fprintf(w, "Cache Hit Rate:  %.2f%%\n", float64(r.CacheHits)/float64(r.Total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", r.RequestsPerSec)
	}
	if r.Max > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", r.Min)
		fmt.Fprintf(w, "Avg:    %s\n", r.Avg)
		fmt.Fprintf(w, "P50:    %s\n", r.P50)
		fmt.Fprintf(w, "P90:    %s\n", r.P90)
		fmt.Fprintf(w, "P99:    %s\n", r.P99)
		fmt.Fprintf(w, "Max:    %s\n", r.Max)
		fmt.Fprintf(w, "StdDev: %s\n", r.StdDev)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(r.StatusCodes))
	for c := range r.StatusCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d: %d\n", c, r.StatusCodes[c])
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
