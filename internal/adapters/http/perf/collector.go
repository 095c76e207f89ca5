// Package perf keeps a bounded in-memory record of request timings, guard
// decisions and authentication-service calls for the admin perf page.
package perf

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is the default capacity of the ring buffer.
const DefaultRingSize = 10000

// EntryKind distinguishes what an entry measures.
type EntryKind uint8

const (
	KindRequest EntryKind = iota
	KindQuery
	KindAuthCall
	KindGuard
)

// Entry is a single record stored in the ring buffer.
type Entry struct {
	Kind       EntryKind
	Path       string // HTTP path, "store.Method", collaborator operation, or guard name
	StatusCode int    // HTTP status for requests, 0 otherwise
	Outcome    string // guard outcome ("allow", "redirect:/login", ...) for KindGuard
	DurationMs float64
	Timestamp  time.Time
}

// Collector is a fixed-size ring buffer. Writers never block on readers;
// when full the oldest entries are overwritten.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int64
}

// NewCollector creates a collector with the given ring buffer capacity.
// PRE: size > 0 (falls back to DefaultRingSize otherwise)
// POST: Returns a ready-to-use collector with pre-allocated storage
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Record appends an entry to the ring buffer.
// PRE: e is a valid Entry
// POST: Entry stored; if buffer full, oldest entry overwritten
func (c *Collector) Record(e Entry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[c.pos] = e
	c.pos = (c.pos + 1) % c.size
	c.mu.Unlock()
	atomic.AddInt64(&c.count, 1)
}

// RecordGuard stores a guard outcome without timing information.
func (c *Collector) RecordGuard(guardName, path, outcome string) {
	c.Record(Entry{
		Kind:      KindGuard,
		Path:      guardName + " " + path,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
}

// TotalRecorded returns the total number of entries ever recorded.
// PRE: none
// POST: returns count >= 0
func (c *Collector) TotalRecorded() int64 {
	if c == nil {
		return 0
	}
	return atomic.LoadInt64(&c.count)
}

// Snapshot holds aggregated data computed on read.
type Snapshot struct {
	TotalRecorded  int64          `json:"total_recorded"`
	Requests       int            `json:"requests"`
	RequestP50Ms   float64        `json:"request_p50_ms"`
	RequestP95Ms   float64        `json:"request_p95_ms"`
	RequestP99Ms   float64        `json:"request_p99_ms"`
	SlowestPaths   []PathStat     `json:"slowest_paths"`
	SlowestQueries []PathStat     `json:"slowest_queries"`
	AuthCalls      []PathStat     `json:"auth_calls"`
	GuardOutcomes  map[string]int `json:"guard_outcomes"`
}

// PathStat aggregates timing for a single key.
type PathStat struct {
	Path    string  `json:"path"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   float64 `json:"max_ms"`
	Count   int     `json:"count"`
	TotalMs float64 `json:"total_ms"`
}

// Snapshot aggregates everything recorded since the given time.
// PRE: topN > 0
// POST: Returns percentiles, top-N lists and guard outcome counts
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := make([]Entry, c.size)
	copy(buf, c.entries)
	c.mu.Unlock()

	var requestDurations []float64
	stats := map[EntryKind]map[string]*PathStat{
		KindRequest:  {},
		KindQuery:    {},
		KindAuthCall: {},
	}
	guardOutcomes := make(map[string]int)

	for _, e := range buf {
		if e.Timestamp.IsZero() || e.Timestamp.Before(since) {
			continue
		}
		if e.Kind == KindGuard {
			guardOutcomes[e.Outcome]++
			continue
		}
		if e.Kind == KindRequest {
			requestDurations = append(requestDurations, e.DurationMs)
		}
		byPath := stats[e.Kind]
		s, ok := byPath[e.Path]
		if !ok {
			s = &PathStat{Path: e.Path}
			byPath[e.Path] = s
		}
		s.Count++
		s.TotalMs += e.DurationMs
		s.MaxMs = math.Max(s.MaxMs, e.DurationMs)
	}

	snap := Snapshot{
		TotalRecorded:  c.TotalRecorded(),
		Requests:       len(requestDurations),
		SlowestPaths:   topByAvg(stats[KindRequest], topN),
		SlowestQueries: topByAvg(stats[KindQuery], topN),
		AuthCalls:      topByAvg(stats[KindAuthCall], topN),
		GuardOutcomes:  guardOutcomes,
	}
	if len(requestDurations) > 0 {
		sort.Float64s(requestDurations)
		snap.RequestP50Ms = percentile(requestDurations, 50)
		snap.RequestP95Ms = percentile(requestDurations, 95)
		snap.RequestP99Ms = percentile(requestDurations, 99)
	}
	return snap
}

// percentile returns the p-th percentile from a sorted slice, interpolating between ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func topByAvg(stats map[string]*PathStat, n int) []PathStat {
	list := make([]PathStat, 0, len(stats))
	for _, s := range stats {
		s.AvgMs = s.TotalMs / float64(s.Count)
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].AvgMs > list[j].AvgMs
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}
