package gateway

import (
	"sync"
	"time"
)

// MetricsEntry records the outcome of one gateway call
type MetricsEntry struct {
	Endpoint      string        `json:"endpoint"`
	Method        string        `json:"method"`
	Status        int           `json:"status"`
	Outcome       string        `json:"outcome"`
	Latency       time.Duration `json:"latency_ns"`
	Attempts      int           `json:"attempts"`
	CorrelationID string        `json:"correlation_id"`
	CacheHit      bool          `json:"cache_hit"`
	Timestamp     time.Time     `json:"timestamp"`
}

// MetricsSummary aggregates the entries currently held
type MetricsSummary struct {
	Count        int            `json:"count"`
	CacheHits    int            `json:"cache_hits"`
	Failures     int            `json:"failures"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	ByOutcome    map[string]int `json:"by_outcome"`
	Entries      []MetricsEntry `json:"entries"`
}

// Recorder is a bounded ring buffer of recent calls. Entries beyond maxCount
// overwrite the oldest; entries older than maxAge are dropped on read and prune.
type Recorder struct {
	mu      sync.Mutex
	entries []MetricsEntry
	next    int
	full    bool
	maxAge  time.Duration
	now     func() time.Time
}

// NewRecorder creates a recorder holding at most maxCount entries no older than maxAge
func NewRecorder(maxCount int, maxAge time.Duration) *Recorder {
	if maxCount <= 0 {
		maxCount = 500
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Recorder{
		entries: make([]MetricsEntry, maxCount),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record appends e, evicting the oldest entry when full
func (r *Recorder) Record(e MetricsEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns live entries, oldest first
func (r *Recorder) Snapshot() []MetricsEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live()
}

// live must be called with mu held
func (r *Recorder) live() []MetricsEntry {
	cutoff := r.now().Add(-r.maxAge)

	var ordered []MetricsEntry
	if r.full {
		ordered = append(ordered, r.entries[r.next:]...)
	}
	ordered = append(ordered, r.entries[:r.next]...)

	out := make([]MetricsEntry, 0, len(ordered))
	for _, e := range ordered {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Prune compacts the buffer, dropping entries older than maxAge
func (r *Recorder) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.live()
	size := len(r.occupied())
	removed := size - len(kept)

	r.entries = make([]MetricsEntry, len(r.entries))
	copy(r.entries, kept)
	r.next = len(kept) % len(r.entries)
	r.full = len(kept) == len(r.entries)
	return removed
}

// occupied returns the occupied slots; mu must be held
func (r *Recorder) occupied() []MetricsEntry {
	if r.full {
		return r.entries
	}
	return r.entries[:r.next]
}

// Summary aggregates the live entries
func (r *Recorder) Summary() MetricsSummary {
	entries := r.Snapshot()

	summary := MetricsSummary{
		Count:     len(entries),
		ByOutcome: make(map[string]int),
		Entries:   entries,
	}

	var total time.Duration
	for _, e := range entries {
		total += e.Latency
		summary.ByOutcome[e.Outcome]++
		if e.CacheHit {
			summary.CacheHits++
		}
		if e.Outcome != outcomeOK {
			summary.Failures++
		}
	}
	if len(entries) > 0 {
		summary.AvgLatencyMs = float64(total.Microseconds()) / float64(len(entries)) / 1000
	}
	return summary
}
