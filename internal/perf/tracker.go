// Package perf tracks per-backend success rate and latency.
package perf

import (
	"fmt"
	"sync"
	"time"
)

// Smoothing selects how a new latency sample is blended into the average.
type Smoothing int

const (
	// SmoothingPair averages the previous value and the new sample equally.
	SmoothingPair Smoothing = iota
	// SmoothingEMA is a fixed-weight exponential moving average.
	SmoothingEMA
)

// ParseSmoothing converts a config value ("pair" or "ema").
func ParseSmoothing(s string) (Smoothing, error) {
	switch s {
	case "", "pair":
		return SmoothingPair, nil
	case "ema":
		return SmoothingEMA, nil
	}
	return 0, fmt.Errorf("unknown latency smoothing %q", s)
}

func (s Smoothing) String() string {
	if s == SmoothingEMA {
		return "ema"
	}
	return "pair"
}

// Record is one backend's performance history.
type Record struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	SuccessRate        float64   `json:"success_rate"`
	AvgLatencyMs       float64   `json:"avg_latency_ms"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Tracker owns the performance records. It is safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]*Record
	smoothing Smoothing
	alpha     float64
}

// NewTracker creates a Tracker. alpha is only used with SmoothingEMA and
// must lie in (0,1].
func NewTracker(smoothing Smoothing, alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	return &Tracker{
		records:   make(map[string]*Record),
		smoothing: smoothing,
		alpha:     alpha,
	}
}

// RecordOutcome folds one dispatch result into the backend's record.
func (t *Tracker) RecordOutcome(backendID string, elapsed time.Duration, success bool) {
	sample := float64(elapsed) / float64(time.Millisecond)
	if sample < 0 {
		sample = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[backendID]
	if !ok {
		r = &Record{}
		t.records[backendID] = r
	}

	r.TotalRequests++
	if success {
		r.SuccessfulRequests++
	}
	r.SuccessRate = float64(r.SuccessfulRequests) / float64(r.TotalRequests)

	switch {
	case r.TotalRequests == 1:
		r.AvgLatencyMs = sample
	case t.smoothing == SmoothingEMA:
		r.AvgLatencyMs = t.alpha*sample + (1-t.alpha)*r.AvgLatencyMs
	default:
		r.AvgLatencyMs = (r.AvgLatencyMs + sample) / 2
	}
	r.LastUpdated = time.Now()
}

// Get returns a copy of the backend's record.
func (t *Tracker) Get(backendID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[backendID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Snapshot returns copies of every record.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Record, len(t.records))
	for id, r := range t.records {
		out[id] = *r
	}
	return out
}

// Smoothing returns the configured latency filter.
func (t *Tracker) Smoothing() Smoothing {
	return t.smoothing
}
