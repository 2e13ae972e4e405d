package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/allaspectsdev/modelmux/internal/engine"
)

// Collector tracks live query metrics using atomic counters for lock-free,
// concurrent-safe updates.
type Collector struct {
	totalQueries int64
	succeeded    int64
	degraded     int64
	rejected     int64
	attempts     int64
	// fallbacks counts queries answered by a backend other than the first
	// one tried.
	fallbacks int64

	activeQueries int64

	served  *counterVec   // backend
	reasons *counterVec   // reason
	latency *histogramVec // outcome

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's counters.
type Stats struct {
	Uptime        string  `json:"uptime"`
	TotalQueries  int64   `json:"total_queries"`
	Succeeded     int64   `json:"succeeded"`
	Degraded      int64   `json:"degraded"`
	Rejected      int64   `json:"rejected"`
	Attempts      int64   `json:"attempts"`
	Fallbacks     int64   `json:"fallbacks"`
	SuccessRate   float64 `json:"success_rate"`
	AvgAttempts   float64 `json:"avg_attempts"`
	ActiveQueries int64   `json:"active_queries"`
}

// NewCollector creates a Collector with all counters at zero.
func NewCollector() *Collector {
	return &Collector{
		served:    newCounterVec(),
		reasons:   newCounterVec(),
		latency:   newHistogramVec(latencyBuckets),
		startTime: time.Now(),
	}
}

// Record folds one completed query into the counters.
func (c *Collector) Record(resp *engine.Response) {
	if resp == nil {
		return
	}
	md := resp.Metadata
	atomic.AddInt64(&c.totalQueries, 1)
	atomic.AddInt64(&c.attempts, int64(md.Attempts))

	outcome := "succeeded"
	if md.Degraded {
		outcome = "degraded"
		atomic.AddInt64(&c.degraded, 1)
		c.reasons.inc(map[string]string{"reason": md.Reason})
	} else {
		atomic.AddInt64(&c.succeeded, 1)
		c.served.inc(map[string]string{"backend": md.Backend})
		if md.Attempts > 1 {
			atomic.AddInt64(&c.fallbacks, 1)
		}
	}
	c.latency.observe(map[string]string{"outcome": outcome}, float64(md.LatencyMs)/1000)
}

// RecordRejected counts a request refused before reaching the engine.
func (c *Collector) RecordRejected() {
	atomic.AddInt64(&c.rejected, 1)
}

// IncrementActive increments the active query gauge.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeQueries, 1)
}

// DecrementActive decrements the active query gauge.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeQueries, -1)
}

// Stats returns a point-in-time snapshot of all counters.
func (c *Collector) Stats() *Stats {
	total := atomic.LoadInt64(&c.totalQueries)
	succeeded := atomic.LoadInt64(&c.succeeded)
	attempts := atomic.LoadInt64(&c.attempts)

	var successRate, avgAttempts float64
	if total > 0 {
		successRate = float64(succeeded) / float64(total) * 100
		avgAttempts = float64(attempts) / float64(total)
	}

	return &Stats{
		Uptime:        formatDuration(time.Since(c.startTime)),
		TotalQueries:  total,
		Succeeded:     succeeded,
		Degraded:      atomic.LoadInt64(&c.degraded),
		Rejected:      atomic.LoadInt64(&c.rejected),
		Attempts:      attempts,
		Fallbacks:     atomic.LoadInt64(&c.fallbacks),
		SuccessRate:   successRate,
		AvgAttempts:   avgAttempts,
		ActiveQueries: atomic.LoadInt64(&c.activeQueries),
	}
}

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	s := ""
	for _, part := range []struct {
		v    int
		unit string
	}{{days, "d"}, {hours, "h"}, {minutes, "m"}} {
		if part.v == 0 {
			continue
		}
		if s != "" {
			s += " "
		}
		s += strconv.Itoa(part.v) + part.unit
	}
	if s == "" {
		return "0m"
	}
	return s
}
