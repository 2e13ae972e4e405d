// Package load counts in-flight requests per backend.
package load

import (
	"sync"
	"sync/atomic"
)

type counter struct {
	inFlight atomic.Int64
	peak     atomic.Int64
	total    atomic.Int64
}

// Balancer holds one counter per backend. Counters are created on first
// use and never removed. It is safe for concurrent use.
type Balancer struct {
	counters sync.Map // string -> *counter
}

// NewBalancer creates a Balancer, optionally pre-registering ids so they
// appear in snapshots before their first request.
func NewBalancer(ids ...string) *Balancer {
	b := &Balancer{}
	for _, id := range ids {
		b.counter(id)
	}
	return b
}

func (b *Balancer) counter(id string) *counter {
	if c, ok := b.counters.Load(id); ok {
		return c.(*counter)
	}
	c, _ := b.counters.LoadOrStore(id, &counter{})
	return c.(*counter)
}

// Slot is one acquired unit of a backend's load counter.
type Slot struct {
	backendID string
	c         *counter
	once      sync.Once
}

// Acquire increments the backend's counter and returns the Slot that
// undoes it. Callers pair it with defer slot.Release().
func (b *Balancer) Acquire(backendID string) *Slot {
	c := b.counter(backendID)
	n := c.inFlight.Add(1)
	c.total.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Slot{backendID: backendID, c: c}
}

// BackendID returns the backend this slot belongs to.
func (s *Slot) BackendID() string {
	return s.backendID
}

// Release decrements the counter. Only the first call has an effect and
// the counter never drops below zero.
func (s *Slot) Release() {
	s.once.Do(func() {
		for {
			cur := s.c.inFlight.Load()
			if cur <= 0 || s.c.inFlight.CompareAndSwap(cur, cur-1) {
				return
			}
		}
	})
}

// InFlight returns the backend's current in-flight count.
func (b *Balancer) InFlight(backendID string) int64 {
	if c, ok := b.counters.Load(backendID); ok {
		return c.(*counter).inFlight.Load()
	}
	return 0
}

// Stats is a point-in-time view of one backend's load.
type Stats struct {
	InFlight int64 `json:"in_flight"`
	Peak     int64 `json:"peak"`
	Total    int64 `json:"total"`
}

// Snapshot returns the in-flight counts of every known backend.
func (b *Balancer) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	b.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*counter).inFlight.Load()
		return true
	})
	return out
}

// Stats returns full load statistics for every known backend.
func (b *Balancer) Stats() map[string]Stats {
	out := make(map[string]Stats)
	b.counters.Range(func(k, v any) bool {
		c := v.(*counter)
		out[k.(string)] = Stats{
			InFlight: c.inFlight.Load(),
			Peak:     c.peak.Load(),
			Total:    c.total.Load(),
		}
		return true
	})
	return out
}
