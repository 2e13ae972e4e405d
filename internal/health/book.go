// Package health records backend liveness and runs the periodic probe loop.
package health

import (
	"sync"
	"time"
)

// Status is a backend's liveness verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Record is one backend's health state.
type Record struct {
	Status        Status    `json:"status"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Book owns the health records. Backends start healthy until a probe says
// otherwise. Only probe results change a record.
type Book struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewBook creates a Book with every id optimistically healthy.
func NewBook(ids ...string) *Book {
	b := &Book{records: make(map[string]*Record, len(ids)), now: time.Now}
	for _, id := range ids {
		b.records[id] = &Record{Status: StatusHealthy}
	}
	return b
}

func (b *Book) record(id string) *Record {
	r, ok := b.records[id]
	if !ok {
		r = &Record{Status: StatusHealthy}
		b.records[id] = r
	}
	return r
}

// MarkHealthy records a successful probe.
func (b *Book) MarkHealthy(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.record(id)
	r.Status = StatusHealthy
	r.LastError = ""
	r.LastCheckedAt = b.now()
}

// MarkUnhealthy records a failed probe.
func (b *Book) MarkUnhealthy(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.record(id)
	r.Status = StatusUnhealthy
	r.LastError = "probe failed"
	if err != nil {
		r.LastError = err.Error()
	}
	r.LastCheckedAt = b.now()
}

// IsHealthy reports whether id is currently healthy. Unknown ids are
// healthy.
func (b *Book) IsHealthy(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[id]
	return !ok || r.Status == StatusHealthy
}

// Get returns a copy of id's record.
func (b *Book) Get(id string) Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.records[id]; ok {
		return *r
	}
	return Record{Status: StatusHealthy}
}

// Snapshot returns copies of every record.
func (b *Book) Snapshot() map[string]Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Record, len(b.records))
	for id, r := range b.records {
		out[id] = *r
	}
	return out
}

// Unhealthy returns the set of ids currently marked unhealthy.
func (b *Book) Unhealthy() map[string]bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]bool)
	for id, r := range b.records {
		if r.Status == StatusUnhealthy {
			out[id] = true
		}
	}
	return out
}
