package engine

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitSpec is a token-bucket rate (requests per second) and burst.
type LimitSpec struct {
	Rate  float64
	Burst int
}

// LimiterSet applies a token bucket per backend. Backends without an
// override share the default limit but get their own bucket.
type LimiterSet struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	def       LimitSpec
	overrides map[string]LimitSpec
}

// NewLimiterSet creates a LimiterSet.
func NewLimiterSet(def LimitSpec, overrides map[string]LimitSpec) *LimiterSet {
	return &LimiterSet{
		limiters:  make(map[string]*rate.Limiter),
		def:       def,
		overrides: overrides,
	}
}

func (s *LimiterSet) get(backendID string) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[backendID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[backendID]; ok {
		return l
	}
	lim := s.def
	if o, ok := s.overrides[backendID]; ok {
		lim = o
	}
	l = rate.NewLimiter(rate.Limit(lim.Rate), lim.Burst)
	s.limiters[backendID] = l
	return l
}

// Allow consumes a token for backendID if one is available.
func (s *LimiterSet) Allow(backendID string) bool {
	return s.get(backendID).Allow()
}

// HasCapacity reports whether a token is available without consuming it.
func (s *LimiterSet) HasCapacity(backendID string) bool {
	return s.get(backendID).Tokens() >= 1
}
