package engine

import (
	"sync"
	"time"
)

// BreakerState is the state of one backend's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker trips after a run of consecutive user-traffic failures and keeps
// the backend out of selection until resetTimeout has passed. It then
// admits up to halfOpenMax trial dispatches; one success closes it, one
// failure re-opens it. Breakers never touch health status.
type Breaker struct {
	mu sync.Mutex

	state            BreakerState
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int
	now              func() time.Time

	consecutiveFailures int
	trialsInFlight      int
	openedAt            time.Time
}

func newBreaker(threshold int, reset time.Duration, halfOpenMax int, now func() time.Time) *Breaker {
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}
	return &Breaker{
		failureThreshold: threshold,
		resetTimeout:     reset,
		halfOpenMax:      halfOpenMax,
		now:              now,
	}
}

// Ready reports, without changing state, whether Allow would admit a
// dispatch right now.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		return b.now().Sub(b.openedAt) >= b.resetTimeout
	case BreakerHalfOpen:
		return b.trialsInFlight < b.halfOpenMax
	}
	return true
}

// Allow admits a dispatch, moving an expired open circuit to half-open and
// reserving a trial slot there.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.trialsInFlight = 0
		fallthrough
	case BreakerHalfOpen:
		if b.trialsInFlight >= b.halfOpenMax {
			return false
		}
		b.trialsInFlight++
		return true
	}
	return true
}

// RecordSuccess closes a half-open circuit and clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.trialsInFlight = 0
	}
}

// RecordFailure extends the failure run, opening the circuit at the
// threshold or immediately when half-open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	switch b.state {
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.trialsInFlight = 0
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet holds one Breaker per backend, created lazily.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	threshold   int
	reset       time.Duration
	halfOpenMax int
	now         func() time.Time
}

// NewBreakerSet creates a BreakerSet with shared parameters.
func NewBreakerSet(threshold int, reset time.Duration, halfOpenMax int) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*Breaker),
		threshold:   threshold,
		reset:       reset,
		halfOpenMax: halfOpenMax,
		now:         time.Now,
	}
}

// Get returns the breaker for backendID.
func (s *BreakerSet) Get(backendID string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[backendID]
	if !ok {
		b = newBreaker(s.threshold, s.reset, s.halfOpenMax, s.now)
		s.breakers[backendID] = b
	}
	return b
}

// States returns the state name of every breaker created so far.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.State().String()
	}
	return out
}
