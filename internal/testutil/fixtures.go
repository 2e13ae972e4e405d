package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/allaspectsdev/modelmux/internal/backend"
	"github.com/allaspectsdev/modelmux/internal/router"
)

// ErrFake is the error a failing FakeBackend returns.
var ErrFake = errors.New("fake backend failure")

// FakeBackend is a scriptable backend.Backend. The zero value answers
// immediately with "ok from <ID>".
type FakeBackend struct {
	ID string
	// Delay is how long Execute blocks before answering. A cancelled
	// context ends the wait early with ctx.Err().
	Delay time.Duration
	// Fail makes Execute return ErrFake after Delay.
	Fail bool
	// Hang blocks until the context is done.
	Hang bool
	// Started, if set, receives a value when Execute begins.
	Started chan struct{}

	calls atomic.Int64

	mu          sync.Mutex
	lastPrompt  string
	lastBudget  backend.Budget
	lastQueries []string
}

// Name returns the backend id.
func (f *FakeBackend) Name() string { return f.ID }

// Execute follows the script.
func (f *FakeBackend) Execute(ctx context.Context, query, systemPrompt string, budget backend.Budget) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastPrompt = systemPrompt
	f.lastBudget = budget
	f.lastQueries = append(f.lastQueries, query)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- struct{}{}:
		default:
		}
	}

	if f.Hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.Delay > 0 {
		t := time.NewTimer(f.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if f.Fail {
		return "", ErrFake
	}
	return "ok from " + f.ID, nil
}

// Calls returns how many times Execute was invoked.
func (f *FakeBackend) Calls() int64 { return f.calls.Load() }

// LastPrompt returns the system prompt of the most recent call.
func (f *FakeBackend) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

// LastBudget returns the budget of the most recent call.
func (f *FakeBackend) LastBudget() backend.Budget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBudget
}

// Queries returns every query received, in order.
func (f *FakeBackend) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lastQueries...)
}

// Descriptor returns a medium-cost descriptor with generous limits.
func Descriptor(id string, speed router.SpeedTier, tags ...router.Tag) router.Descriptor {
	return router.Descriptor{
		ID:              id,
		StrengthTags:    tags,
		SpeedTier:       speed,
		CostTier:        router.CostMedium,
		MaxOutputTokens: 1024,
		ContextWindow:   32000,
	}
}

// NewRegistry registers each fake under the paired descriptor, in order.
func NewRegistry(t *testing.T, pairs ...Pair) *router.Registry {
	t.Helper()
	entries := make([]router.Entry, len(pairs))
	for i, p := range pairs {
		entries[i] = router.Entry{Descriptor: p.Descriptor, Backend: p.Backend}
	}
	r, err := router.NewRegistry(entries...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

// Pair couples a descriptor with the backend that serves it.
type Pair struct {
	Descriptor router.Descriptor
	Backend    backend.Backend
}

// SampleContext is a structured context payload larger than the default
// large-context threshold.
func SampleContext() map[string]any {
	rows := make([]map[string]any, 0, 200)
	for i := range 200 {
		rows = append(rows, map[string]any{
			"candidate_id": i,
			"name":         "Candidate Number",
			"score":        float64(i) / 2,
			"stage":        "interview",
		})
	}
	return map[string]any{"candidates": rows}
}
