package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Synthetic generates canned offline responses. It is only registered when a
// backend is explicitly configured with kind "synthetic", for demos and
// local runs without provider credentials.
type Synthetic struct {
	name    string
	latency time.Duration
}

// NewSynthetic creates an offline backend that waits latency before
// answering.
func NewSynthetic(name string, latency time.Duration) *Synthetic {
	return &Synthetic{name: name, latency: latency}
}

// Name returns the backend id.
func (s *Synthetic) Name() string { return s.name }

// Execute returns a deterministic summary of the query, truncated to the
// output budget (one token taken as four bytes).
func (s *Synthetic) Execute(ctx context.Context, query, _ string, budget Budget) (string, error) {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}

	words := strings.Fields(query)
	var out string
	switch {
	case len(words) == 0:
		out = "No question was provided."
	case len(words) <= 3:
		out = fmt.Sprintf("Offline answer for %q.", strings.Join(words, " "))
	default:
		out = fmt.Sprintf("Offline answer (%d words) about %q.", len(words), strings.Join(words[:3], " ")+" ...")
	}

	if limit := budget.MaxOutputTokens * 4; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
