package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff spaces out cascade attempts. The zero value disables it.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// delay returns the wait before the given retry (1-based) using
// exponential growth with full jitter, clamped to Max.
func (b Backoff) delay(retry int) time.Duration {
	if b.Base <= 0 || retry <= 0 {
		return 0
	}
	d := time.Duration(float64(b.Base) * math.Pow(2, float64(retry-1)))
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// sleepWithContext waits d or until ctx is done, returning ctx.Err() in
// the latter case.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
