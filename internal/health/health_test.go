package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_OptimisticDefault(t *testing.T) {
	b := NewBook("a")
	assert.True(t, b.IsHealthy("a"))
	assert.True(t, b.IsHealthy("never-registered"))
	assert.Equal(t, StatusHealthy, b.Get("a").Status)
	assert.True(t, b.Get("a").LastCheckedAt.IsZero())
	assert.Empty(t, b.Unhealthy())
}

func TestBook_Transitions(t *testing.T) {
	b := NewBook("a", "b")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	b.MarkUnhealthy("a", errors.New("connection refused"))
	r := b.Get("a")
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "connection refused", r.LastError)
	assert.Equal(t, fixed, r.LastCheckedAt)
	assert.False(t, b.IsHealthy("a"))
	assert.Equal(t, map[string]bool{"a": true}, b.Unhealthy())

	b.MarkHealthy("a")
	r = b.Get("a")
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Empty(t, r.LastError)

	b.MarkUnhealthy("b", nil)
	assert.Equal(t, "probe failed", b.Get("b").LastError)
	assert.Len(t, b.Snapshot(), 2)
}

func TestMonitor_SweepMarksResults(t *testing.T) {
	book := NewBook("up", "down", "boom")
	probe := func(ctx context.Context, id string) error {
		switch id {
		case "down":
			return errors.New("503")
		case "boom":
			panic("bad backend")
		}
		return nil
	}
	m := NewMonitor(book, []string{"up", "down", "boom"}, probe, MonitorConfig{Concurrency: 2}, zerolog.Nop())

	m.Sweep(context.Background())

	assert.True(t, book.IsHealthy("up"))
	assert.False(t, book.IsHealthy("down"))
	assert.False(t, book.IsHealthy("boom"))
	assert.Contains(t, book.Get("boom").LastError, "panicked")
	assert.False(t, book.Get("up").LastCheckedAt.IsZero())
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	book := NewBook("slow")
	probe := func(ctx context.Context, id string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := NewMonitor(book, []string{"slow"}, probe, MonitorConfig{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	m.Sweep(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, book.IsHealthy("slow"))
	assert.Contains(t, book.Get("slow").LastError, "deadline")
}

func TestMonitor_Recovery(t *testing.T) {
	book := NewBook("a")
	var fail atomic.Bool
	fail.Store(true)
	probe := func(ctx context.Context, id string) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}
	m := NewMonitor(book, []string{"a"}, probe, MonitorConfig{}, zerolog.Nop())

	m.Sweep(context.Background())
	require.False(t, book.IsHealthy("a"))

	fail.Store(false)
	m.Sweep(context.Background())
	assert.True(t, book.IsHealthy("a"))
}

func TestMonitor_BoundedFanOut(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	book := NewBook(ids...)

	var cur, peak atomic.Int32
	probe := func(ctx context.Context, id string) error {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		cur.Add(-1)
		return nil
	}
	m := NewMonitor(book, ids, probe, MonitorConfig{Concurrency: 2}, zerolog.Nop())
	m.Sweep(context.Background())

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, book.Snapshot(), len(ids))
}

func TestMonitor_RunSweepsOnStartAndTick(t *testing.T) {
	book := NewBook("a")
	var mu sync.Mutex
	calls := 0
	probe := func(ctx context.Context, id string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}
	m := NewMonitor(book, []string{"a"}, probe, MonitorConfig{Interval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_CancelledSweepLeavesStatus(t *testing.T) {
	book := NewBook("a")
	ctx, cancel := context.WithCancel(context.Background())
	probe := func(pctx context.Context, id string) error {
		cancel()
		<-pctx.Done()
		return pctx.Err()
	}
	m := NewMonitor(book, []string{"a"}, probe, MonitorConfig{}, zerolog.Nop())
	m.Sweep(ctx)

	assert.True(t, book.IsHealthy("a"), "shutdown must not mark backends unhealthy")
}
