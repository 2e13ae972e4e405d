package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProbeFunc sends one synthetic query to a backend. A nil error means the
// backend is alive.
type ProbeFunc func(ctx context.Context, backendID string) error

// MonitorConfig controls the probe loop.
type MonitorConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
}

// Monitor periodically probes every backend and updates the Book. It runs
// on its own goroutine, independent of request handling.
type Monitor struct {
	book   *Book
	ids    []string
	probe  ProbeFunc
	cfg    MonitorConfig
	logger zerolog.Logger
}

// NewMonitor creates a Monitor for ids.
func NewMonitor(book *Book, ids []string, probe ProbeFunc, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Monitor{
		book:   book,
		ids:    append([]string(nil), ids...),
		probe:  probe,
		cfg:    cfg,
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("backends", len(m.ids)).
		Msg("health monitor started")

	m.Sweep(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every backend once, with bounded fan-out, and waits for
// all probes to finish.
func (m *Monitor) Sweep(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	for _, id := range m.ids {
		g.Go(func() error {
			m.check(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) check(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := m.safeProbe(pctx, id)
	elapsed := time.Since(start)

	// A sweep cut short by shutdown says nothing about the backend.
	if err != nil && ctx.Err() != nil {
		return
	}

	wasHealthy := m.book.IsHealthy(id)
	if err != nil {
		m.book.MarkUnhealthy(id, err)
		ev := m.logger.Debug()
		if wasHealthy {
			ev = m.logger.Warn()
		}
		ev.Err(err).Str("backend", id).Dur("latency", elapsed).Msg("probe failed, backend unhealthy")
		return
	}

	m.book.MarkHealthy(id)
	if !wasHealthy {
		m.logger.Info().Str("backend", id).Dur("latency", elapsed).Msg("backend recovered")
	} else {
		m.logger.Debug().Str("backend", id).Dur("latency", elapsed).Msg("probe ok")
	}
}

func (m *Monitor) safeProbe(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("backend", id).Msg("probe panicked")
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return m.probe(ctx, id)
}
