package engine

import (
	"github.com/allaspectsdev/modelmux/internal/health"
	"github.com/allaspectsdev/modelmux/internal/load"
	"github.com/allaspectsdev/modelmux/internal/perf"
	"github.com/allaspectsdev/modelmux/internal/router"
)

// Stats is a read-only view of the engine's state.
type Stats struct {
	Backends    []router.Descriptor      `json:"backends"`
	Performance map[string]perf.Record   `json:"performance"`
	Health      map[string]health.Record `json:"health"`
	Load        map[string]load.Stats    `json:"load"`
	Breakers    map[string]string        `json:"breakers,omitempty"`
	Weights     router.Weights           `json:"weights"`
	Smoothing   string                   `json:"latency_smoothing"`
}

// SystemStats returns descriptors, performance records, health records and
// in-flight counts for every registered backend. Backends that have not
// been dispatched yet appear with zero-valued records.
func (e *Engine) SystemStats() Stats {
	ids := e.registry.IDs()

	perfRecords := e.tracker.Snapshot()
	healthRecords := e.health.Snapshot()
	loadStats := e.balancer.Stats()
	for _, id := range ids {
		if _, ok := perfRecords[id]; !ok {
			perfRecords[id] = perf.Record{SuccessRate: 1}
		}
		if _, ok := healthRecords[id]; !ok {
			healthRecords[id] = health.Record{Status: health.StatusHealthy}
		}
		if _, ok := loadStats[id]; !ok {
			loadStats[id] = load.Stats{}
		}
	}

	s := Stats{
		Backends:    e.registry.Descriptors(),
		Performance: perfRecords,
		Health:      healthRecords,
		Load:        loadStats,
		Weights:     e.Weights(),
		Smoothing:   e.tracker.Smoothing().String(),
	}
	if e.breakers != nil {
		s.Breakers = e.breakers.States()
	}
	return s
}
