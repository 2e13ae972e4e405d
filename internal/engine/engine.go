// Package engine routes queries to backends: it analyzes each query,
// selects a backend, dispatches under a time budget and cascades to the
// next-best backend on failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/allaspectsdev/modelmux/internal/backend"
	"github.com/allaspectsdev/modelmux/internal/health"
	"github.com/allaspectsdev/modelmux/internal/load"
	"github.com/allaspectsdev/modelmux/internal/perf"
	"github.com/allaspectsdev/modelmux/internal/router"
	"github.com/allaspectsdev/modelmux/internal/tracing"
)

// DefaultDispatchTimeout applies when Options.DispatchTimeout is unset.
const DefaultDispatchTimeout = 30 * time.Second

// Degraded-response reasons. They are safe to show to end users.
const (
	ReasonUnavailable = "all backends unavailable"
	ReasonExhausted   = "all backends failed"
	ReasonCancelled   = "request cancelled"
)

const degradedText = "The service is temporarily unable to answer this request. Please try again shortly."

// Options wires the engine's collaborators. Nil collaborators are created
// with defaults.
type Options struct {
	Analyzer *router.Analyzer
	Tracker  *perf.Tracker
	Balancer *load.Balancer
	Health   *health.Book
	// Breakers and Limiters are optional; nil disables them.
	Breakers *BreakerSet
	Limiters *LimiterSet

	// Weights defaults to router.DefaultWeights().
	Weights         *router.Weights
	SystemPrompt    string
	ProbeQuery      string
	DispatchTimeout time.Duration
	// Timeouts overrides DispatchTimeout per backend id.
	Timeouts      map[string]time.Duration
	Backoff       Backoff
	MaxConcurrent int
	Logger        zerolog.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	registry *router.Registry
	analyzer *router.Analyzer
	tracker  *perf.Tracker
	balancer *load.Balancer
	health   *health.Book
	breakers *BreakerSet
	limiters *LimiterSet

	weights         atomic.Pointer[router.Weights]
	systemPrompt    string
	probeQuery      string
	dispatchTimeout time.Duration
	timeouts        map[string]time.Duration
	backoff         Backoff
	admission       *semaphore.Weighted
	logger          zerolog.Logger
}

// New creates an Engine over registry.
func New(registry *router.Registry, opts Options) (*Engine, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("engine: registry must contain at least one backend")
	}

	e := &Engine{
		registry:        registry,
		analyzer:        opts.Analyzer,
		tracker:         opts.Tracker,
		balancer:        opts.Balancer,
		health:          opts.Health,
		breakers:        opts.Breakers,
		limiters:        opts.Limiters,
		systemPrompt:    opts.SystemPrompt,
		probeQuery:      opts.ProbeQuery,
		dispatchTimeout: opts.DispatchTimeout,
		timeouts:        opts.Timeouts,
		backoff:         opts.Backoff,
		logger:          opts.Logger.With().Str("component", "engine").Logger(),
	}

	if e.analyzer == nil {
		a, err := router.NewAnalyzer(0, nil, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.analyzer = a
	}
	if e.tracker == nil {
		e.tracker = perf.NewTracker(perf.SmoothingPair, 0)
	}
	if e.balancer == nil {
		e.balancer = load.NewBalancer(registry.IDs()...)
	}
	if e.health == nil {
		e.health = health.NewBook(registry.IDs()...)
	}
	if e.dispatchTimeout <= 0 {
		e.dispatchTimeout = DefaultDispatchTimeout
	}
	if e.probeQuery == "" {
		e.probeQuery = "ping"
	}
	if opts.MaxConcurrent > 0 {
		e.admission = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}

	w := router.DefaultWeights()
	if opts.Weights != nil {
		w = *opts.Weights
	}
	e.weights.Store(&w)

	return e, nil
}

// SetWeights swaps the scoring weights used by subsequent selections.
func (e *Engine) SetWeights(w router.Weights) {
	e.weights.Store(&w)
}

// Weights returns the current scoring weights.
func (e *Engine) Weights() router.Weights {
	return *e.weights.Load()
}

// Registry returns the backend registry.
func (e *Engine) Registry() *router.Registry {
	return e.registry
}

// Health returns the health book the engine selects against.
func (e *Engine) Health() *health.Book {
	return e.health
}

// Response is the result of AcceptQuery.
type Response struct {
	Text     string   `json:"response"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	QueryID   string          `json:"query_id"`
	Backend   string          `json:"backend,omitempty"`
	Attempts  int             `json:"attempts"`
	Degraded  bool            `json:"degraded,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Scores    router.Scores   `json:"scores,omitempty"`
	States    []State         `json:"states"`
	Analysis  router.Analysis `json:"analysis"`
	LatencyMs int64           `json:"latency_ms"`
}

// AcceptQuery answers query, cascading across backends on failure. Backend
// failures never surface as errors: when no backend can answer, the
// Response is marked Degraded with a user-safe Reason. The only error is
// ErrEmptyQuery.
func (e *Engine) AcceptQuery(ctx context.Context, query string, qctx any) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	queryID := uuid.NewString()
	ctx, span := tracing.StartQuerySpan(ctx, queryID)
	defer span.End()

	log := e.logger.With().Str("query_id", queryID).Logger()
	run := &queryRun{states: []State{StateReceived}}

	if e.admission != nil {
		if err := e.admission.Acquire(ctx, 1); err != nil {
			run.enter(StateFallbackError)
			return e.finish(ctx, log, run, start, queryID, router.Analysis{}, ReasonCancelled), nil
		}
		defer e.admission.Release(1)
	}

	analysis := e.analyzer.Analyze(query, qctx)
	run.enter(StateAnalyzed)
	tracing.SetAnalysisAttributes(ctx, string(analysis.Complexity), string(analysis.QueryType), analysis.ContextSizeBytes)

	descriptors := e.registry.Descriptors()
	exclude := make(map[string]bool, len(descriptors))
	maxAttempts := len(descriptors)
	reason := ReasonUnavailable

	for run.attempts < maxAttempts {
		if ctx.Err() != nil {
			reason = ReasonCancelled
			break
		}

		sel, err := router.Select(analysis, descriptors, e.snapshot(), e.Weights(), exclude)
		run.scores = sel.Scores
		if err != nil {
			break
		}
		run.enter(StateSelected)

		if run.attempts > 0 {
			if err := sleepWithContext(ctx, e.backoff.delay(run.attempts)); err != nil {
				reason = ReasonCancelled
				break
			}
		}

		run.attempts++
		run.enter(StateDispatched)
		text, err := e.dispatch(ctx, sel.BackendID, query, run.attempts, false)
		if err == nil {
			run.enter(StateSucceeded)
			run.backend = sel.BackendID
			run.text = text
			return e.finish(ctx, log, run, start, queryID, analysis, ""), nil
		}

		run.enter(StateFailed)
		exclude[sel.BackendID] = true
		if !errors.Is(err, ErrBackendUnavailable) {
			reason = ReasonExhausted
		}
		log.Warn().
			Err(err).
			Str("backend", sel.BackendID).
			Int("attempt", run.attempts).
			Bool("transient", backend.IsTransient(err)).
			Msg("dispatch failed")

		if ctx.Err() != nil {
			reason = ReasonCancelled
			break
		}
		if run.attempts < maxAttempts {
			run.enter(StateRetrySelect)
		}
	}

	run.enter(StateFallbackError)
	return e.finish(ctx, log, run, start, queryID, analysis, reason), nil
}

type queryRun struct {
	states   []State
	attempts int
	backend  string
	text     string
	scores   router.Scores
}

func (r *queryRun) enter(s State) {
	r.states = append(r.states, s)
}

func (e *Engine) finish(ctx context.Context, log zerolog.Logger, run *queryRun, start time.Time, queryID string, analysis router.Analysis, reason string) *Response {
	latency := time.Since(start)
	resp := &Response{
		Text: run.text,
		Metadata: Metadata{
			QueryID:   queryID,
			Backend:   run.backend,
			Attempts:  run.attempts,
			Scores:    run.scores,
			States:    run.states,
			Analysis:  analysis,
			LatencyMs: latency.Milliseconds(),
		},
	}
	if reason != "" {
		resp.Text = degradedText
		resp.Metadata.Degraded = true
		resp.Metadata.Reason = reason
		log.Error().
			Int("attempts", run.attempts).
			Str("reason", reason).
			Dur("latency", latency).
			Msg("query degraded")
	} else {
		log.Info().
			Str("backend", run.backend).
			Int("attempts", run.attempts).
			Str("complexity", string(analysis.Complexity)).
			Dur("latency", latency).
			Msg("query answered")
	}
	tracing.SetOutcomeAttributes(ctx, run.backend, run.attempts, resp.Metadata.Degraded)
	return resp
}

// snapshot gathers the state the Selector reads. Values may be slightly
// stale by the time they are scored.
func (e *Engine) snapshot() router.Snapshot {
	records := e.tracker.Snapshot()
	perfSamples := make(map[string]router.PerfSample, len(records))
	for id, r := range records {
		perfSamples[id] = router.PerfSample{
			TotalRequests: r.TotalRequests,
			SuccessRate:   r.SuccessRate,
			AvgLatencyMs:  r.AvgLatencyMs,
		}
	}

	unavailable := e.health.Unhealthy()
	if e.breakers != nil || e.limiters != nil {
		for _, id := range e.registry.IDs() {
			if e.breakers != nil && !e.breakers.Get(id).Ready() {
				unavailable[id] = true
			}
			if e.limiters != nil && !e.limiters.HasCapacity(id) {
				unavailable[id] = true
			}
		}
	}

	return router.Snapshot{
		Performance: perfSamples,
		Load:        e.balancer.Snapshot(),
		Unavailable: unavailable,
	}
}
