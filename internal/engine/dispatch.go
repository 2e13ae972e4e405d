package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allaspectsdev/modelmux/internal/backend"
	"github.com/allaspectsdev/modelmux/internal/tracing"
)

// timeoutFor returns the dispatch budget for backendID.
func (e *Engine) timeoutFor(backendID string) time.Duration {
	if d, ok := e.timeouts[backendID]; ok && d > 0 {
		return d
	}
	return e.dispatchTimeout
}

// dispatch runs one call against backendID. It holds a load slot for the
// duration of the call and records exactly one performance outcome per
// call made. Probes bypass the rate limiter and the circuit breaker so
// that they can observe a backend the breaker has shut off.
func (e *Engine) dispatch(ctx context.Context, backendID, query string, attempt int, probe bool) (string, error) {
	entry, ok := e.registry.Lookup(backendID)
	if !ok {
		return "", &DispatchError{BackendID: backendID, Kind: ErrBackendUnavailable, Err: fmt.Errorf("unknown backend")}
	}

	if !probe {
		if e.limiters != nil && !e.limiters.Allow(backendID) {
			return "", &DispatchError{BackendID: backendID, Kind: ErrBackendUnavailable, Err: errors.New("rate limited")}
		}
		if e.breakers != nil && !e.breakers.Get(backendID).Allow() {
			return "", &DispatchError{BackendID: backendID, Kind: ErrBackendUnavailable, Err: errors.New("circuit open")}
		}
	}

	slot := e.balancer.Acquire(backendID)
	defer slot.Release()

	callCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(backendID))
	defer cancel()
	callCtx, span := tracing.StartDispatchSpan(callCtx, backendID, attempt)
	defer span.End()

	budget := backend.Budget{MaxOutputTokens: entry.Descriptor.MaxOutputTokens}
	start := time.Now()
	text, err := safeExecute(callCtx, entry.Backend, query, e.systemPrompt, budget)
	elapsed := time.Since(start)

	success := err == nil
	e.tracker.RecordOutcome(backendID, elapsed, success)
	if !probe && e.breakers != nil {
		if success {
			e.breakers.Get(backendID).RecordSuccess()
		} else {
			e.breakers.Get(backendID).RecordFailure()
		}
	}

	if success {
		return text, nil
	}

	kind := ErrBackendError
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		kind = ErrBackendTimeout
	}
	tracing.RecordError(callCtx, err)
	e.logger.Debug().
		Err(err).
		Str("backend", backendID).
		Int("attempt", attempt).
		Bool("probe", probe).
		Dur("elapsed", elapsed).
		Msg("backend call failed")
	return "", &DispatchError{BackendID: backendID, Kind: kind, Err: err}
}

// safeExecute turns a panicking backend into an ordinary failure.
func safeExecute(ctx context.Context, b backend.Backend, query, systemPrompt string, budget backend.Budget) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return b.Execute(ctx, query, systemPrompt, budget)
}

// Probe issues a lightweight query to backendID and reports whether it
// answered. It has the signature of health.ProbeFunc.
func (e *Engine) Probe(ctx context.Context, backendID string) error {
	ctx, span := tracing.StartProbeSpan(ctx, backendID)
	defer span.End()
	_, err := e.dispatch(ctx, backendID, e.probeQuery, 0, true)
	return err
}
