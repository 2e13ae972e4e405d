package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/modelmux/internal/engine"
	"github.com/allaspectsdev/modelmux/internal/health"
	"github.com/allaspectsdev/modelmux/internal/metrics"
	"github.com/allaspectsdev/modelmux/internal/tracing"
)

// Engine is the part of the routing engine the HTTP API needs.
type Engine interface {
	AcceptQuery(ctx context.Context, query string, qctx any) (*engine.Response, error)
	SystemStats() engine.Stats
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
	// Context is passed to the engine verbatim; it is measured, not parsed.
	Context json.RawMessage `json:"context,omitempty"`
}

// QueryHandler serves the query API on top of an Engine.
type QueryHandler struct {
	engine      Engine
	collector   *metrics.Collector
	logger      zerolog.Logger
	maxBodySize int64
}

// NewQueryHandler creates a QueryHandler. A maxBodySize of 0 means
// unlimited; collector may be nil.
func NewQueryHandler(eng Engine, collector *metrics.Collector, logger zerolog.Logger, maxBodySize int64) *QueryHandler {
	return &QueryHandler{
		engine:      eng,
		collector:   collector,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// HandleQuery decodes a QueryRequest and answers it. Degraded answers are
// still 200: the body's metadata carries degraded=true and a reason.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject()
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		logger.Error().Err(err).Msg("failed to read request body")
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject()
		logger.Debug().Err(err).Msg("invalid query body")
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.reject()
		writeJSONError(w, http.StatusBadRequest, engine.ErrEmptyQuery.Error())
		return
	}

	if h.collector != nil {
		h.collector.IncrementActive()
		defer h.collector.DecrementActive()
	}

	var qctx any
	if len(req.Context) > 0 {
		qctx = req.Context
	}
	resp, err := h.engine.AcceptQuery(r.Context(), req.Query, qctx)
	if err != nil {
		h.reject()
		if errors.Is(err, engine.ErrEmptyQuery) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error().Err(err).Msg("query failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if h.collector != nil {
		h.collector.Record(resp)
	}

	if resp.Metadata.Degraded {
		w.Header().Set(tracing.HeaderDegraded, "true")
	}
	w.Header().Set(tracing.HeaderQueryID, resp.Metadata.QueryID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) reject() {
	if h.collector != nil {
		h.collector.RecordRejected()
	}
}

// HandleHealth returns a simple JSON liveness response.
func (h *QueryHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports 503 when no backend is currently marked healthy.
func (h *QueryHandler) HandleReady(w http.ResponseWriter, _ *http.Request) {
	stats := h.engine.SystemStats()
	healthy := 0
	for _, d := range stats.Backends {
		if stats.Health[d.ID].Status != health.StatusUnhealthy {
			healthy++
		}
	}
	if healthy == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "backends_healthy": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "backends_healthy": healthy})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "request_error",
		},
	})
}
