package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelmux/internal/config"
	"github.com/allaspectsdev/modelmux/internal/health"
	"github.com/allaspectsdev/modelmux/web"
)

// DashboardServer serves the status page and the JSON/Prometheus
// endpoints describing query throughput and per-backend state.
type DashboardServer struct {
	router    chi.Router
	collector *Collector
	source    StatsSource
	addr      string
	server    *http.Server
}

// NewDashboardServer creates a DashboardServer. allowedOrigins lists the
// origins permitted to call the API from a browser; "*" allows any.
func NewDashboardServer(collector *Collector, source StatsSource, addr string, allowedOrigins []string) *DashboardServer {
	d := &DashboardServer{
		collector: collector,
		source:    source,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(allowedOrigins))

	r.Get("/api/stats", d.handleStats)
	r.Get("/api/backends", d.handleBackends)
	r.Get("/api/backends/{id}", d.handleBackend)
	r.Get("/api/config", d.handleGetConfig)
	r.Get("/api/health", d.handleHealth)

	r.Get("/metrics", PrometheusHandler(collector, source))

	staticFS := http.FileServer(http.FS(web.StaticFS()))
	r.Handle("/static/*", http.StripPrefix("/static/", staticFS))

	r.Get("/", d.handleDashboard)

	d.router = r
	return d
}

// Handler returns the server's router.
func (d *DashboardServer) Handler() http.Handler {
	return d.router
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (d *DashboardServer) Start() error {
	d.server = &http.Server{
		Addr:         d.addr,
		Handler:      d.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", d.addr).Msg("dashboard server starting")
	if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the dashboard server.
func (d *DashboardServer) Shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Queries *Stats      `json:"queries"`
	Engine  interface{} `json:"engine,omitempty"`
}

func (d *DashboardServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Queries: d.collector.Stats()}
	if d.source != nil {
		resp.Engine = d.source.SystemStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// BackendSummary is one row of GET /api/backends.
type BackendSummary struct {
	ID            string   `json:"id"`
	StrengthTags  []string `json:"strength_tags"`
	SpeedTier     string   `json:"speed_tier"`
	CostTier      string   `json:"cost_tier"`
	Status        string   `json:"status"`
	LastError     string   `json:"last_error,omitempty"`
	Circuit       string   `json:"circuit,omitempty"`
	TotalRequests int64    `json:"total_requests"`
	SuccessRate   float64  `json:"success_rate"`
	AvgLatencyMs  float64  `json:"avg_latency_ms"`
	InFlight      int64    `json:"in_flight"`
}

func (d *DashboardServer) summaries() []BackendSummary {
	if d.source == nil {
		return []BackendSummary{}
	}
	sys := d.source.SystemStats()
	out := make([]BackendSummary, 0, len(sys.Backends))
	for _, desc := range sys.Backends {
		tags := make([]string, len(desc.StrengthTags))
		for i, t := range desc.StrengthTags {
			tags[i] = string(t)
		}
		h := sys.Health[desc.ID]
		p := sys.Performance[desc.ID]
		out = append(out, BackendSummary{
			ID:            desc.ID,
			StrengthTags:  tags,
			SpeedTier:     desc.SpeedTier.String(),
			CostTier:      desc.CostTier.String(),
			Status:        string(h.Status),
			LastError:     h.LastError,
			Circuit:       sys.Breakers[desc.ID],
			TotalRequests: p.TotalRequests,
			SuccessRate:   p.SuccessRate,
			AvgLatencyMs:  p.AvgLatencyMs,
			InFlight:      sys.Load[desc.ID].InFlight,
		})
	}
	return out
}

func (d *DashboardServer) handleBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.summaries())
}

func (d *DashboardServer) handleBackend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, s := range d.summaries() {
		if s.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "backend not found"})
}

// handleHealth reports overall service health. The service is "degraded"
// when every backend is marked unhealthy.
func (d *DashboardServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if d.source != nil {
		sys := d.source.SystemStats()
		healthy := 0
		for _, desc := range sys.Backends {
			if sys.Health[desc.ID].Status != health.StatusUnhealthy {
				healthy++
			}
		}
		body["backends_total"] = len(sys.Backends)
		body["backends_healthy"] = healthy
		if healthy == 0 && len(sys.Backends) > 0 {
			body["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleGetConfig returns the current configuration with sensitive keys redacted.
func (d *DashboardServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := config.Get()

	data, err := json.Marshal(cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	var cfgMap map[string]interface{}
	if err := json.Unmarshal(data, &cfgMap); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	redactKeys(cfgMap)
	writeJSON(w, http.StatusOK, cfgMap)
}

// handleDashboard serves the embedded HTML status page.
func (d *DashboardServer) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	data, err := web.IndexHTML()
	if err != nil {
		http.Error(w, "dashboard not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// --- helpers ---

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// redactKeys recursively walks a map and replaces any string value whose
// key contains "key", "secret", or "token" (case-insensitive) with "****".
func redactKeys(m map[string]interface{}) {
	for k, v := range m {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "key") || strings.Contains(lower, "secret") || strings.Contains(lower, "token") {
			if _, ok := v.(string); ok {
				m[k] = "****"
				continue
			}
		}
		switch child := v.(type) {
		case map[string]interface{}:
			redactKeys(child)
		case []interface{}:
			for _, item := range child {
				if sub, ok := item.(map[string]interface{}); ok {
					redactKeys(sub)
				}
			}
		}
	}
}

// corsMiddleware echoes the request origin back when it is allowed.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(allowed, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || slices.Contains(allowed, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
