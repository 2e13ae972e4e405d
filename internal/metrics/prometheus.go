package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/allaspectsdev/modelmux/internal/engine"
	"github.com/allaspectsdev/modelmux/internal/health"
)

// StatsSource supplies the engine's per-backend view.
type StatsSource interface {
	SystemStats() engine.Stats
}

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). Metrics are formatted
// by hand; source may be nil, in which case per-backend gauges are omitted.
func PrometheusHandler(collector *Collector, source StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeExposition(w, collector, source)
	}
}

func writeExposition(w io.Writer, collector *Collector, source StatsSource) {
	stats := collector.Stats()

	writeMetric(w, "modelmux_queries_total",
		"Total number of queries accepted.",
		"counter", stats.TotalQueries)

	writeMetric(w, "modelmux_queries_succeeded_total",
		"Queries answered by a backend.",
		"counter", stats.Succeeded)

	writeMetric(w, "modelmux_queries_degraded_total",
		"Queries that ended in a degraded response.",
		"counter", stats.Degraded)

	writeMetric(w, "modelmux_queries_rejected_total",
		"Requests rejected before reaching the engine.",
		"counter", stats.Rejected)

	writeMetric(w, "modelmux_dispatch_attempts_total",
		"Backend dispatch attempts across all queries.",
		"counter", stats.Attempts)

	writeMetric(w, "modelmux_fallbacks_total",
		"Queries answered after at least one cascade step.",
		"counter", stats.Fallbacks)

	writeMetric(w, "modelmux_active_queries",
		"Number of queries currently being processed.",
		"gauge", stats.ActiveQueries)

	writeMetricFloat(w, "modelmux_uptime_seconds",
		"Number of seconds since the service started.",
		"gauge", time.Since(collector.startTime).Seconds())

	writeCounterVec(w, "modelmux_backend_answers_total",
		"Queries answered, by backend.",
		collector.served)

	writeCounterVec(w, "modelmux_degraded_reasons_total",
		"Degraded responses, by reason.",
		collector.reasons)

	writeHistogramVec(w, "modelmux_query_duration_seconds",
		"End-to-end query duration in seconds, by outcome.",
		collector.latency)

	if source == nil {
		return
	}
	sys := source.SystemStats()
	ids := make([]string, 0, len(sys.Backends))
	for _, d := range sys.Backends {
		ids = append(ids, d.ID)
	}

	writeBackendGauge(w, "modelmux_backend_in_flight",
		"Requests currently dispatched to the backend.", ids,
		func(id string) float64 { return float64(sys.Load[id].InFlight) })

	writeBackendGauge(w, "modelmux_backend_peak_in_flight",
		"Highest concurrent dispatch count observed.", ids,
		func(id string) float64 { return float64(sys.Load[id].Peak) })

	writeBackendGauge(w, "modelmux_backend_requests",
		"Dispatches recorded in the backend's performance history.", ids,
		func(id string) float64 { return float64(sys.Performance[id].TotalRequests) })

	writeBackendGauge(w, "modelmux_backend_success_rate",
		"Fraction of the backend's dispatches that succeeded.", ids,
		func(id string) float64 { return sys.Performance[id].SuccessRate })

	writeBackendGauge(w, "modelmux_backend_avg_latency_ms",
		"Smoothed dispatch latency in milliseconds.", ids,
		func(id string) float64 { return sys.Performance[id].AvgLatencyMs })

	writeBackendGauge(w, "modelmux_backend_healthy",
		"1 if the last probe succeeded, 0 otherwise.", ids,
		func(id string) float64 {
			if sys.Health[id].Status == health.StatusUnhealthy {
				return 0
			}
			return 1
		})

	if len(sys.Breakers) > 0 {
		writeBackendGauge(w, "modelmux_backend_circuit_state",
			"Circuit breaker state (0=closed, 1=open, 2=half-open).", sortedKeys(sys.Breakers),
			func(id string) float64 { return breakerValue(sys.Breakers[id]) })
	}
}

func breakerValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	}
	return 0
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w io.Writer, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w io.Writer, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// writeBackendGauge writes one gauge sample per backend id.
func writeBackendGauge(w io.Writer, name, help string, ids []string, value func(id string) float64) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	for _, id := range ids {
		fmt.Fprintf(w, "%s%s %g\n", name, formatLabels(map[string]string{"backend": id}), value(id))
	}
}

// formatLabels formats a label map as Prometheus label string, e.g. {backend="a",outcome="b"}.
func formatLabels(labels map[string]string) string {
	return formatLabelsWithLe(labels, "")
}

// formatLabelsWithLe formats labels, appending an "le" label when le is set.
func formatLabelsWithLe(labels map[string]string, le string) string {
	if len(labels) == 0 && le == "" {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	if le != "" {
		if len(keys) > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "le=%q", le)
	}
	b.WriteByte('}')
	return b.String()
}

// writeCounterVec writes a labeled counter vec in Prometheus text format.
func writeCounterVec(w io.Writer, name, help string, cv *counterVec) {
	entries := cv.snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s %d\n", name, formatLabels(e.labels), e.value)
	}
}

// writeHistogramVec writes a labeled histogram vec in Prometheus text format.
func writeHistogramVec(w io.Writer, name, help string, hv *histogramVec) {
	histograms := hv.snapshot()
	if len(histograms) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", name)
	for _, h := range histograms {
		var cumulative int64
		for i, bound := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(w, "%s_bucket%s %d\n", name, formatLabelsWithLe(h.labels, fmt.Sprintf("%g", bound)), cumulative)
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", name, formatLabelsWithLe(h.labels, "+Inf"), h.count)
		labels := formatLabels(h.labels)
		fmt.Fprintf(w, "%s_sum%s %g\n", name, labels, h.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", name, labels, h.count)
	}
}
