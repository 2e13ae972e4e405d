package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.APIPort < 1 || cfg.Server.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.api_port must be between 1 and 65535, got %d", cfg.Server.APIPort))
	}
	if cfg.Server.DashboardPort < 1 || cfg.Server.DashboardPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.dashboard_port must be between 1 and 65535, got %d", cfg.Server.DashboardPort))
	}
	if cfg.Dashboard.Enabled && cfg.Server.APIPort == cfg.Server.DashboardPort {
		errs = append(errs, fmt.Sprintf("server.api_port and server.dashboard_port must differ, both are %d", cfg.Server.APIPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Backend validation
	seen := make(map[string]bool, len(cfg.Backends))
	enabled := 0
	for i, b := range cfg.Backends {
		prefix := fmt.Sprintf("backends[%d]", i)
		if b.ID == "" {
			errs = append(errs, prefix+".id must not be empty")
		} else {
			prefix = fmt.Sprintf("backends[%d] (%s)", i, b.ID)
			if seen[b.ID] {
				errs = append(errs, fmt.Sprintf("%s: duplicate backend id", prefix))
			}
			seen[b.ID] = true
		}
		if b.Enabled {
			enabled++
		}
		if !isValidEnum(b.Kind, ValidBackendKinds) {
			errs = append(errs, fmt.Sprintf("%s.kind must be one of %v, got %q", prefix, ValidBackendKinds, b.Kind))
		}
		if b.Kind == "http" && b.APIBase == "" {
			errs = append(errs, prefix+".api_base must be set for http backends")
		}
		if b.Kind != "synthetic" && b.Model == "" {
			errs = append(errs, prefix+".model must not be empty")
		}
		if !isValidEnum(b.SpeedTier, ValidSpeedTiers) {
			errs = append(errs, fmt.Sprintf("%s.speed_tier must be one of %v, got %q", prefix, ValidSpeedTiers, b.SpeedTier))
		}
		if !isValidEnum(b.CostTier, ValidCostTiers) {
			errs = append(errs, fmt.Sprintf("%s.cost_tier must be one of %v, got %q", prefix, ValidCostTiers, b.CostTier))
		}
		for _, tag := range b.StrengthTags {
			if !isValidEnum(tag, ValidStrengthTags) {
				errs = append(errs, fmt.Sprintf("%s.strength_tags: unknown tag %q (allowed %v)", prefix, tag, ValidStrengthTags))
			}
		}
		if b.MaxOutputTokens <= 0 {
			errs = append(errs, fmt.Sprintf("%s.max_output_tokens must be positive, got %d", prefix, b.MaxOutputTokens))
		}
		if b.ContextWindow <= 0 {
			errs = append(errs, fmt.Sprintf("%s.context_window must be positive, got %d", prefix, b.ContextWindow))
		}
		if b.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("%s.timeout must be non-negative", prefix))
		}
	}
	if enabled == 0 {
		errs = append(errs, "at least one backend must be enabled")
	}

	// Routing validation
	if cfg.Routing.ProbeIntervalSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("routing.probe_interval_seconds must be positive, got %d", cfg.Routing.ProbeIntervalSeconds))
	}
	if cfg.Routing.ProbeTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("routing.probe_timeout_seconds must be positive, got %d", cfg.Routing.ProbeTimeoutSeconds))
	}
	if cfg.Routing.ProbeConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("routing.probe_concurrency must be at least 1, got %d", cfg.Routing.ProbeConcurrency))
	}
	if cfg.Routing.DispatchTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("routing.dispatch_timeout_seconds must be positive, got %d", cfg.Routing.DispatchTimeoutSeconds))
	}
	if !isValidEnum(cfg.Routing.LatencySmoothing, ValidLatencyModes) {
		errs = append(errs, fmt.Sprintf("routing.latency_smoothing must be one of %v, got %q", ValidLatencyModes, cfg.Routing.LatencySmoothing))
	}
	if cfg.Routing.EMAAlpha <= 0 || cfg.Routing.EMAAlpha > 1 {
		errs = append(errs, fmt.Sprintf("routing.ema_alpha must be in (0, 1], got %g", cfg.Routing.EMAAlpha))
	}
	w := cfg.Routing.Weights
	if w.PriorSuccessRate < 0 || w.PriorSuccessRate > 1 {
		errs = append(errs, fmt.Sprintf("routing.weights.prior_success_rate must be between 0 and 1, got %g", w.PriorSuccessRate))
	}
	if w.PriorLatencyMs < 0 {
		errs = append(errs, fmt.Sprintf("routing.weights.prior_latency_ms must be non-negative, got %g", w.PriorLatencyMs))
	}
	if w.LoadPenalty < 0 || w.CostPenalty < 0 || w.LatencyPenaltyPerSecond < 0 || w.LatencyPenaltyCap < 0 {
		errs = append(errs, "routing.weights penalties must be non-negative")
	}
	if w.LargeContextBytes < 0 {
		errs = append(errs, fmt.Sprintf("routing.weights.large_context_bytes must be non-negative, got %d", w.LargeContextBytes))
	}

	// Engine validation
	if cfg.Engine.MaxConcurrent < 0 {
		errs = append(errs, fmt.Sprintf("engine.max_concurrent must be non-negative, got %d", cfg.Engine.MaxConcurrent))
	}
	if cfg.Engine.AnalysisCacheSize < 0 {
		errs = append(errs, fmt.Sprintf("engine.analysis_cache_size must be non-negative, got %d", cfg.Engine.AnalysisCacheSize))
	}

	// Resilience validation
	if cfg.Resilience.CascadeBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.cascade_base_delay_ms must be non-negative, got %d", cfg.Resilience.CascadeBaseDelayMs))
	}
	if cfg.Resilience.CascadeMaxDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.cascade_max_delay_ms must be non-negative, got %d", cfg.Resilience.CascadeMaxDelayMs))
	}
	if cfg.Resilience.CBFailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_failure_threshold must be at least 1, got %d", cfg.Resilience.CBFailureThreshold))
	}
	if cfg.Resilience.CBResetTimeoutSec <= 0 {
		errs = append(errs, fmt.Sprintf("resilience.cb_reset_timeout_seconds must be positive, got %d", cfg.Resilience.CBResetTimeoutSec))
	}
	if cfg.Resilience.CBHalfOpenMax < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_half_open_max_calls must be at least 1, got %d", cfg.Resilience.CBHalfOpenMax))
	}
	rl := cfg.Resilience.RateLimit
	if rl.Enabled {
		if rl.DefaultRate <= 0 {
			errs = append(errs, fmt.Sprintf("resilience.rate_limit.default_rate must be positive, got %g", rl.DefaultRate))
		}
		if rl.DefaultBurst < 1 {
			errs = append(errs, fmt.Sprintf("resilience.rate_limit.default_burst must be at least 1, got %d", rl.DefaultBurst))
		}
	}
	for id, l := range rl.BackendLimits {
		if !seen[id] {
			errs = append(errs, fmt.Sprintf("resilience.rate_limit.backend_limits references unknown backend %q", id))
		}
		if l.Rate <= 0 || l.Burst < 1 {
			errs = append(errs, fmt.Sprintf("resilience.rate_limit.backend_limits.%s needs a positive rate and burst", id))
		}
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
