package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad api port", func(c *Config) { c.Server.APIPort = 70000 }, "api_port"},
		{"same ports", func(c *Config) { c.Server.DashboardPort = c.Server.APIPort }, "must differ"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"empty data dir", func(c *Config) { c.Server.DataDir = "" }, "data_dir"},
		{"duplicate id", func(c *Config) { c.Backends[1].ID = c.Backends[0].ID }, "duplicate backend id"},
		{"empty id", func(c *Config) { c.Backends[0].ID = "" }, ".id must not be empty"},
		{"bad speed tier", func(c *Config) { c.Backends[0].SpeedTier = "ludicrous" }, "speed_tier"},
		{"bad cost tier", func(c *Config) { c.Backends[0].CostTier = "free" }, "cost_tier"},
		{"unknown tag", func(c *Config) { c.Backends[0].StrengthTags = []string{"poetry"} }, "strength_tags"},
		{"zero context window", func(c *Config) { c.Backends[0].ContextWindow = 0 }, "context_window"},
		{"zero output limit", func(c *Config) { c.Backends[0].MaxOutputTokens = 0 }, "max_output_tokens"},
		{"http without base", func(c *Config) {
			c.Backends[0].Kind = "http"
			c.Backends[0].APIBase = ""
		}, "api_base"},
		{"missing model", func(c *Config) { c.Backends[0].Model = "" }, "model"},
		{"none enabled", func(c *Config) {
			for i := range c.Backends {
				c.Backends[i].Enabled = false
			}
		}, "at least one backend"},
		{"zero probe interval", func(c *Config) { c.Routing.ProbeIntervalSeconds = 0 }, "probe_interval_seconds"},
		{"zero dispatch timeout", func(c *Config) { c.Routing.DispatchTimeoutSeconds = 0 }, "dispatch_timeout_seconds"},
		{"bad smoothing", func(c *Config) { c.Routing.LatencySmoothing = "median" }, "latency_smoothing"},
		{"bad alpha", func(c *Config) { c.Routing.EMAAlpha = 1.5 }, "ema_alpha"},
		{"bad prior", func(c *Config) { c.Routing.Weights.PriorSuccessRate = 2 }, "prior_success_rate"},
		{"negative penalty", func(c *Config) { c.Routing.Weights.LoadPenalty = -1 }, "penalties"},
		{"negative max concurrent", func(c *Config) { c.Engine.MaxConcurrent = -1 }, "max_concurrent"},
		{"bad cb threshold", func(c *Config) { c.Resilience.CBFailureThreshold = 0 }, "cb_failure_threshold"},
		{"rate limit unknown backend", func(c *Config) {
			c.Resilience.RateLimit.BackendLimits = map[string]BackendRateLimit{"ghost": {Rate: 1, Burst: 1}}
		}, "unknown backend"},
		{"rate limit zero rate", func(c *Config) {
			c.Resilience.RateLimit.Enabled = true
			c.Resilience.RateLimit.DefaultRate = 0
		}, "default_rate"},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, "tracing.exporter"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_SyntheticNeedsNoModel(t *testing.T) {
	cfg := validConfig()
	cfg.Backends = []BackendConfig{{
		ID: "demo", Kind: "synthetic", SpeedTier: "fast", CostTier: "low",
		MaxOutputTokens: 100, ContextWindow: 1000, Enabled: true,
	}}
	if err := validate(cfg); err != nil {
		t.Fatalf("synthetic backend without model should validate: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.APIPort = 0
	cfg.Server.LogLevel = "invalid"
	cfg.Server.DataDir = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	errStr := err.Error()
	for _, want := range []string{"api_port", "log_level", "data_dir"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s: %v", want, errStr)
		}
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("isValidEnum should be case-insensitive")
	}
	if isValidEnum("", ValidSpeedTiers) {
		t.Error("empty value should not match")
	}
}
