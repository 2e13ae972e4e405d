package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for modelmux.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"     yaml:"server"`
	Backends   []BackendConfig  `mapstructure:"backends"   toml:"backends"   yaml:"backends"`
	Routing    RoutingConfig    `mapstructure:"routing"    toml:"routing"    yaml:"routing"`
	Engine     EngineConfig     `mapstructure:"engine"     toml:"engine"     yaml:"engine"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience" yaml:"resilience"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"    yaml:"tracing"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"  toml:"dashboard"  yaml:"dashboard"`
}

// ServerConfig holds the core server settings.
type ServerConfig struct {
	BindAddress   string `mapstructure:"bind_address"   toml:"bind_address"   yaml:"bind_address"`
	APIPort       int    `mapstructure:"api_port"       toml:"api_port"       yaml:"api_port"`
	DashboardPort int    `mapstructure:"dashboard_port" toml:"dashboard_port" yaml:"dashboard_port"`
	LogLevel      string `mapstructure:"log_level"      toml:"log_level"      yaml:"log_level"`
	DataDir       string `mapstructure:"data_dir"       toml:"data_dir"       yaml:"data_dir"`
	ReadTimeout   int    `mapstructure:"read_timeout"   toml:"read_timeout"   yaml:"read_timeout"`
	WriteTimeout  int    `mapstructure:"write_timeout"  toml:"write_timeout"  yaml:"write_timeout"`
	IdleTimeout   int    `mapstructure:"idle_timeout"   toml:"idle_timeout"   yaml:"idle_timeout"`
	MaxBodySize   int64  `mapstructure:"max_body_size"  toml:"max_body_size"  yaml:"max_body_size"`

	// AuthTokenRef, when set, is a key reference (env:, file://, keyring://)
	// for the bearer token required on POST /v1/query.
	AuthTokenRef string `mapstructure:"auth_token_ref" toml:"auth_token_ref" yaml:"auth_token_ref,omitempty"`
}

// BackendConfig declares one generation backend. Declaration order is the
// tie-break order used by selection.
type BackendConfig struct {
	ID              string   `mapstructure:"id"                toml:"id"                yaml:"id"`
	Kind            string   `mapstructure:"kind"              toml:"kind"              yaml:"kind"`
	Model           string   `mapstructure:"model"             toml:"model"             yaml:"model"`
	APIBase         string   `mapstructure:"api_base"          toml:"api_base"          yaml:"api_base,omitempty"`
	KeyRef          string   `mapstructure:"key_ref"           toml:"key_ref"           yaml:"key_ref,omitempty"`
	StrengthTags    []string `mapstructure:"strength_tags"     toml:"strength_tags"     yaml:"strength_tags"`
	SpeedTier       string   `mapstructure:"speed_tier"        toml:"speed_tier"        yaml:"speed_tier"`
	CostTier        string   `mapstructure:"cost_tier"         toml:"cost_tier"         yaml:"cost_tier"`
	MaxOutputTokens int      `mapstructure:"max_output_tokens" toml:"max_output_tokens" yaml:"max_output_tokens"`
	ContextWindow   int      `mapstructure:"context_window"    toml:"context_window"    yaml:"context_window"`
	Timeout         int      `mapstructure:"timeout"           toml:"timeout"           yaml:"timeout"` // seconds, 0 uses routing.dispatch_timeout_seconds
	Enabled         bool     `mapstructure:"enabled"           toml:"enabled"           yaml:"enabled"`
}

// RoutingConfig controls probing, dispatch budgets and selection weights.
type RoutingConfig struct {
	ProbeIntervalSeconds   int           `mapstructure:"probe_interval_seconds"   toml:"probe_interval_seconds"   yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds    int           `mapstructure:"probe_timeout_seconds"    toml:"probe_timeout_seconds"    yaml:"probe_timeout_seconds"`
	ProbeQuery             string        `mapstructure:"probe_query"              toml:"probe_query"              yaml:"probe_query"`
	ProbeConcurrency       int           `mapstructure:"probe_concurrency"        toml:"probe_concurrency"        yaml:"probe_concurrency"`
	DispatchTimeoutSeconds int           `mapstructure:"dispatch_timeout_seconds" toml:"dispatch_timeout_seconds" yaml:"dispatch_timeout_seconds"`
	SystemPrompt           string        `mapstructure:"system_prompt"            toml:"system_prompt"            yaml:"system_prompt"`
	LatencySmoothing       string        `mapstructure:"latency_smoothing"        toml:"latency_smoothing"        yaml:"latency_smoothing"` // "pair" or "ema"
	EMAAlpha               float64       `mapstructure:"ema_alpha"                toml:"ema_alpha"                yaml:"ema_alpha"`
	Weights                WeightsConfig `mapstructure:"weights"                  toml:"weights"                  yaml:"weights"`
}

// WeightsConfig holds the tunable scoring constants.
type WeightsConfig struct {
	ComplexityHighReasoning  float64 `mapstructure:"complexity_high_reasoning"  toml:"complexity_high_reasoning"  yaml:"complexity_high_reasoning"`
	ComplexityMediumAnalysis float64 `mapstructure:"complexity_medium_analysis" toml:"complexity_medium_analysis" yaml:"complexity_medium_analysis"`
	ComplexityLowSpeed       float64 `mapstructure:"complexity_low_speed"       toml:"complexity_low_speed"       yaml:"complexity_low_speed"`
	SpeedBonus               float64 `mapstructure:"speed_bonus"                toml:"speed_bonus"                yaml:"speed_bonus"`
	DataBonus                float64 `mapstructure:"data_bonus"                 toml:"data_bonus"                 yaml:"data_bonus"`
	ContextBonus             float64 `mapstructure:"context_bonus"              toml:"context_bonus"              yaml:"context_bonus"`
	LargeContextBytes        int     `mapstructure:"large_context_bytes"        toml:"large_context_bytes"        yaml:"large_context_bytes"`
	ContextHeadroom          float64 `mapstructure:"context_headroom"           toml:"context_headroom"           yaml:"context_headroom"`
	PerformanceWeight        float64 `mapstructure:"performance_weight"         toml:"performance_weight"         yaml:"performance_weight"`
	LatencyPenaltyPerSecond  float64 `mapstructure:"latency_penalty_per_second" toml:"latency_penalty_per_second" yaml:"latency_penalty_per_second"`
	LatencyPenaltyCap        float64 `mapstructure:"latency_penalty_cap"        toml:"latency_penalty_cap"        yaml:"latency_penalty_cap"`
	LoadPenalty              float64 `mapstructure:"load_penalty"               toml:"load_penalty"               yaml:"load_penalty"`
	CostPenalty              float64 `mapstructure:"cost_penalty"               toml:"cost_penalty"               yaml:"cost_penalty"`
	PriorSuccessRate         float64 `mapstructure:"prior_success_rate"         toml:"prior_success_rate"         yaml:"prior_success_rate"`
	PriorLatencyMs           float64 `mapstructure:"prior_latency_ms"           toml:"prior_latency_ms"           yaml:"prior_latency_ms"`
}

// EngineConfig controls query admission and analysis.
type EngineConfig struct {
	MaxConcurrent     int    `mapstructure:"max_concurrent"      toml:"max_concurrent"      yaml:"max_concurrent"` // 0 means unbounded
	AnalysisCacheSize int    `mapstructure:"analysis_cache_size" toml:"analysis_cache_size" yaml:"analysis_cache_size"`
	TokenEncoding     string `mapstructure:"token_encoding"      toml:"token_encoding"      yaml:"token_encoding"` // "" disables tiktoken estimation
}

// ResilienceConfig controls cascade backoff, circuit breaking and per-backend rate limits.
type ResilienceConfig struct {
	CascadeBaseDelayMs int             `mapstructure:"cascade_base_delay_ms"    toml:"cascade_base_delay_ms"    yaml:"cascade_base_delay_ms"`
	CascadeMaxDelayMs  int             `mapstructure:"cascade_max_delay_ms"     toml:"cascade_max_delay_ms"     yaml:"cascade_max_delay_ms"`
	CBEnabled          bool            `mapstructure:"circuit_breaker_enabled"  toml:"circuit_breaker_enabled"  yaml:"circuit_breaker_enabled"`
	CBFailureThreshold int             `mapstructure:"cb_failure_threshold"     toml:"cb_failure_threshold"     yaml:"cb_failure_threshold"`
	CBResetTimeoutSec  int             `mapstructure:"cb_reset_timeout_seconds" toml:"cb_reset_timeout_seconds" yaml:"cb_reset_timeout_seconds"`
	CBHalfOpenMax      int             `mapstructure:"cb_half_open_max_calls"   toml:"cb_half_open_max_calls"   yaml:"cb_half_open_max_calls"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"               toml:"rate_limit"               yaml:"rate_limit"`
}

// RateLimitConfig controls per-backend request rate limiting.
type RateLimitConfig struct {
	Enabled       bool                        `mapstructure:"enabled"        toml:"enabled"        yaml:"enabled"`
	DefaultRate   float64                     `mapstructure:"default_rate"   toml:"default_rate"   yaml:"default_rate"` // requests per second
	DefaultBurst  int                         `mapstructure:"default_burst"  toml:"default_burst"  yaml:"default_burst"`
	BackendLimits map[string]BackendRateLimit `mapstructure:"backend_limits" toml:"backend_limits" yaml:"backend_limits"`
}

// BackendRateLimit overrides the default rate for one backend.
type BackendRateLimit struct {
	Rate  float64 `mapstructure:"rate"  toml:"rate"  yaml:"rate"`
	Burst int     `mapstructure:"burst" toml:"burst" yaml:"burst"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"      yaml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"     yaml:"exporter"` // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"     yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"  yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"     yaml:"insecure"`
}

// DashboardConfig controls the stats and metrics server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"         toml:"enabled"         yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
}

// DispatchTimeout returns the dispatch budget for b, falling back to the
// routing default when the backend does not set its own.
func (c *Config) DispatchTimeout(b BackendConfig) time.Duration {
	if b.Timeout > 0 {
		return time.Duration(b.Timeout) * time.Second
	}
	if c.Routing.DispatchTimeoutSeconds > 0 {
		return time.Duration(c.Routing.DispatchTimeoutSeconds) * time.Second
	}
	return DefaultDispatchTimeout * time.Second
}

// ProbeInterval returns the health probe interval as a time.Duration.
func (r RoutingConfig) ProbeInterval() time.Duration {
	return time.Duration(r.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a time.Duration.
func (r RoutingConfig) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutSeconds) * time.Second
}

// EnabledBackends returns the enabled backends in declaration order.
func (c *Config) EnabledBackends() []BackendConfig {
	out := make([]BackendConfig, 0, len(c.Backends))
	for _, b := range c.Backends {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (MODELMUX_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.modelmux/modelmux.toml
//  4. ./modelmux.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("MODELMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if ext := strings.TrimPrefix(filepath.Ext(explicitPath), "."); ext == "yaml" || ext == "yml" {
			v.SetConfigType("yaml")
		}
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".modelmux"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("modelmux")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	// A configured backend list replaces the defaults wholesale instead of
	// being merged element by element.
	if v.InConfig("backends") {
		cfg.Backends = nil
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	normalize(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// normalize fills per-backend fields that were left empty in the file.
func normalize(cfg *Config) {
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
		b.SpeedTier = strings.ToLower(strings.TrimSpace(b.SpeedTier))
		b.CostTier = strings.ToLower(strings.TrimSpace(b.CostTier))
		if b.SpeedTier == "" {
			b.SpeedTier = "medium"
		}
		if b.CostTier == "" {
			b.CostTier = "medium"
		}
		if b.MaxOutputTokens == 0 {
			b.MaxOutputTokens = DefaultMaxOutputTokens
		}
		if b.ContextWindow == 0 {
			b.ContextWindow = DefaultContextWindow
		}
		for j, tag := range b.StrengthTags {
			b.StrengthTags[j] = strings.ToLower(strings.TrimSpace(tag))
		}
	}
	cfg.Routing.LatencySmoothing = strings.ToLower(strings.TrimSpace(cfg.Routing.LatencySmoothing))
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every scalar key with viper so that env var
// binding works even when no config file is present. The backends list is
// file-only.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.api_port", d.Server.APIPort)
	v.SetDefault("server.dashboard_port", d.Server.DashboardPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.auth_token_ref", d.Server.AuthTokenRef)

	v.SetDefault("routing.probe_interval_seconds", d.Routing.ProbeIntervalSeconds)
	v.SetDefault("routing.probe_timeout_seconds", d.Routing.ProbeTimeoutSeconds)
	v.SetDefault("routing.probe_query", d.Routing.ProbeQuery)
	v.SetDefault("routing.probe_concurrency", d.Routing.ProbeConcurrency)
	v.SetDefault("routing.dispatch_timeout_seconds", d.Routing.DispatchTimeoutSeconds)
	v.SetDefault("routing.system_prompt", d.Routing.SystemPrompt)
	v.SetDefault("routing.latency_smoothing", d.Routing.LatencySmoothing)
	v.SetDefault("routing.ema_alpha", d.Routing.EMAAlpha)

	w := d.Routing.Weights
	v.SetDefault("routing.weights.complexity_high_reasoning", w.ComplexityHighReasoning)
	v.SetDefault("routing.weights.complexity_medium_analysis", w.ComplexityMediumAnalysis)
	v.SetDefault("routing.weights.complexity_low_speed", w.ComplexityLowSpeed)
	v.SetDefault("routing.weights.speed_bonus", w.SpeedBonus)
	v.SetDefault("routing.weights.data_bonus", w.DataBonus)
	v.SetDefault("routing.weights.context_bonus", w.ContextBonus)
	v.SetDefault("routing.weights.large_context_bytes", w.LargeContextBytes)
	v.SetDefault("routing.weights.context_headroom", w.ContextHeadroom)
	v.SetDefault("routing.weights.performance_weight", w.PerformanceWeight)
	v.SetDefault("routing.weights.latency_penalty_per_second", w.LatencyPenaltyPerSecond)
	v.SetDefault("routing.weights.latency_penalty_cap", w.LatencyPenaltyCap)
	v.SetDefault("routing.weights.load_penalty", w.LoadPenalty)
	v.SetDefault("routing.weights.cost_penalty", w.CostPenalty)
	v.SetDefault("routing.weights.prior_success_rate", w.PriorSuccessRate)
	v.SetDefault("routing.weights.prior_latency_ms", w.PriorLatencyMs)

	v.SetDefault("engine.max_concurrent", d.Engine.MaxConcurrent)
	v.SetDefault("engine.analysis_cache_size", d.Engine.AnalysisCacheSize)
	v.SetDefault("engine.token_encoding", d.Engine.TokenEncoding)

	v.SetDefault("resilience.cascade_base_delay_ms", d.Resilience.CascadeBaseDelayMs)
	v.SetDefault("resilience.cascade_max_delay_ms", d.Resilience.CascadeMaxDelayMs)
	v.SetDefault("resilience.circuit_breaker_enabled", d.Resilience.CBEnabled)
	v.SetDefault("resilience.cb_failure_threshold", d.Resilience.CBFailureThreshold)
	v.SetDefault("resilience.cb_reset_timeout_seconds", d.Resilience.CBResetTimeoutSec)
	v.SetDefault("resilience.cb_half_open_max_calls", d.Resilience.CBHalfOpenMax)
	v.SetDefault("resilience.rate_limit.enabled", d.Resilience.RateLimit.Enabled)
	v.SetDefault("resilience.rate_limit.default_rate", d.Resilience.RateLimit.DefaultRate)
	v.SetDefault("resilience.rate_limit.default_burst", d.Resilience.RateLimit.DefaultBurst)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.allowed_origins", d.Dashboard.AllowedOrigins)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
