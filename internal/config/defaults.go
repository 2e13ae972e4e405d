package config

// DefaultBindAddress is the default bind address (localhost only).
const DefaultBindAddress = "127.0.0.1"

// DefaultAPIPort is the default port for the query API server.
const DefaultAPIPort = 7787

// DefaultDashboardPort is the default port for the stats and metrics server.
const DefaultDashboardPort = 7788

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.modelmux"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "modelmux.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// It must cover a full cascade across every backend.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize = 10 << 20

// DefaultDispatchTimeout is the default per-backend dispatch budget in seconds.
const DefaultDispatchTimeout = 30

// DefaultProbeInterval is the default health probe interval in seconds.
const DefaultProbeInterval = 300

// DefaultProbeTimeout is the default per-probe timeout in seconds.
const DefaultProbeTimeout = 15

// DefaultProbeQuery is the synthetic query sent by health probes.
const DefaultProbeQuery = "ping"

// DefaultProbeConcurrency bounds how many backends are probed at once.
const DefaultProbeConcurrency = 4

// DefaultMaxOutputTokens is the output limit used when a backend omits one.
const DefaultMaxOutputTokens = 4096

// DefaultContextWindow is the context window used when a backend omits one.
const DefaultContextWindow = 128000

// DefaultEMAAlpha is the smoothing factor for the "ema" latency mode.
const DefaultEMAAlpha = 0.2

// DefaultAnalysisCacheSize is the number of memoized query analyses.
const DefaultAnalysisCacheSize = 1024

// DefaultCBFailureThreshold is the default number of consecutive failures before opening the circuit.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeout is the default circuit breaker reset timeout in seconds.
const DefaultCBResetTimeout = 60

// DefaultCBHalfOpenMax is the default number of successful calls in half-open state to close the circuit.
const DefaultCBHalfOpenMax = 1

// DefaultCascadeMaxDelayMs caps the backoff between cascade attempts.
const DefaultCascadeMaxDelayMs = 2000

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "modelmux"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidBackendKinds lists the supported backend client kinds.
var ValidBackendKinds = []string{"anthropic", "openai", "gemini", "http", "synthetic"}

// ValidSpeedTiers lists the speed tiers from fastest to slowest.
var ValidSpeedTiers = []string{"very-fast", "fast", "medium", "slow"}

// ValidCostTiers lists the cost tiers from cheapest to most expensive.
var ValidCostTiers = []string{"low", "medium", "high", "premium"}

// ValidStrengthTags lists the capability labels a backend may declare.
var ValidStrengthTags = []string{"reasoning", "analysis", "speed", "structured-output", "long-context"}

// ValidLatencyModes lists the supported latency smoothing modes.
var ValidLatencyModes = []string{"pair", "ema"}

// DefaultWeights returns the default scoring constants.
func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		ComplexityHighReasoning:  40,
		ComplexityMediumAnalysis: 30,
		ComplexityLowSpeed:       35,
		SpeedBonus:               25,
		DataBonus:                10,
		ContextBonus:             20,
		LargeContextBytes:        8000,
		ContextHeadroom:          2,
		PerformanceWeight:        20,
		LatencyPenaltyPerSecond:  2,
		LatencyPenaltyCap:        10,
		LoadPenalty:              5,
		CostPenalty:              0,
		PriorSuccessRate:         0.95,
		PriorLatencyMs:           2000,
	}
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:   DefaultBindAddress,
			APIPort:       DefaultAPIPort,
			DashboardPort: DefaultDashboardPort,
			LogLevel:      DefaultLogLevel,
			DataDir:       DefaultDataDir,
			ReadTimeout:   DefaultReadTimeout,
			WriteTimeout:  DefaultWriteTimeout,
			IdleTimeout:   DefaultIdleTimeout,
			MaxBodySize:   DefaultMaxBodySize,
		},
		Backends: []BackendConfig{
			{
				ID:              "claude",
				Kind:            "anthropic",
				Model:           "claude-sonnet-4-20250514",
				KeyRef:          "keyring://modelmux/anthropic",
				StrengthTags:    []string{"reasoning", "analysis", "long-context"},
				SpeedTier:       "medium",
				CostTier:        "premium",
				MaxOutputTokens: 8192,
				ContextWindow:   200000,
				Enabled:         true,
			},
			{
				ID:              "gpt-mini",
				Kind:            "openai",
				Model:           "gpt-4o-mini",
				KeyRef:          "keyring://modelmux/openai",
				StrengthTags:    []string{"speed", "structured-output"},
				SpeedTier:       "fast",
				CostTier:        "low",
				MaxOutputTokens: 4096,
				ContextWindow:   128000,
				Enabled:         true,
			},
			{
				ID:              "gemini-flash",
				Kind:            "gemini",
				Model:           "gemini-2.0-flash",
				KeyRef:          "keyring://modelmux/google",
				StrengthTags:    []string{"speed", "analysis", "long-context"},
				SpeedTier:       "very-fast",
				CostTier:        "low",
				MaxOutputTokens: 8192,
				ContextWindow:   1000000,
				Enabled:         true,
			},
		},
		Routing: RoutingConfig{
			ProbeIntervalSeconds:   DefaultProbeInterval,
			ProbeTimeoutSeconds:    DefaultProbeTimeout,
			ProbeQuery:             DefaultProbeQuery,
			ProbeConcurrency:       DefaultProbeConcurrency,
			DispatchTimeoutSeconds: DefaultDispatchTimeout,
			SystemPrompt:           "You are a helpful assistant. Answer the question using the supplied context when it is relevant.",
			LatencySmoothing:       "pair",
			EMAAlpha:               DefaultEMAAlpha,
			Weights:                DefaultWeights(),
		},
		Engine: EngineConfig{
			MaxConcurrent:     0,
			AnalysisCacheSize: DefaultAnalysisCacheSize,
			TokenEncoding:     "cl100k_base",
		},
		Resilience: ResilienceConfig{
			CascadeBaseDelayMs: 0,
			CascadeMaxDelayMs:  DefaultCascadeMaxDelayMs,
			CBEnabled:          false,
			CBFailureThreshold: DefaultCBFailureThreshold,
			CBResetTimeoutSec:  DefaultCBResetTimeout,
			CBHalfOpenMax:      DefaultCBHalfOpenMax,
			RateLimit: RateLimitConfig{
				Enabled:       false,
				DefaultRate:   10.0,
				DefaultBurst:  20,
				BackendLimits: map[string]BackendRateLimit{},
			},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Dashboard: DashboardConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:7788"},
		},
	}
}
