package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/modelmux/internal/backend"
	"github.com/allaspectsdev/modelmux/internal/config"
	"github.com/allaspectsdev/modelmux/internal/perf"
	"github.com/allaspectsdev/modelmux/internal/router"
	"github.com/allaspectsdev/modelmux/internal/tokenizer"
)

// FromConfig builds the registry and an Engine from cfg. Enabled backends
// are registered in declaration order; keys are resolved through keys.
func FromConfig(ctx context.Context, cfg *config.Config, keys backend.KeyResolver, logger zerolog.Logger) (*Engine, error) {
	enabled := cfg.EnabledBackends()
	entries := make([]router.Entry, 0, len(enabled))
	timeouts := make(map[string]time.Duration, len(enabled))

	for _, bc := range enabled {
		d, err := DescriptorFromConfig(bc)
		if err != nil {
			return nil, err
		}
		b, err := backend.New(ctx, bc, keys)
		if err != nil {
			return nil, err
		}
		entries = append(entries, router.Entry{Descriptor: d, Backend: b})
		timeouts[bc.ID] = cfg.DispatchTimeout(bc)
	}

	registry, err := router.NewRegistry(entries...)
	if err != nil {
		return nil, err
	}

	var tokens router.TokenCounter
	if cfg.Engine.TokenEncoding != "" {
		counter := tokenizer.New(cfg.Engine.TokenEncoding)
		if err := counter.Err(); err != nil {
			logger.Warn().Err(err).Str("encoding", counter.Encoding()).Msg("token encoding unavailable; using byte estimate")
		} else {
			tokens = counter
		}
	}
	analyzer, err := router.NewAnalyzer(cfg.Engine.AnalysisCacheSize, tokens, logger)
	if err != nil {
		return nil, err
	}

	smoothing, err := perf.ParseSmoothing(cfg.Routing.LatencySmoothing)
	if err != nil {
		return nil, err
	}

	weights := WeightsFromConfig(cfg.Routing.Weights)
	opts := Options{
		Analyzer:        analyzer,
		Tracker:         perf.NewTracker(smoothing, cfg.Routing.EMAAlpha),
		Weights:         &weights,
		SystemPrompt:    cfg.Routing.SystemPrompt,
		ProbeQuery:      cfg.Routing.ProbeQuery,
		DispatchTimeout: time.Duration(cfg.Routing.DispatchTimeoutSeconds) * time.Second,
		Timeouts:        timeouts,
		Backoff: Backoff{
			Base: time.Duration(cfg.Resilience.CascadeBaseDelayMs) * time.Millisecond,
			Max:  time.Duration(cfg.Resilience.CascadeMaxDelayMs) * time.Millisecond,
		},
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		Logger:        logger,
	}

	res := cfg.Resilience
	if res.CBEnabled {
		opts.Breakers = NewBreakerSet(res.CBFailureThreshold, time.Duration(res.CBResetTimeoutSec)*time.Second, res.CBHalfOpenMax)
	}
	if res.RateLimit.Enabled {
		overrides := make(map[string]LimitSpec, len(res.RateLimit.BackendLimits))
		for id, l := range res.RateLimit.BackendLimits {
			overrides[id] = LimitSpec{Rate: l.Rate, Burst: l.Burst}
		}
		opts.Limiters = NewLimiterSet(LimitSpec{Rate: res.RateLimit.DefaultRate, Burst: res.RateLimit.DefaultBurst}, overrides)
	}

	return New(registry, opts)
}

// DescriptorFromConfig converts one backend declaration.
func DescriptorFromConfig(bc config.BackendConfig) (router.Descriptor, error) {
	speed, err := router.ParseSpeedTier(bc.SpeedTier)
	if err != nil {
		return router.Descriptor{}, fmt.Errorf("backend %s: %w", bc.ID, err)
	}
	cost, err := router.ParseCostTier(bc.CostTier)
	if err != nil {
		return router.Descriptor{}, fmt.Errorf("backend %s: %w", bc.ID, err)
	}
	tags := make([]router.Tag, len(bc.StrengthTags))
	for i, t := range bc.StrengthTags {
		tags[i] = router.Tag(t)
	}
	return router.Descriptor{
		ID:              bc.ID,
		StrengthTags:    tags,
		SpeedTier:       speed,
		CostTier:        cost,
		MaxOutputTokens: bc.MaxOutputTokens,
		ContextWindow:   bc.ContextWindow,
	}, nil
}

// WeightsFromConfig converts the configured scoring constants.
func WeightsFromConfig(w config.WeightsConfig) router.Weights {
	return router.Weights{
		ComplexityHighReasoning:  w.ComplexityHighReasoning,
		ComplexityMediumAnalysis: w.ComplexityMediumAnalysis,
		ComplexityLowSpeed:       w.ComplexityLowSpeed,
		SpeedBonus:               w.SpeedBonus,
		DataBonus:                w.DataBonus,
		ContextBonus:             w.ContextBonus,
		LargeContextBytes:        w.LargeContextBytes,
		ContextHeadroom:          w.ContextHeadroom,
		PerformanceWeight:        w.PerformanceWeight,
		LatencyPenaltyPerSecond:  w.LatencyPenaltyPerSecond,
		LatencyPenaltyCap:        w.LatencyPenaltyCap,
		LoadPenalty:              w.LoadPenalty,
		CostPenalty:              w.CostPenalty,
		PriorSuccessRate:         w.PriorSuccessRate,
		PriorLatencyMs:           w.PriorLatencyMs,
	}
}
