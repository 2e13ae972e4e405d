package router

import (
	"encoding/json"
	"errors"
	"math"
)

// ErrAllBackendsExhausted is returned by Select when no backend is eligible.
var ErrAllBackendsExhausted = errors.New("all backends exhausted")

// Weights are the scoring coefficients. Every term of the score is
// configurable.
type Weights struct {
	ComplexityHighReasoning  float64 `json:"complexity_high_reasoning"`
	ComplexityMediumAnalysis float64 `json:"complexity_medium_analysis"`
	ComplexityLowSpeed       float64 `json:"complexity_low_speed"`
	SpeedBonus               float64 `json:"speed_bonus"`
	DataBonus                float64 `json:"data_bonus"`
	ContextBonus             float64 `json:"context_bonus"`
	LargeContextBytes        int     `json:"large_context_bytes"`
	ContextHeadroom          float64 `json:"context_headroom"`
	PerformanceWeight        float64 `json:"performance_weight"`
	LatencyPenaltyPerSecond  float64 `json:"latency_penalty_per_second"`
	LatencyPenaltyCap        float64 `json:"latency_penalty_cap"`
	LoadPenalty              float64 `json:"load_penalty"`
	CostPenalty              float64 `json:"cost_penalty"`
	PriorSuccessRate         float64 `json:"prior_success_rate"`
	PriorLatencyMs           float64 `json:"prior_latency_ms"`
}

// DefaultWeights returns the stock coefficients.
func DefaultWeights() Weights {
	return Weights{
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

// PerfSample is the slice of performance history the Scorer reads.
type PerfSample struct {
	TotalRequests int64
	SuccessRate   float64
	AvgLatencyMs  float64
}

// Snapshot is a point-in-time view of the mutable per-backend state. Missing
// entries mean "no history", "idle" and "healthy" respectively.
type Snapshot struct {
	Performance map[string]PerfSample
	Load        map[string]int64
	Unavailable map[string]bool
}

// Scores maps backend id to score. Ineligible backends carry -Inf, which
// encodes as null in JSON.
type Scores map[string]float64

// MarshalJSON implements json.Marshaler.
func (s Scores) MarshalJSON() ([]byte, error) {
	out := make(map[string]*float64, len(s))
	for id, v := range s {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			out[id] = nil
			continue
		}
		v := v
		out[id] = &v
	}
	return json.Marshal(out)
}

// Selection is the outcome of one Select call.
type Selection struct {
	BackendID string  `json:"backend_id"`
	Score     float64 `json:"score"`
	Scores    Scores  `json:"scores"`
}

// Select ranks descriptors for the analysis and returns the best eligible
// backend. Backends in exclude or marked unavailable score -Inf and are
// never chosen. The highest finite score wins; on a tie the backend
// declared first wins. Select is pure: the same inputs always produce the
// same Selection.
func Select(a Analysis, descriptors []Descriptor, snap Snapshot, w Weights, exclude map[string]bool) (Selection, error) {
	sel := Selection{Score: math.Inf(-1), Scores: make(Scores, len(descriptors))}

	for _, d := range descriptors {
		if exclude[d.ID] || snap.Unavailable[d.ID] {
			sel.Scores[d.ID] = math.Inf(-1)
			continue
		}
		score := Score(a, d, snap, w)
		sel.Scores[d.ID] = score
		if score > sel.Score {
			sel.Score = score
			sel.BackendID = d.ID
		}
	}

	if sel.BackendID == "" {
		return sel, ErrAllBackendsExhausted
	}
	return sel, nil
}

// Score computes the finite score of one eligible backend.
func Score(a Analysis, d Descriptor, snap Snapshot, w Weights) float64 {
	var score float64

	switch {
	case a.Complexity == ComplexityHigh && d.HasTag(TagReasoning):
		score += w.ComplexityHighReasoning
	case a.Complexity == ComplexityMedium && d.HasTag(TagAnalysis):
		score += w.ComplexityMediumAnalysis
	case a.Complexity == ComplexityLow && d.HasTag(TagSpeed):
		score += w.ComplexityLowSpeed
	}

	if a.SpeedRequired {
		score += w.SpeedBonus * d.SpeedTier.factor()
	}

	if a.RequiresData && d.HasTag(TagStructuredOutput) {
		score += w.DataBonus
	}

	if a.ContextSizeBytes > w.LargeContextBytes &&
		float64(d.ContextWindow) >= w.ContextHeadroom*float64(a.EstimatedContextTokens) {
		score += w.ContextBonus
	}

	rate, latency := w.PriorSuccessRate, w.PriorLatencyMs
	if p, ok := snap.Performance[d.ID]; ok && p.TotalRequests > 0 {
		rate, latency = p.SuccessRate, p.AvgLatencyMs
	}
	score += w.PerformanceWeight * rate
	score -= math.Min(w.LatencyPenaltyCap, w.LatencyPenaltyPerSecond*latency/1000)

	score -= w.LoadPenalty * float64(snap.Load[d.ID])
	score -= w.CostPenalty * float64(d.CostTier)

	return score
}
