package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// ErrAnalysis marks malformed analyzer input. It is always recovered inside
// the Analyzer and only ever reaches the log.
var ErrAnalysis = errors.New("query analysis failed")

// Complexity is the demand tier of a query.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QueryType is the coarse domain tag assigned by keyword.
type QueryType string

const (
	QueryCandidate QueryType = "candidate"
	QueryPipeline  QueryType = "pipeline"
	QueryAnalytics QueryType = "analytics"
	QuerySearch    QueryType = "search"
	QueryGeneral   QueryType = "general"
)

// Analysis is the per-query classification consumed by the Selector.
type Analysis struct {
	Complexity             Complexity `json:"complexity"`
	SpeedRequired          bool       `json:"speed_required"`
	ContextSizeBytes       int        `json:"context_size_bytes"`
	EstimatedContextTokens int        `json:"estimated_context_tokens"`
	QueryType              QueryType  `json:"query_type"`
	RequiresReasoning      bool       `json:"requires_reasoning"`
	RequiresData           bool       `json:"requires_data"`
}

var (
	complexPatterns = compileAll(
		`\bcompar(e|es|ed|ing|ison)\b`,
		`\banaly(s|z)(e|es|ed|is|ing)\b`,
		`\bpredict(s|ed|ion|ions|ive)?\b`,
		`\bforecast(s|ing)?\b`,
		`\btrends?\b`,
		`\bwhy\b`,
		`\bexplain(s|ed|ing)?\b`,
		`\bevaluat(e|es|ed|ing|ion)\b`,
		`\brecommend(s|ed|ation|ations)?\b`,
		`\bcorrelat(e|es|ed|ion|ions)\b`,
		`\b(versus|vs\.?)\b`,
		`\binsights?\b`,
		`\bstrateg(y|ies|ic)\b`,
	)
	simplePatterns = compileAll(
		`\blist\b`,
		`\bshow\b`,
		`\bcount\b`,
		`\bhow many\b`,
		`\bstatus\b`,
		`\bwhat is\b`,
		`\bfind\b`,
		`\bdisplay\b`,
	)

	// Checked in order; the first match wins.
	queryTypeKeywords = []struct {
		typ      QueryType
		patterns []*regexp.Regexp
	}{
		{QueryCandidate, compileAll(`\bcandidates?\b`, `\bapplicants?\b`, `\bresumes?\b`)},
		{QueryPipeline, compileAll(`\bpipelines?\b`, `\bfunnel\b`, `\bstages?\b`)},
		{QueryAnalytics, compileAll(`\banalytics\b`, `\bmetrics?\b`, `\breports?\b`, `\bstatistics\b`)},
		{QuerySearch, compileAll(`\bsearch(es|ing)?\b`, `\blookup\b`, `\blook up\b`)},
	}
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// TokenCounter estimates the token count of a text.
type TokenCounter interface {
	CountTokens(text string) int
}

// classification is the query-text-only part of an Analysis; it is what the
// Analyzer memoizes.
type classification struct {
	complexity Complexity
	speed      bool
	reasoning  bool
	queryType  QueryType
}

// Analyzer classifies queries. It is safe for concurrent use.
type Analyzer struct {
	memo   *lru.Cache[string, classification]
	tokens TokenCounter
	logger zerolog.Logger
}

// NewAnalyzer creates an Analyzer. A cacheSize of zero disables
// memoization; tokens may be nil, in which case token estimates fall back
// to a bytes/4 heuristic.
func NewAnalyzer(cacheSize int, tokens TokenCounter, logger zerolog.Logger) (*Analyzer, error) {
	a := &Analyzer{tokens: tokens, logger: logger}
	if cacheSize > 0 {
		memo, err := lru.New[string, classification](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("analyzer: creating LRU: %w", err)
		}
		a.memo = memo
	}
	return a, nil
}

// Analyze classifies query and measures context. It never fails: empty
// input and unserializable context degrade to defaults.
func (a *Analyzer) Analyze(query string, context any) Analysis {
	c := a.classify(query)

	out := Analysis{
		Complexity:        c.complexity,
		SpeedRequired:     c.speed,
		QueryType:         c.queryType,
		RequiresReasoning: c.reasoning,
		RequiresData:      c.queryType != QueryGeneral,
	}

	data, err := serializeContext(context)
	if err != nil {
		a.logger.Warn().Err(fmt.Errorf("%w: %v", ErrAnalysis, err)).Msg("context not serializable, treating as empty")
		return out
	}
	out.ContextSizeBytes = len(data)
	out.EstimatedContextTokens = a.estimateTokens(data)
	return out
}

func (a *Analyzer) classify(query string) classification {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		a.logger.Debug().Err(fmt.Errorf("%w: empty query", ErrAnalysis)).Msg("defaulting to medium complexity")
		return classification{complexity: ComplexityMedium, queryType: QueryGeneral}
	}
	if a.memo != nil {
		if c, ok := a.memo.Get(key); ok {
			return c
		}
	}

	c := classifyText(key)
	if a.memo != nil {
		a.memo.Add(key, c)
	}
	return c
}

// classifyText applies the fixed pattern sets. Complex indicators take
// precedence over simple ones.
func classifyText(query string) classification {
	c := classification{complexity: ComplexityMedium, queryType: QueryGeneral}
	switch {
	case matchesAny(query, complexPatterns):
		c.complexity = ComplexityHigh
		c.reasoning = true
	case matchesAny(query, simplePatterns):
		c.complexity = ComplexityLow
		c.speed = true
	}
	for _, kw := range queryTypeKeywords {
		if matchesAny(query, kw.patterns) {
			c.queryType = kw.typ
			break
		}
	}
	return c
}

func serializeContext(context any) ([]byte, error) {
	switch v := context.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(v) == 0 || string(v) == "null" {
			return nil, nil
		}
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return json.Marshal(context)
}

func (a *Analyzer) estimateTokens(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	if a.tokens != nil {
		if n := a.tokens.CountTokens(string(data)); n > 0 {
			return n
		}
	}
	return (len(data) + 3) / 4
}
