package router

import (
	"fmt"
	"strings"
)

// SpeedTier is an ordered latency class; lower values are faster.
type SpeedTier int

const (
	SpeedVeryFast SpeedTier = iota
	SpeedFast
	SpeedMedium
	SpeedSlow
)

var speedTierNames = [...]string{"very-fast", "fast", "medium", "slow"}

// ParseSpeedTier converts a config string into a SpeedTier.
func ParseSpeedTier(s string) (SpeedTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range speedTierNames {
		if name == s {
			return SpeedTier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown speed tier %q", s)
}

func (t SpeedTier) String() string {
	if t < 0 || int(t) >= len(speedTierNames) {
		return fmt.Sprintf("SpeedTier(%d)", int(t))
	}
	return speedTierNames[t]
}

// MarshalText renders the tier by name in JSON and TOML output.
func (t SpeedTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *SpeedTier) UnmarshalText(b []byte) error {
	v, err := ParseSpeedTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// factor scales the speed bonus: the fastest tier earns the full bonus and
// the slowest earns none.
func (t SpeedTier) factor() float64 {
	switch t {
	case SpeedVeryFast:
		return 1.0
	case SpeedFast:
		return 0.75
	case SpeedMedium:
		return 0.4
	default:
		return 0
	}
}

// CostTier is an ordered price class; lower values are cheaper.
type CostTier int

const (
	CostLow CostTier = iota
	CostMedium
	CostHigh
	CostPremium
)

var costTierNames = [...]string{"low", "medium", "high", "premium"}

// ParseCostTier converts a config string into a CostTier.
func ParseCostTier(s string) (CostTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range costTierNames {
		if name == s {
			return CostTier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cost tier %q", s)
}

func (t CostTier) String() string {
	if t < 0 || int(t) >= len(costTierNames) {
		return fmt.Sprintf("CostTier(%d)", int(t))
	}
	return costTierNames[t]
}

// MarshalText renders the tier by name.
func (t CostTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *CostTier) UnmarshalText(b []byte) error {
	v, err := ParseCostTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Tag is a capability label declared by a backend.
type Tag string

const (
	TagReasoning        Tag = "reasoning"
	TagAnalysis         Tag = "analysis"
	TagSpeed            Tag = "speed"
	TagStructuredOutput Tag = "structured-output"
	TagLongContext      Tag = "long-context"
)

// Descriptor is the static description of one backend. It is owned by the
// Registry and never mutated after registration.
type Descriptor struct {
	ID              string    `json:"id"`
	StrengthTags    []Tag     `json:"strength_tags"`
	SpeedTier       SpeedTier `json:"speed_tier"`
	CostTier        CostTier  `json:"cost_tier"`
	MaxOutputTokens int       `json:"max_output_tokens"`
	ContextWindow   int       `json:"context_window"`
}

// HasTag reports whether the backend declares the given capability.
func (d Descriptor) HasTag(tag Tag) bool {
	for _, t := range d.StrengthTags {
		if t == tag {
			return true
		}
	}
	return false
}

func (d Descriptor) validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor id must not be empty")
	}
	if d.MaxOutputTokens <= 0 {
		return fmt.Errorf("descriptor %q: max output tokens must be positive", d.ID)
	}
	if d.ContextWindow <= 0 {
		return fmt.Errorf("descriptor %q: context window must be positive", d.ID)
	}
	return nil
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.StrengthTags = append([]Tag(nil), d.StrengthTags...)
	return c
}
