// Package discovery builds structurally valid strategy candidates by a
// stochastic phased construction process, then binds concrete parameter
// values to them through the genetic algorithm.
package discovery

import "github.com/atlas-quant/strategy-forge/pkg/types"

// ElementConstraints bounds how many of each kind of element a candidate
// may carry. The builder treats these as hard limits — additional phases
// stop adding an element kind once its maximum is reached.
type ElementConstraints struct {
	MinIndicators    int
	MaxIndicators    int
	MinConditions    int
	MaxConditions    int
	MinStopHandlers  int
	MaxStopHandlers  int
	MinTakeHandlers  int
	MaxTakeHandlers  int
	MinEntryRules    int
	MinExitRules     int
	MaxNestedDepth   int
	MaxTimeframes    int
}

// DefaultElementConstraints is a conservative default sizing: few enough
// elements that a single individual stays cheap to evaluate, generous
// enough that the search space is not degenerate.
func DefaultElementConstraints() ElementConstraints {
	return ElementConstraints{
		MinIndicators:   1,
		MaxIndicators:   6,
		MinConditions:   1,
		MaxConditions:   8,
		MinStopHandlers: 1,
		MaxStopHandlers: 2,
		MinTakeHandlers: 0,
		MaxTakeHandlers: 1,
		MinEntryRules:   1,
		MinExitRules:    1,
		MaxNestedDepth:  1,
		MaxTimeframes:   3,
	}
}

// ElementProbabilities are the independent per-phase acceptance
// probabilities that make candidate construction stochastic rather than
// exhaustive.
type ElementProbabilities struct {
	ContinueBuilding     float64 // chance an additional phase runs at all
	AddIndicator         float64
	AddCondition         float64
	AddTakeHandler       float64
	AddHigherTimeframe   float64
	NestIndicator        float64
	VolatilityInPhase1   float64 // phase 1 otherwise excludes volatility/volume
}

// DefaultElementProbabilities biases toward terminating quickly:
// ContinueBuilding starts high enough to usually add a second phase, then
// decays in practice as the caller lowers it between calls for shallower
// searches.
func DefaultElementProbabilities() ElementProbabilities {
	return ElementProbabilities{
		ContinueBuilding:   0.5,
		AddIndicator:       0.6,
		AddCondition:       0.6,
		AddTakeHandler:     0.3,
		AddHigherTimeframe: 0.25,
		NestIndicator:      0.15,
		VolatilityInPhase1: 0.0,
	}
}

// RuleKind tags the three dependency/exclusion/conditional rule shapes
// the builder's rule-application pass evaluates after phase 1.
type RuleKind int

const (
	RuleDependency RuleKind = iota // if Trigger present, ensure Target present
	RuleExclusion                  // if Trigger present, remove Target
	RuleConditionalAction           // if Trigger present, run Action
)

// ElementKind tags what a rule's Trigger/Target names refer to: an
// indicator source name or a stop/take handler registry name.
type ElementKind int

const (
	KindIndicator ElementKind = iota
	KindStopHandler
)

// BuildRule is one dependency/exclusion/conditional rule evaluated during
// rule application, e.g. "if ATRTrail is used, require an ATR-based
// indicator" is RuleDependency{Trigger: (KindStopHandler, "ATRTrail"),
// Target: (KindIndicator, "atr")}.
type BuildRule struct {
	Kind        RuleKind
	TriggerKind ElementKind
	Trigger     string
	TargetKind  ElementKind
	Target      string
	Action      func(c *types.StrategyCandidate)
}

// DefaultBuildRules encodes the handful of structural dependencies the
// registry's trail/ATR handlers imply: a trailing-ATR stop is meaningless
// without an ATR series already on the candidate to size it from.
func DefaultBuildRules() []BuildRule {
	return []BuildRule{
		{Kind: RuleDependency, TriggerKind: KindStopHandler, Trigger: "ATRTrail", TargetKind: KindIndicator, Target: "atr"},
	}
}

// Config bundles everything CandidateBuilder needs for one run.
type Config struct {
	Constraints   ElementConstraints
	Probabilities ElementProbabilities
	Rules         []BuildRule
	OscillatorThresholds []float64 // e.g. RSI 30/50/70 — not read by CandidateBuilder, whose conditions always compare close against an indicator
}

func DefaultConfig() Config {
	return Config{
		Constraints:          DefaultElementConstraints(),
		Probabilities:        DefaultElementProbabilities(),
		Rules:                DefaultBuildRules(),
		OscillatorThresholds: []float64{30, 50, 70},
	}
}

// AvailableIndicator names one indicator the builder may draw from, tagged
// so phase 1 can exclude volatility/volume indicators.
type AvailableIndicator struct {
	Source      string
	IsVolatility bool
	IsVolume    bool
	DefaultParams map[string]any
}

// AvailableStopHandler names one registry stop/take handler the builder
// may draw from.
type AvailableStopHandler struct {
	Name          string
	DefaultParams map[string]any
}
