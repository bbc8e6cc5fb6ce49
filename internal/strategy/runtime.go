package strategy

import "github.com/atlas-quant/strategy-forge/pkg/types"

// RuleEvaluator evaluates a StrategyDefinition's entry/exit rules against
// a precomputed StrategyContext, one bar at a time. It holds no mutable
// backtest state of its own — only the lookup it needs to find which
// timeframe each referenced condition id lives on.
type RuleEvaluator struct {
	def            *types.StrategyDefinition
	conditionTf    map[string]types.Timeframe
}

// NewRuleEvaluator indexes def's condition bindings by id so Evaluate can
// resolve a rule's referenced condition ids to the TimeframeData holding
// their precomputed series.
func NewRuleEvaluator(def *types.StrategyDefinition) *RuleEvaluator {
	idx := make(map[string]types.Timeframe, len(def.Conditions))
	for _, c := range def.Conditions {
		idx[c.ID] = c.Timeframe
	}
	return &RuleEvaluator{def: def, conditionTf: idx}
}

// Evaluate fires every entry/exit rule whose logic holds at the current
// bar, reading each referenced condition at its own timeframe's current
// index (which the feed manager keeps aligned to the primary bar).
func (e *RuleEvaluator) Evaluate(ctx *types.StrategyContext) types.StrategyDecision {
	var decision types.StrategyDecision
	for _, rule := range e.def.EntryRules {
		if e.ruleFires(ctx, rule) {
			decision.Entries = append(decision.Entries, e.signalFor(rule))
		}
	}
	for _, rule := range e.def.ExitRules {
		if e.ruleFires(ctx, rule) {
			decision.Exits = append(decision.Exits, e.signalFor(rule))
		}
	}
	return decision
}

func (e *RuleEvaluator) signalFor(rule types.StrategyRule) types.DecisionSignal {
	return types.DecisionSignal{
		RuleID:    rule.ID,
		Direction: rule.Direction,
		Timeframe: rule.Timeframe,
		Quantity:  rule.Quantity,
	}
}

func (e *RuleEvaluator) ruleFires(ctx *types.StrategyContext, rule types.StrategyRule) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	switch rule.Logic {
	case types.LogicAll:
		for _, id := range rule.Conditions {
			if !e.conditionHolds(ctx, id) {
				return false
			}
		}
		return true
	case types.LogicAny:
		for _, id := range rule.Conditions {
			if e.conditionHolds(ctx, id) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (e *RuleEvaluator) conditionHolds(ctx *types.StrategyContext, id string) bool {
	tf, ok := e.conditionTf[id]
	if !ok {
		return false
	}
	td := ctx.TimeframeDataFor(tf)
	if td == nil {
		return false
	}
	series, ok := td.Conditions[id]
	if !ok {
		return false
	}
	idx := td.CurrentIndex
	if idx < 0 || idx >= series.Len() {
		return false
	}
	return series.At(idx)
}
