package strategy_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/strategy"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func buildEvalContext(conditionValue bool) *types.StrategyContext {
	tf := types.Hours(1)
	series := types.NewBoolVector([]bool{conditionValue})
	td := &types.TimeframeData{
		Timeframe:    tf,
		CurrentIndex: 0,
		Conditions:   map[string]types.BoolVector{"c1": series, "c2": series},
	}
	return &types.StrategyContext{Timeframes: map[string]*types.TimeframeData{tf.String(): td}}
}

func TestRuleFiresOnAllLogic(t *testing.T) {
	tf := types.Hours(1)
	def := &types.StrategyDefinition{
		Conditions: []types.ConditionBinding{{ID: "c1", Timeframe: tf}, {ID: "c2", Timeframe: tf}},
		EntryRules: []types.StrategyRule{{ID: "enter_long", Logic: types.LogicAll, Conditions: []string{"c1", "c2"}, Direction: types.DirectionLong, Timeframe: tf}},
	}
	ev := strategy.NewRuleEvaluator(def)

	decision := ev.Evaluate(buildEvalContext(true))
	if len(decision.Entries) != 1 {
		t.Fatalf("expected 1 entry signal, got %d", len(decision.Entries))
	}
	if decision.Entries[0].Direction != types.DirectionLong {
		t.Fatalf("expected long direction, got %v", decision.Entries[0].Direction)
	}

	decision = ev.Evaluate(buildEvalContext(false))
	if len(decision.Entries) != 0 {
		t.Fatalf("expected no entries when conditions are false, got %d", len(decision.Entries))
	}
}

func TestRuleFiresOnAnyLogic(t *testing.T) {
	tf := types.Hours(1)
	def := &types.StrategyDefinition{
		Conditions: []types.ConditionBinding{{ID: "c1", Timeframe: tf}},
		ExitRules:  []types.StrategyRule{{ID: "exit_long", Logic: types.LogicAny, Conditions: []string{"c1", "missing"}, Direction: types.DirectionFlat, Timeframe: tf}},
	}
	ev := strategy.NewRuleEvaluator(def)
	decision := ev.Evaluate(buildEvalContext(true))
	if len(decision.Exits) != 1 {
		t.Fatalf("expected 1 exit signal via Any logic, got %d", len(decision.Exits))
	}
}
