package condition_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/condition"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func buildContext(t *testing.T, fast, slow []float64) (*types.StrategyContext, types.Timeframe) {
	t.Helper()
	tf := types.Hours(1)
	symbol := types.NewSymbol("BTCUSD")
	frame := types.NewQuoteFrame(symbol, tf, 0)
	for i := range fast {
		q := types.Quote{Symbol: symbol, Timeframe: tf, TimestampMs: int64(i) * 3_600_000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
		if err := frame.Push(q); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	td := &types.TimeframeData{
		Timeframe: tf,
		Frame:     frame,
		Indicators: map[string]types.ValueVector{
			"fast": types.NewValueVector(fast),
			"slow": types.NewValueVector(slow),
		},
	}
	ctx := &types.StrategyContext{
		Timeframes: map[string]*types.TimeframeData{tf.String(): td},
	}
	return ctx, tf
}

func conditionBinding(id string, tf types.Timeframe, op types.ConditionOperator) types.ConditionBinding {
	return types.ConditionBinding{
		ID:        id,
		Timeframe: tf,
		Operator:  op,
		Input: types.ConditionInput{
			Kind:      types.InputDual,
			Primary:   types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "fast"},
			Secondary: types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "slow"},
		},
	}
}

// S1 — SMA crossover entry.
func TestCrossesAboveFixtureS1(t *testing.T) {
	fast := []float64{1.0, 1.2, 1.6, 2.0}
	slow := []float64{1.0, 1.1, 1.2, 1.3}
	ctx, tf := buildContext(t, fast, slow)
	binding := conditionBinding("cross_up", tf, types.OpCrossesAbove)
	ctx.Definition = &types.StrategyDefinition{Conditions: []types.ConditionBinding{binding}}

	if err := condition.NewEngine().Populate(ctx); err != nil {
		t.Fatalf("populate: %v", err)
	}
	series := ctx.Timeframes[tf.String()].Conditions["cross_up"]
	if series.At(0) {
		t.Fatal("index 0 should not cross (fast == slow)")
	}
	if !series.At(1) {
		t.Fatal("index 1 should cross above (fast 1.2 > slow 1.1, prior fast==slow)")
	}
}

// S2 — SMA crossover exit.
func TestCrossesBelowFixtureS2(t *testing.T) {
	fast := []float64{2.0, 1.8, 1.4, 1.0}
	slow := []float64{1.5, 1.6, 1.55, 1.5}
	ctx, tf := buildContext(t, fast, slow)
	binding := conditionBinding("cross_down", tf, types.OpCrossesBelow)
	ctx.Definition = &types.StrategyDefinition{Conditions: []types.ConditionBinding{binding}}

	if err := condition.NewEngine().Populate(ctx); err != nil {
		t.Fatalf("populate: %v", err)
	}
	series := ctx.Timeframes[tf.String()].Conditions["cross_down"]
	if !series.At(2) {
		t.Fatal("index 2 should cross below (fast 1.4 < slow 1.55, prior fast > slow)")
	}
	if series.At(1) {
		t.Fatal("index 1 should not cross (fast 1.8 > slow 1.6)")
	}
}

func TestRisingTrendWarmupIsFalse(t *testing.T) {
	fast := []float64{1, 2, 3, 4, 5}
	ctx, tf := buildContext(t, fast, fast)
	binding := types.ConditionBinding{
		ID:        "rising",
		Timeframe: tf,
		Operator:  types.OpRisingTrend,
		Input: types.ConditionInput{
			Kind:    types.InputSingle,
			Primary: types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "fast"},
			Period:  3,
		},
	}
	ctx.Definition = &types.StrategyDefinition{Conditions: []types.ConditionBinding{binding}}
	if err := condition.NewEngine().Populate(ctx); err != nil {
		t.Fatalf("populate: %v", err)
	}
	series := ctx.Timeframes[tf.String()].Conditions["rising"]
	if series.At(0) || series.At(1) {
		t.Fatal("expected warmup indices to evaluate false")
	}
	if !series.At(3) || !series.At(4) {
		t.Fatal("expected rising trend to hold once period samples are available")
	}
}
