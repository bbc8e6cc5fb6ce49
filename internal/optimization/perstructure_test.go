package optimization_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-quant/strategy-forge/internal/backtester"
	"github.com/atlas-quant/strategy-forge/internal/discovery"
	"github.com/atlas-quant/strategy-forge/internal/optimization"
	"github.com/shopspring/decimal"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func frameStart(frame *types.QuoteFrame) time.Time { return time.UnixMilli(frame.At(0).TimestampMs) }
func frameEnd(frame *types.QuoteFrame) time.Time {
	return time.UnixMilli(frame.At(frame.Len() - 1).TimestampMs)
}

func TestPerStructureOptimizerReturnsGenomeForEveryParameter(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	tf := types.Hour1
	frame := oscillatingFrame(symbol, tf, 300)

	loader := &fakeDataLoader{frame: frame}
	slippage := backtester.CreateSlippageModel(types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)})
	engine := backtester.NewEngine(zap.NewNop(), loader, slippage)
	fitnessEval := backtester.NewFitnessEvaluator(backtester.DefaultFitnessThresholds(), backtester.DefaultFitnessWeights())

	builder := discovery.NewCandidateBuilder(discovery.DefaultConfig(), 5)
	candidate := builder.Build(testIndicators(), testStopHandlers(), nil, tf)
	if len(candidate.Parameters) == 0 {
		t.Fatal("expected at least one tunable parameter")
	}

	baseline := &types.BacktestConfig{
		ID:             "per-structure-test",
		Symbols:        []string{"BTCUSD"},
		StartDate:      frameStart(frame),
		EndDate:        frameEnd(frame),
		BaseTimeframe:  tf,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
		RiskLimits: types.RiskLimits{
			MaxPositionSize:  decimal.NewFromFloat(0.5),
			MaxOpenPositions: 1,
		},
	}

	runner := discovery.NewEvaluationRunner(engine, fitnessEval, baseline)
	optConfig := optimization.DefaultOptimizerConfig()
	optConfig.PopulationSize = 8
	optConfig.Generations = 3
	optConfig.ParallelWorkers = 2

	opt := optimization.NewPerStructureOptimizer(zap.NewNop(), runner)
	result, err := opt.Optimize(context.Background(), candidate, optConfig)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.Genome == nil {
		t.Fatal("expected a non-nil resulting genome")
	}
	if len(result.Genome) != len(candidate.Parameters) {
		t.Errorf("expected genome to cover every parameter: got %d, want %d", len(result.Genome), len(candidate.Parameters))
	}
	if result.GA == nil || result.GA.Iterations == 0 {
		t.Error("expected the underlying GA to have run at least one iteration")
	}
}
