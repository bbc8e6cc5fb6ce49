package discovery_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-forge/internal/backtester"
	"github.com/atlas-quant/strategy-forge/internal/discovery"
	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeDataLoader struct {
	frame *types.QuoteFrame
}

func (f *fakeDataLoader) Load(_ context.Context, _ string, _ types.Timeframe, _, _ time.Time) (*types.QuoteFrame, error) {
	return f.frame, nil
}

func oscillatingFrame(symbol types.Symbol, tf types.Timeframe, n int) *types.QuoteFrame {
	f := types.NewQuoteFrame(symbol, tf, 0)
	stepMs := int64(tf.MinuteCount()) * 60_000
	for i := 0; i < n; i++ {
		price := 100 + 10*math.Sin(float64(i)/6)
		q := types.Quote{
			Symbol: symbol, Timeframe: tf, TimestampMs: int64(i) * stepMs,
			Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 1000,
		}
		_ = f.Push(q)
	}
	return f
}

func testBaseline(tf types.Timeframe, frame *types.QuoteFrame) *types.BacktestConfig {
	return &types.BacktestConfig{
		ID:             "discovered",
		Symbols:        []string{"BTCUSD"},
		StartDate:      time.UnixMilli(frame.At(0).TimestampMs),
		EndDate:        time.UnixMilli(frame.At(frame.Len() - 1).TimestampMs),
		BaseTimeframe:  tf,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
		RiskLimits: types.RiskLimits{
			MaxPositionSize:  decimal.NewFromFloat(0.5),
			MaxOpenPositions: 1,
		},
	}
}

func testRunner(t *testing.T) (*discovery.EvaluationRunner, *types.StrategyCandidate) {
	t.Helper()

	symbol := types.NewSymbol("BTCUSD")
	tf := types.Hour1
	frame := oscillatingFrame(symbol, tf, 300)

	loader := &fakeDataLoader{frame: frame}
	slippage := backtester.CreateSlippageModel(types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)})
	engine := backtester.NewEngine(zap.NewNop(), loader, slippage)
	fitness := backtester.NewFitnessEvaluator(backtester.DefaultFitnessThresholds(), backtester.DefaultFitnessWeights())

	runner := discovery.NewEvaluationRunner(engine, fitness, testBaseline(tf, frame))

	config := discovery.DefaultConfig()
	builder := discovery.NewCandidateBuilder(config, 3)
	candidate := builder.Build(testIndicators(), testStopHandlers(), nil, tf)

	return runner, candidate
}

func genomeFor(c *types.StrategyCandidate) map[string]float64 {
	genome := map[string]float64{}
	for _, p := range c.Parameters {
		genome[p.Name] = p.Default
	}
	return genome
}

func TestEvaluationRunnerCachesRepeatedEvaluations(t *testing.T) {
	runner, candidate := testRunner(t)
	genome := genomeFor(candidate)

	if runner.CacheSize() != 0 {
		t.Fatalf("expected an empty cache before any evaluation, got %d", runner.CacheSize())
	}

	report1, fitness1, err := runner.Evaluate(context.Background(), candidate, genome)
	if err != nil {
		t.Fatalf("first evaluation failed: %v", err)
	}
	if report1 == nil {
		t.Fatal("expected a non-nil report")
	}
	if runner.CacheSize() != 1 {
		t.Fatalf("expected cache size 1 after first evaluation, got %d", runner.CacheSize())
	}

	report2, fitness2, err := runner.Evaluate(context.Background(), candidate, genome)
	if err != nil {
		t.Fatalf("second evaluation failed: %v", err)
	}
	if report2 != report1 {
		t.Error("expected the second evaluation to return the cached report pointer")
	}
	if fitness2 != fitness1 {
		t.Error("expected the second evaluation to return the cached fitness result")
	}
	if runner.CacheSize() != 1 {
		t.Errorf("expected cache size to stay at 1 after a repeated evaluation, got %d", runner.CacheSize())
	}
}

func TestEvaluationRunnerDistinctGenomesMiss(t *testing.T) {
	runner, candidate := testRunner(t)
	genomeA := genomeFor(candidate)
	genomeB := map[string]float64{}
	for k, v := range genomeA {
		genomeB[k] = v + 1
	}

	if _, _, err := runner.Evaluate(context.Background(), candidate, genomeA); err != nil {
		t.Fatalf("evaluating genome A failed: %v", err)
	}
	if _, _, err := runner.Evaluate(context.Background(), candidate, genomeB); err != nil {
		t.Fatalf("evaluating genome B failed: %v", err)
	}

	if runner.CacheSize() != 2 {
		t.Errorf("expected two distinct cache entries for two distinct genomes, got %d", runner.CacheSize())
	}
}

func TestEvaluationRunnerFailingThresholdsYieldZeroScore(t *testing.T) {
	runner, candidate := testRunner(t)
	genome := genomeFor(candidate)

	strictFitness := backtester.NewFitnessEvaluator(types.FitnessThresholds{
		MinTrades: 100000,
	}, backtester.DefaultFitnessWeights())
	runner = discovery.NewEvaluationRunner(
		backtester.NewEngine(zap.NewNop(), &fakeDataLoader{frame: oscillatingFrame(types.NewSymbol("BTCUSD"), types.Hour1, 300)}, backtester.CreateSlippageModel(types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)})),
		strictFitness,
		testBaseline(types.Hour1, oscillatingFrame(types.NewSymbol("BTCUSD"), types.Hour1, 300)),
	)

	_, result, err := runner.Evaluate(context.Background(), candidate, genome)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Passed {
		t.Error("expected an impossibly high trade-count threshold to fail the candidate")
	}
	if result.Score != 0 {
		t.Errorf("expected a failing candidate to carry score 0, got %f", result.Score)
	}
}
