package backtester_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/backtester"
	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
)

func pnlTrade(pnl float64) types.ClosedTrade {
	return types.ClosedTrade{PnL: decimal.NewFromFloat(pnl), PnLPercent: decimal.NewFromFloat(pnl).Div(decimal.NewFromInt(100))}
}

func TestMonteCarloSimulatorEmptyTradesReturnsZeroIterations(t *testing.T) {
	sim := backtester.NewMonteCarloSimulator(nil, types.MonteCarloConfig{})
	result := sim.Run(nil)
	if result.Iterations != 0 {
		t.Fatalf("expected 0 iterations for an empty trade log, got %d", result.Iterations)
	}
}

func TestMonteCarloSimulatorProducesBoundedDistribution(t *testing.T) {
	trades := []types.ClosedTrade{
		pnlTrade(5), pnlTrade(-2), pnlTrade(3), pnlTrade(-1), pnlTrade(4), pnlTrade(-3),
	}
	sim := backtester.NewMonteCarloSimulator(nil, types.MonteCarloConfig{Iterations: 500})
	result := sim.Run(trades)

	if result.Iterations != 500 {
		t.Fatalf("expected 500 iterations, got %d", result.Iterations)
	}
	if len(result.Distribution) != 500 {
		t.Fatalf("expected a distribution sample per iteration, got %d", len(result.Distribution))
	}
	if result.P5Return.GreaterThan(result.P95Return) {
		t.Fatalf("expected p5 <= p95, got p5=%s p95=%s", result.P5Return, result.P95Return)
	}
	if result.ProbabilityRuin.LessThan(decimal.Zero) || result.ProbabilityRuin.GreaterThan(decimal.NewFromInt(1)) {
		t.Fatalf("expected probability of ruin in [0,1], got %s", result.ProbabilityRuin)
	}
}

func TestMonteCarloSimulatorDetectsRuin(t *testing.T) {
	trades := []types.ClosedTrade{pnlTrade(-60), pnlTrade(-60)}
	sim := backtester.NewMonteCarloSimulator(nil, types.MonteCarloConfig{Iterations: 50})
	result := sim.Run(trades)

	if !result.ProbabilityRuin.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected every path to breach ruin, got probability %s", result.ProbabilityRuin)
	}
}
