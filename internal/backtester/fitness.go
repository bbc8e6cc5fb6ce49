package backtester

import (
	"fmt"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// tiered trade-count bonus breakpoints used by the weighted score.
const (
	tradeBonusHighCount = 100
	tradeBonusMidCount  = 50
	tradeBonusLowCount  = 30
)

// DefaultFitnessThresholds mirrors DefaultViabilityThresholds' tuning but
// is independent of it: the gate feeds the GA's selection logic, while
// viability is purely diagnostic and never consulted by the optimizer.
func DefaultFitnessThresholds() types.FitnessThresholds {
	return types.FitnessThresholds{
		MinSharpe:       0.5,
		MaxDrawdownPct:  30,
		MinWinRate:      0.35,
		MinProfitFactor: 1.1,
		MinTotalProfit:  0,
		MinTrades:       10,
		MinCAGR:         0,
		MaxAbsDrawdown:  0, // 0 disables the absolute check
	}
}

// DefaultFitnessWeights weights Sharpe highest among the four normalized
// components, consistent with risk-adjusted return being the most common
// default optimization target.
func DefaultFitnessWeights() types.FitnessWeights {
	return types.FitnessWeights{
		Sharpe:          0.35,
		ProfitFactor:    0.25,
		WinRate:         0.15,
		CAGR:            0.15,
		DrawdownPenalty: 0.10,
	}
}

// FitnessEvaluator applies the threshold gate and weighted score to a
// BacktestReport. Unlike ViabilityChecker it produces a single scalar the
// genetic algorithm can compare directly — it never returns a breakdown.
type FitnessEvaluator struct {
	thresholds types.FitnessThresholds
	weights    types.FitnessWeights
}

func NewFitnessEvaluator(thresholds types.FitnessThresholds, weights types.FitnessWeights) *FitnessEvaluator {
	return &FitnessEvaluator{thresholds: thresholds, weights: weights}
}

// Evaluate gates the report against the configured thresholds; a report
// that fails any configured threshold returns Passed=false, Score=0, and
// a Reason naming the first threshold it failed. A metric left nil by
// MetricsCalculator (too few trades to compute meaningfully) fails any
// threshold configured for it, per the "undefined fails, not passes" rule.
func (fe *FitnessEvaluator) Evaluate(report *types.BacktestReport) types.FitnessResult {
	m := report.Metrics
	t := fe.thresholds

	if m.TotalTrades < t.MinTrades {
		return fail(fmt.Sprintf("trades %d below minimum %d", m.TotalTrades, t.MinTrades))
	}
	if t.MinSharpe != 0 {
		if m.SharpeRatio == nil {
			return fail("sharpe undefined")
		}
		sharpe, _ := m.SharpeRatio.Float64()
		if sharpe < t.MinSharpe {
			return fail(fmt.Sprintf("sharpe %.3f below minimum %.3f", sharpe, t.MinSharpe))
		}
	}
	if t.MaxDrawdownPct != 0 {
		ddPct, _ := m.MaxDrawdownPercent.Float64()
		ddPct *= 100
		if ddPct > t.MaxDrawdownPct {
			return fail(fmt.Sprintf("drawdown %.2f%% exceeds maximum %.2f%%", ddPct, t.MaxDrawdownPct))
		}
	}
	if t.MinWinRate != 0 {
		if m.WinRate == nil {
			return fail("win rate undefined")
		}
		winRate, _ := m.WinRate.Float64()
		if winRate < t.MinWinRate {
			return fail(fmt.Sprintf("win rate %.3f below minimum %.3f", winRate, t.MinWinRate))
		}
	}
	if t.MinProfitFactor != 0 {
		if m.ProfitFactor == nil {
			return fail("profit factor undefined")
		}
		pf, _ := m.ProfitFactor.Float64()
		if pf < t.MinProfitFactor {
			return fail(fmt.Sprintf("profit factor %.3f below minimum %.3f", pf, t.MinProfitFactor))
		}
	}
	totalProfit, _ := m.TotalProfit.Float64()
	if totalProfit < t.MinTotalProfit {
		return fail(fmt.Sprintf("total profit %.2f below minimum %.2f", totalProfit, t.MinTotalProfit))
	}
	if t.MinCAGR != 0 {
		if m.CAGR == nil {
			return fail("CAGR undefined")
		}
		cagr, _ := m.CAGR.Float64()
		if cagr < t.MinCAGR {
			return fail(fmt.Sprintf("CAGR %.2f below minimum %.2f", cagr, t.MinCAGR))
		}
	}
	if t.MaxAbsDrawdown != 0 {
		maxDD, _ := m.MaxDrawdown.Float64()
		if maxDD > t.MaxAbsDrawdown {
			return fail(fmt.Sprintf("absolute drawdown %.2f exceeds maximum %.2f", maxDD, t.MaxAbsDrawdown))
		}
	}

	return types.FitnessResult{Passed: true, Score: fe.score(m)}
}

func fail(reason string) types.FitnessResult {
	return types.FitnessResult{Passed: false, Score: 0, Reason: reason}
}

// score computes the weighted-sum fitness for a report that has already
// cleared the threshold gate.
func (fe *FitnessEvaluator) score(m types.PerformanceMetrics) float64 {
	w := fe.weights

	var sharpeNorm float64
	if m.SharpeRatio != nil {
		s, _ := m.SharpeRatio.Float64()
		sharpeNorm = clip01(s / 3)
	}

	var pfNorm float64
	if m.ProfitFactor != nil {
		pf, _ := m.ProfitFactor.Float64()
		pfNorm = clip01(pf / 5)
	}

	var winRateNorm float64
	if m.WinRate != nil {
		wr, _ := m.WinRate.Float64()
		winRateNorm = clip01(wr)
	}

	var cagrNorm float64
	if m.CAGR != nil {
		c, _ := m.CAGR.Float64()
		cagrNorm = clip01(c / 100)
	}

	ddPct, _ := m.MaxDrawdownPercent.Float64()
	ddPenalty := clip01(ddPct * 100 / 50)

	tradeBonus := tradeCountBonus(m.TotalTrades)

	weightedSum := w.Sharpe*sharpeNorm +
		w.ProfitFactor*pfNorm +
		w.WinRate*winRateNorm +
		w.CAGR*cagrNorm -
		w.DrawdownPenalty*ddPenalty +
		tradeBonus

	weightTotal := w.Sharpe + w.ProfitFactor + w.WinRate + w.CAGR + w.DrawdownPenalty
	if weightTotal == 0 {
		return 0
	}

	score := weightedSum / weightTotal
	if score < 0 {
		return 0
	}
	return score
}

// tradeCountBonus rewards strategies that traded enough to make their
// other metrics statistically credible, tiered rather than linear so a
// strategy just shy of a tier doesn't lose disproportionate credit.
func tradeCountBonus(trades int) float64 {
	switch {
	case trades >= tradeBonusHighCount:
		return 1.0
	case trades >= tradeBonusMidCount:
		return 0.75
	case trades >= tradeBonusLowCount:
		return 0.5
	default:
		return 0.5 * float64(trades) / float64(tradeBonusLowCount)
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
