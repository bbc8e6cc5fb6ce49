// Package backtester provides strategy viability assessment.
// Based on research: "Sharpe >0.5, DD <20%, PF >1.5 predict live performance"
// This module determines if a strategy is worth trading based on robust metrics.
package backtester

import (
	"fmt"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
)

// ViabilityThresholds bounds what "acceptable" looks like for each
// category the checker scores. A nil CAGR or Sharpe ratio adds a warning
// and lowers its category score, and a nil profit factor adds an
// informational issue; a nil win rate, expectancy or Calmar ratio is
// skipped without effect.
type ViabilityThresholds struct {
	MinSharpe       decimal.Decimal
	MaxDrawdownPct  decimal.Decimal
	MinWinRate      decimal.Decimal
	MinProfitFactor decimal.Decimal
	MinTrades       int
	MinExpectancy   decimal.Decimal
	MinCalmar       decimal.Decimal
}

// DefaultViabilityThresholds mirrors the weighted fitness score's own
// defaults so a report's grade and a fitness pass/fail generally agree.
func DefaultViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpe:       decimal.NewFromFloat(0.5),
		MaxDrawdownPct:  decimal.NewFromFloat(0.30),
		MinWinRate:      decimal.NewFromFloat(0.35),
		MinProfitFactor: decimal.NewFromFloat(1.1),
		MinTrades:       20,
		MinExpectancy:   decimal.Zero,
		MinCalmar:       decimal.NewFromFloat(0.3),
	}
}

// AggressiveViabilityThresholds relaxes every bound, suited to early
// exploratory discovery runs where strict gating would starve the
// population.
func AggressiveViabilityThresholds() ViabilityThresholds {
	t := DefaultViabilityThresholds()
	t.MinSharpe = decimal.NewFromFloat(0.2)
	t.MaxDrawdownPct = decimal.NewFromFloat(0.45)
	t.MinWinRate = decimal.NewFromFloat(0.25)
	t.MinProfitFactor = decimal.NewFromFloat(1.0)
	t.MinTrades = 10
	return t
}

// ConservativeViabilityThresholds tightens every bound, suited to a
// final pre-deployment review of a surviving candidate.
func ConservativeViabilityThresholds() ViabilityThresholds {
	t := DefaultViabilityThresholds()
	t.MinSharpe = decimal.NewFromFloat(1.0)
	t.MaxDrawdownPct = decimal.NewFromFloat(0.20)
	t.MinWinRate = decimal.NewFromFloat(0.45)
	t.MinProfitFactor = decimal.NewFromFloat(1.5)
	t.MinTrades = 50
	t.MinCalmar = decimal.NewFromFloat(0.8)
	return t
}

// ViabilityChecker turns a BacktestReport into a human-facing
// ViabilityReport: a letter grade, four category scores, and structured
// issues/strengths. It never feeds the genetic algorithm's selection
// math — that consumes FitnessResult instead.
type ViabilityChecker struct {
	thresholds ViabilityThresholds
}

func NewViabilityChecker(thresholds ViabilityThresholds) *ViabilityChecker {
	return &ViabilityChecker{thresholds: thresholds}
}

// Check scores one completed run plus its optional walk-forward
// validation.
func (vc *ViabilityChecker) Check(report *types.BacktestReport, walkForward *types.WalkForwardResult) *types.ViabilityReport {
	var issues []types.ViabilityIssue
	var strengths []string

	returnScore, rIssues, rStrengths := vc.scoreReturn(report.Metrics)
	issues = append(issues, rIssues...)
	strengths = append(strengths, rStrengths...)

	riskScore, kIssues, kStrengths := vc.scoreRisk(report.Metrics)
	issues = append(issues, kIssues...)
	strengths = append(strengths, kStrengths...)

	consistencyScore, cIssues, cStrengths := vc.scoreConsistency(report.Metrics)
	issues = append(issues, cIssues...)
	strengths = append(strengths, cStrengths...)

	robustnessScore, oIssues, oStrengths := vc.scoreRobustness(walkForward)
	issues = append(issues, oIssues...)
	strengths = append(strengths, oStrengths...)

	overall := (returnScore + riskScore + consistencyScore + robustnessScore) / 4

	rv := &types.ViabilityReport{
		Grade: gradeFor(overall),
		Score: overall,
		Categories: []types.ViabilityCategoryScore{
			{Name: "return", Score: returnScore},
			{Name: "risk", Score: riskScore},
			{Name: "consistency", Score: consistencyScore},
			{Name: "robustness", Score: robustnessScore},
		},
		Issues:    issues,
		Strengths: strengths,
	}
	rv.IsViable = !hasCriticalIssue(report.Metrics, vc.thresholds) && overall >= 50
	return rv
}

func (vc *ViabilityChecker) scoreReturn(m types.PerformanceMetrics) (float64, []types.ViabilityIssue, []string) {
	var issues []types.ViabilityIssue
	var strengths []string
	score := 50.0

	if m.CAGR != nil {
		cagr, _ := m.CAGR.Float64()
		switch {
		case cagr >= 30:
			score += 25
			strengths = append(strengths, fmt.Sprintf("strong CAGR of %.1f%%", cagr))
		case cagr >= 10:
			score += 10
		case cagr < 0:
			score -= 25
			issues = append(issues, types.ViabilityIssue{
				Metric: "cagr", Actual: *m.CAGR, Required: decimal.Zero,
				Severity: types.SeverityCritical, Suggestion: "strategy loses money on an annualized basis; revisit entry/exit rules before further tuning",
			})
		}
	} else {
		issues = append(issues, types.ViabilityIssue{
			Metric: "cagr", Severity: types.SeverityWarning,
			Suggestion: "too little history to annualize a return; extend the backtest window",
		})
		score -= 10
	}

	if m.ProfitFactor != nil {
		if m.ProfitFactor.LessThan(vc.thresholds.MinProfitFactor) {
			issues = append(issues, types.ViabilityIssue{
				Metric: "profit_factor", Actual: *m.ProfitFactor, Required: vc.thresholds.MinProfitFactor,
				Severity: types.SeverityWarning, Suggestion: "gross losses are too large relative to gross wins; tighten stops or raise the entry threshold",
			})
			score -= 15
		} else if m.ProfitFactor.GreaterThan(decimal.NewFromFloat(2.0)) {
			score += 15
			strengths = append(strengths, "profit factor above 2.0")
		}
	} else {
		issues = append(issues, types.ViabilityIssue{
			Metric: "profit_factor", Severity: types.SeverityInfo,
			Suggestion: "no losing trades yet to divide by; revisit once the sample grows",
		})
	}

	return clampScore(score), issues, strengths
}

func (vc *ViabilityChecker) scoreRisk(m types.PerformanceMetrics) (float64, []types.ViabilityIssue, []string) {
	var issues []types.ViabilityIssue
	var strengths []string
	score := 50.0

	switch {
	case m.MaxDrawdownPercent.GreaterThan(vc.thresholds.MaxDrawdownPct):
		issues = append(issues, types.ViabilityIssue{
			Metric: "max_drawdown_pct", Actual: m.MaxDrawdownPercent, Required: vc.thresholds.MaxDrawdownPct,
			Severity: types.SeverityCritical, Suggestion: "drawdown exceeds the configured risk tolerance; tighten position sizing or stop distance",
		})
		score -= 25
	case m.MaxDrawdownPercent.LessThan(decimal.NewFromFloat(0.10)):
		score += 20
		strengths = append(strengths, "max drawdown held under 10%")
	}

	if m.SharpeRatio != nil {
		if m.SharpeRatio.LessThan(vc.thresholds.MinSharpe) {
			issues = append(issues, types.ViabilityIssue{
				Metric: "sharpe_ratio", Actual: *m.SharpeRatio, Required: vc.thresholds.MinSharpe,
				Severity: types.SeverityWarning, Suggestion: "risk-adjusted return is weak; returns are not compensating for their volatility",
			})
			score -= 20
		} else if m.SharpeRatio.GreaterThan(decimal.NewFromFloat(1.5)) {
			score += 20
			strengths = append(strengths, "Sharpe ratio above 1.5")
		}
	} else {
		issues = append(issues, types.ViabilityIssue{
			Metric: "sharpe_ratio", Severity: types.SeverityWarning,
			Suggestion: "too few return samples to compute a Sharpe ratio",
		})
		score -= 10
	}

	if m.CalmarRatio != nil && m.CalmarRatio.LessThan(vc.thresholds.MinCalmar) {
		issues = append(issues, types.ViabilityIssue{
			Metric: "calmar_ratio", Actual: *m.CalmarRatio, Required: vc.thresholds.MinCalmar,
			Severity: types.SeverityInfo, Suggestion: "return relative to drawdown is below target; consider a shallower trail",
		})
		score -= 10
	}

	return clampScore(score), issues, strengths
}

func (vc *ViabilityChecker) scoreConsistency(m types.PerformanceMetrics) (float64, []types.ViabilityIssue, []string) {
	var issues []types.ViabilityIssue
	var strengths []string
	score := 50.0

	if m.TotalTrades < vc.thresholds.MinTrades {
		issues = append(issues, types.ViabilityIssue{
			Metric: "total_trades", Actual: decimal.NewFromInt(int64(m.TotalTrades)), Required: decimal.NewFromInt(int64(vc.thresholds.MinTrades)),
			Severity: types.SeverityCritical, Suggestion: "sample size is too small for statistical confidence; run over a longer window",
		})
		score -= 25
	} else if m.TotalTrades >= 100 {
		score += 15
		strengths = append(strengths, "sample size of 100+ trades")
	}

	if m.WinRate != nil {
		if m.WinRate.LessThan(vc.thresholds.MinWinRate) {
			issues = append(issues, types.ViabilityIssue{
				Metric: "win_rate", Actual: *m.WinRate, Required: vc.thresholds.MinWinRate,
				Severity: types.SeverityWarning, Suggestion: "win rate is low; verify the edge isn't solely a fat-tail profit-factor artifact",
			})
			score -= 15
		} else if m.WinRate.GreaterThan(decimal.NewFromFloat(0.55)) {
			score += 10
			strengths = append(strengths, "win rate above 55%")
		}
	}

	if m.Expectancy != nil {
		if m.Expectancy.LessThan(vc.thresholds.MinExpectancy) {
			issues = append(issues, types.ViabilityIssue{
				Metric: "expectancy", Actual: *m.Expectancy, Required: vc.thresholds.MinExpectancy,
				Severity: types.SeverityCritical, Suggestion: "negative per-trade expectancy; the strategy loses on average regardless of sizing",
			})
			score -= 20
		} else {
			score += 10
		}
	}

	return clampScore(score), issues, strengths
}

func (vc *ViabilityChecker) scoreRobustness(wf *types.WalkForwardResult) (float64, []types.ViabilityIssue, []string) {
	if wf == nil || len(wf.Windows) == 0 {
		return 50, nil, nil
	}

	var issues []types.ViabilityIssue
	var strengths []string
	var agree, total int
	for _, window := range wf.Windows {
		if window.InSampleMetrics == nil || window.OutSampleMetrics == nil {
			continue
		}
		total++
		inPositive := window.InSampleMetrics.TotalReturn.GreaterThan(decimal.Zero)
		outPositive := window.OutSampleMetrics.TotalReturn.GreaterThan(decimal.Zero)
		if inPositive == outPositive {
			agree++
		}
	}
	if total == 0 {
		return 50, nil, nil
	}

	ratio := float64(agree) / float64(total)
	score := ratio * 100
	switch {
	case ratio >= 0.8:
		strengths = append(strengths, "out-of-sample performance agrees with in-sample across most windows")
	case ratio < 0.5:
		issues = append(issues, types.ViabilityIssue{
			Metric: "walk_forward_agreement", Actual: decimal.NewFromFloat(ratio), Required: decimal.NewFromFloat(0.5),
			Severity: types.SeverityWarning, Suggestion: "out-of-sample windows frequently disagree with in-sample direction; likely overfit",
		})
	}

	if wf.Robustness.GreaterThan(decimal.Zero) {
		robustnessF, _ := wf.Robustness.Float64()
		score = (score + robustnessF*100) / 2
	}

	return clampScore(score), issues, strengths
}

func hasCriticalIssue(m types.PerformanceMetrics, t ViabilityThresholds) bool {
	if m.TotalTrades < t.MinTrades {
		return true
	}
	if m.MaxDrawdownPercent.GreaterThan(t.MaxDrawdownPct.Mul(decimal.NewFromFloat(1.5))) {
		return true
	}
	if m.SharpeRatio != nil && m.SharpeRatio.LessThan(decimal.Zero) {
		return true
	}
	return false
}

func gradeFor(score float64) types.ViabilityGrade {
	switch {
	case score >= 85:
		return types.GradeA
	case score >= 70:
		return types.GradeB
	case score >= 55:
		return types.GradeC
	case score >= 40:
		return types.GradeD
	default:
		return types.GradeF
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
