// Package backtester provides performance metrics calculation.
package backtester

import (
	"math"
	"sort"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
)

// MetricsCalculator derives PerformanceMetrics/RiskMetrics from a closed
// trade log and an equity curve. Ratio fields that need a minimum sample
// size are left nil rather than reported as a misleading zero.
type MetricsCalculator struct{}

func NewMetricsCalculator() *MetricsCalculator { return &MetricsCalculator{} }

func dptr(d decimal.Decimal) *decimal.Decimal { return &d }

// Calculate computes the full PerformanceMetrics set for a completed
// backtest.
func (mc *MetricsCalculator) Calculate(trades []types.ClosedTrade, equityCurve []types.EquityCurvePoint, initialCapital decimal.Decimal) types.PerformanceMetrics {
	var metrics types.PerformanceMetrics
	if len(trades) == 0 {
		return metrics
	}

	var winningTrades, losingTrades int
	var totalWins, totalLosses, totalPnL decimal.Decimal
	var largestWin, largestLoss decimal.Decimal

	for _, trade := range trades {
		totalPnL = totalPnL.Add(trade.PnL)
		switch {
		case trade.PnL.GreaterThan(decimal.Zero):
			winningTrades++
			totalWins = totalWins.Add(trade.PnL)
			if trade.PnL.GreaterThan(largestWin) {
				largestWin = trade.PnL
			}
		case trade.PnL.LessThan(decimal.Zero):
			losingTrades++
			abs := trade.PnL.Abs()
			totalLosses = totalLosses.Add(abs)
			if abs.GreaterThan(largestLoss) {
				largestLoss = abs
			}
		}
	}

	metrics.TotalTrades = len(trades)
	metrics.WinningTrades = winningTrades
	metrics.LosingTrades = losingTrades
	metrics.TotalPnL = totalPnL
	metrics.TotalProfit = totalWins.Sub(totalLosses)
	metrics.LargestWin = dptr(largestWin)
	metrics.LargestLoss = dptr(largestLoss)

	winRate := decimal.NewFromInt(int64(winningTrades)).Div(decimal.NewFromInt(int64(metrics.TotalTrades)))
	metrics.WinRate = dptr(winRate)
	metrics.WinningPercentage = dptr(winRate.Mul(decimal.NewFromInt(100)))
	metrics.AverageTrade = dptr(totalPnL.Div(decimal.NewFromInt(int64(metrics.TotalTrades))))

	if winningTrades > 0 {
		metrics.AvgWin = dptr(totalWins.Div(decimal.NewFromInt(int64(winningTrades))))
	}
	if losingTrades > 0 {
		metrics.AvgLoss = dptr(totalLosses.Div(decimal.NewFromInt(int64(losingTrades))))
	}
	if !totalLosses.IsZero() {
		metrics.ProfitFactor = dptr(totalWins.Div(totalLosses))
	}
	if metrics.AvgWin != nil && metrics.AvgLoss != nil {
		lossPct := decimal.NewFromInt(1).Sub(winRate)
		expectancy := winRate.Mul(*metrics.AvgWin).Sub(lossPct.Mul(*metrics.AvgLoss))
		metrics.Expectancy = dptr(expectancy)
	}

	if len(equityCurve) > 0 && initialCapital.GreaterThan(decimal.Zero) {
		finalEquity := equityCurve[len(equityCurve)-1].Equity
		metrics.TotalReturn = finalEquity.Sub(initialCapital).Div(initialCapital)

		if startMs, endMs := equityCurve[0].TimestampMs, equityCurve[len(equityCurve)-1].TimestampMs; endMs > startMs {
			years := float64(endMs-startMs) / (365.25 * 24 * 60 * 60 * 1000)
			if years > 0 {
				totalReturnF, _ := metrics.TotalReturn.Float64()
				if totalReturnF > -1 {
					cagr := math.Pow(1+totalReturnF, 1/years) - 1
					metrics.CAGR = dptr(decimal.NewFromFloat(cagr * 100))
					metrics.AnnualizedReturn = decimal.NewFromFloat(cagr * 100)
				}
			}
		}
	}

	returns := barReturns(equityCurve)
	if len(returns) > 1 {
		avgReturn := mean(returns)
		if stdDev := stdDev(returns); stdDev > 0 {
			metrics.SharpeRatio = dptr(decimal.NewFromFloat(avgReturn / stdDev * math.Sqrt(252)))
		}
		if downside := downsideDeviation(returns); downside > 0 {
			metrics.SortinoRatio = dptr(decimal.NewFromFloat(avgReturn / downside * math.Sqrt(252)))
		}
	}

	maxDD, maxDDPct, maxDDDateMs := maxDrawdown(equityCurve)
	metrics.MaxDrawdown = maxDD
	metrics.MaxDrawdownPercent = maxDDPct
	metrics.MaxDrawdownDate = maxDDDateMs

	if !maxDDPct.IsZero() && metrics.CAGR != nil {
		metrics.CalmarRatio = dptr(metrics.CAGR.Div(maxDDPct.Mul(decimal.NewFromInt(100))))
	}

	return metrics
}

// CalculateRiskMetrics derives volatility and tail-risk statistics from
// the equity curve's per-bar return series.
func (mc *MetricsCalculator) CalculateRiskMetrics(equityCurve []types.EquityCurvePoint) types.RiskMetrics {
	var metrics types.RiskMetrics
	returns := barReturns(equityCurve)
	if len(returns) == 0 {
		return metrics
	}

	dailyVol := stdDev(returns)
	metrics.DailyVolatility = decimal.NewFromFloat(dailyVol)
	metrics.AnnualVolatility = decimal.NewFromFloat(dailyVol * math.Sqrt(252))

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	if idx95 := int(float64(len(sorted)) * 0.05); idx95 >= 0 && idx95 < len(sorted) {
		metrics.VaR95 = decimal.NewFromFloat(-sorted[idx95])
		if idx95 > 0 {
			var sum float64
			for i := 0; i < idx95; i++ {
				sum += sorted[i]
			}
			metrics.CVaR95 = decimal.NewFromFloat(-sum / float64(idx95))
		}
	}
	if idx99 := int(float64(len(sorted)) * 0.01); idx99 >= 0 && idx99 < len(sorted) {
		metrics.VaR99 = decimal.NewFromFloat(-sorted[idx99])
	}

	return metrics
}

func barReturns(equityCurve []types.EquityCurvePoint) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		ret := equityCurve[i].Equity.Sub(prev).Div(prev)
		f, _ := ret.Float64()
		out = append(out, f)
	}
	return out
}

func maxDrawdown(equityCurve []types.EquityCurvePoint) (decimal.Decimal, decimal.Decimal, int64) {
	if len(equityCurve) == 0 {
		return decimal.Zero, decimal.Zero, 0
	}
	var maxDD, maxDDPct decimal.Decimal
	var maxDDDateMs int64
	peak := equityCurve[0].Equity

	for _, point := range equityCurve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(point.Equity)
		ddPct := dd.Div(peak)
		if ddPct.GreaterThan(maxDDPct) {
			maxDD = dd
			maxDDPct = ddPct
			maxDDDateMs = point.TimestampMs
		}
	}
	return maxDD, maxDDPct, maxDDDateMs
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	return stdDev(negative)
}
