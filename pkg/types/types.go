// Package types provides the shared data model for the backtesting and
// discovery engine: quotes, timeframes, strategy definitions, candidates,
// and reports.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the live accounting state the position manager maintains
// across a backtest run: cash, mark-to-market equity, and open positions
// keyed by symbol code.
type Portfolio struct {
	Cash      decimal.Decimal             `json:"cash"`
	Equity    decimal.Decimal             `json:"equity"`
	Positions map[string]*ActivePosition  `json:"positions"`
	TotalPnL  decimal.Decimal             `json:"totalPnl"`
	DailyPnL  decimal.Decimal             `json:"dailyPnl"`
	UpdatedAtMs int64                     `json:"updatedAtMs"`
}

// MonteCarloResult summarizes a resampled-returns robustness check run
// against one backtest's trade sequence.
type MonteCarloResult struct {
	Iterations      int               `json:"iterations"`
	MedianReturn    decimal.Decimal   `json:"medianReturn"`
	P5Return        decimal.Decimal   `json:"p5Return"`
	P95Return       decimal.Decimal   `json:"p95Return"`
	ProbabilityRuin decimal.Decimal   `json:"probabilityRuin"`
	MaxDrawdownP95  decimal.Decimal   `json:"maxDrawdownP95"`
	Distribution    []decimal.Decimal `json:"distribution"`
}

// WalkForwardResult summarizes an in-sample/out-of-sample rolling or
// anchored validation run.
type WalkForwardResult struct {
	Windows        []WalkForwardWindow `json:"windows"`
	OverallMetrics *PerformanceMetrics `json:"overallMetrics"`
	Robustness     decimal.Decimal     `json:"robustness"`
}

// WalkForwardWindow is one in-sample/out-of-sample fold.
type WalkForwardWindow struct {
	InSampleStart    time.Time           `json:"inSampleStart"`
	InSampleEnd      time.Time           `json:"inSampleEnd"`
	OutSampleStart   time.Time           `json:"outSampleStart"`
	OutSampleEnd     time.Time           `json:"outSampleEnd"`
	InSampleMetrics  *PerformanceMetrics `json:"inSampleMetrics"`
	OutSampleMetrics *PerformanceMetrics `json:"outSampleMetrics"`
}
