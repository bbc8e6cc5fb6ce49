// Package backtester provides walk-forward analysis for strategy validation.
package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalkForwardAnalyzer performs walk-forward optimization analysis
type WalkForwardAnalyzer struct {
	logger        *zap.Logger
	dataLoader    DataLoader
	slippageModel SlippageModel
}

// NewWalkForwardAnalyzer creates a new walk-forward analyzer
func NewWalkForwardAnalyzer(
	logger *zap.Logger,
	dataLoader DataLoader,
	slippageModel SlippageModel,
) *WalkForwardAnalyzer {
	return &WalkForwardAnalyzer{
		logger:        logger,
		dataLoader:    dataLoader,
		slippageModel: slippageModel,
	}
}

// Run performs walk-forward analysis
func (wf *WalkForwardAnalyzer) Run(ctx context.Context, config *types.BacktestConfig) (*types.WalkForwardResult, error) {
	wfConfig := config.Validation.WalkForward

	if !wfConfig.Enabled {
		return nil, nil
	}

	windowSize := wfConfig.WindowSize
	stepSize := wfConfig.StepSize

	if windowSize <= 0 {
		windowSize = 30 // Default 30 days
	}
	if stepSize <= 0 {
		stepSize = 7 // Default 7 days
	}

	windows, err := wf.generateWindows(config.StartDate, config.EndDate, windowSize, stepSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate windows: %w", err)
	}

	if len(windows) == 0 {
		return nil, fmt.Errorf("no windows generated for walk-forward analysis")
	}

	wf.logger.Info("Starting walk-forward analysis",
		zap.Int("windowCount", len(windows)),
		zap.Int("windowSize", windowSize),
		zap.Int("stepSize", stepSize),
	)

	results := make([]types.WalkForwardWindow, len(windows))
	var allTrades []types.ClosedTrade
	var allEquityCurve []types.EquityCurvePoint

	for i, window := range windows {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		inSampleConfig := *config
		inSampleConfig.StartDate = window.InSampleStart
		inSampleConfig.EndDate = window.InSampleEnd
		inSampleConfig.Validation.WalkForward.Enabled = false // avoid recursion
		inSampleConfig.Validation.MonteCarlo.Enabled = false

		inSampleEngine := NewEngine(wf.logger, wf.dataLoader, wf.slippageModel)
		inSampleReport, err := inSampleEngine.Run(ctx, &inSampleConfig)
		if err != nil {
			wf.logger.Warn("In-sample backtest failed", zap.Int("window", i), zap.Error(err))
			continue
		}

		outSampleConfig := *config
		outSampleConfig.StartDate = window.OutSampleStart
		outSampleConfig.EndDate = window.OutSampleEnd
		outSampleConfig.Validation.WalkForward.Enabled = false
		outSampleConfig.Validation.MonteCarlo.Enabled = false

		outSampleEngine := NewEngine(wf.logger, wf.dataLoader, wf.slippageModel)
		outSampleReport, err := outSampleEngine.Run(ctx, &outSampleConfig)
		if err != nil {
			wf.logger.Warn("Out-of-sample backtest failed", zap.Int("window", i), zap.Error(err))
			continue
		}

		inMetrics := inSampleReport.Metrics
		outMetrics := outSampleReport.Metrics
		results[i] = types.WalkForwardWindow{
			InSampleStart:    window.InSampleStart,
			InSampleEnd:      window.InSampleEnd,
			OutSampleStart:   window.OutSampleStart,
			OutSampleEnd:     window.OutSampleEnd,
			InSampleMetrics:  &inMetrics,
			OutSampleMetrics: &outMetrics,
		}

		allTrades = append(allTrades, outSampleReport.Trades...)
		allEquityCurve = append(allEquityCurve, outSampleReport.EquityCurve...)

		wf.logger.Debug("Window completed",
			zap.Int("window", i),
			zap.String("inSampleReturn", inMetrics.TotalReturn.String()),
			zap.String("outSampleReturn", outMetrics.TotalReturn.String()),
		)
	}

	metricsCalc := NewMetricsCalculator()
	overallMetrics := metricsCalc.Calculate(allTrades, allEquityCurve, config.InitialCapital)

	robustness := wf.calculateRobustness(results)

	result := &types.WalkForwardResult{
		Windows:        results,
		OverallMetrics: &overallMetrics,
		Robustness:     robustness,
	}

	wf.logger.Info("Walk-forward analysis complete",
		zap.String("overallReturn", overallMetrics.TotalReturn.String()),
		zap.String("robustness", robustness.String()),
		zap.Int("totalTrades", len(allTrades)),
	)

	return result, nil
}

// windowConfig holds configuration for a single walk-forward window
type windowConfig struct {
	InSampleStart  time.Time
	InSampleEnd    time.Time
	OutSampleStart time.Time
	OutSampleEnd   time.Time
}

// generateWindows generates walk-forward windows
func (wf *WalkForwardAnalyzer) generateWindows(
	start, end time.Time,
	windowDays, stepDays int,
) ([]windowConfig, error) {
	var windows []windowConfig

	windowDuration := time.Duration(windowDays) * 24 * time.Hour
	stepDuration := time.Duration(stepDays) * 24 * time.Hour

	inSampleRatio := 0.8
	inSampleDuration := time.Duration(float64(windowDuration) * inSampleRatio)

	current := start

	for current.Add(windowDuration).Before(end) || current.Add(windowDuration).Equal(end) {
		window := windowConfig{
			InSampleStart:  current,
			InSampleEnd:    current.Add(inSampleDuration),
			OutSampleStart: current.Add(inSampleDuration),
			OutSampleEnd:   current.Add(windowDuration),
		}

		windows = append(windows, window)
		current = current.Add(stepDuration)
	}

	return windows, nil
}

// calculateRobustness calculates the walk-forward efficiency ratio
func (wf *WalkForwardAnalyzer) calculateRobustness(windows []types.WalkForwardWindow) decimal.Decimal {
	if len(windows) == 0 {
		return decimal.Zero
	}

	var inSampleReturns, outSampleReturns decimal.Decimal
	validWindows := 0

	for _, w := range windows {
		if w.InSampleMetrics != nil && w.OutSampleMetrics != nil {
			inSampleReturns = inSampleReturns.Add(w.InSampleMetrics.TotalReturn)
			outSampleReturns = outSampleReturns.Add(w.OutSampleMetrics.TotalReturn)
			validWindows++
		}
	}

	if validWindows == 0 || inSampleReturns.IsZero() {
		return decimal.Zero
	}

	// Robustness = out-of-sample return / in-sample return, clamped to [0, 2]
	robustness := outSampleReturns.Div(inSampleReturns)

	if robustness.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if robustness.GreaterThan(decimal.NewFromFloat(2)) {
		return decimal.NewFromFloat(2)
	}

	return robustness
}
