// Package backtester provides the core bar-by-bar backtesting engine: it
// drives the timeframe feed, precomputes indicators/conditions, evaluates
// the strategy, applies decisions through the position manager, and
// enforces stop/take handlers through the risk manager.
package backtester

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/atlas-quant/strategy-forge/internal/condition"
	"github.com/atlas-quant/strategy-forge/internal/indicator"
	"github.com/atlas-quant/strategy-forge/internal/position"
	"github.com/atlas-quant/strategy-forge/internal/risk"
	"github.com/atlas-quant/strategy-forge/internal/strategy"
	"github.com/atlas-quant/strategy-forge/internal/timeframe"
	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// minWarmupBars is the floor below which no strategy may start
	// evaluating decisions, regardless of how short its indicator periods
	// are.
	minWarmupBars = 50
	// warmupMultiplier scales the longest declared indicator period into a
	// warmup bar count with margin for compounding lookbacks (e.g. an ATR
	// feeding a trail on top of its own SMA smoothing).
	warmupMultiplier = 1.5
	// equityUpdateInterval is how often (in primary bars) the engine
	// samples a new equity curve point, subject to equityCacheThreshold.
	equityUpdateInterval = 10
	// equityCacheThreshold is the minimum fractional change in total
	// equity, relative to the last recorded point, required to record a
	// new equity curve point off-cadence.
	equityCacheThreshold = 0.01
)

// DataLoader loads one symbol's base-timeframe quote history for a date
// range. Implementations live outside this package (e.g. reading from a
// columnar store or a market data cache).
type DataLoader interface {
	Load(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) (*types.QuoteFrame, error)
}

// Engine runs one symbol's backtest end to end: context construction,
// indicator/condition precomputation, and the per-bar decision/risk loop.
// An Engine may serve many Run calls (the discovery runner shares one across
// evaluations); it holds no state shared across Run calls beyond the bar
// counter exposed for progress reporting.
type Engine struct {
	logger        *zap.Logger
	dataLoader    DataLoader
	slippageModel SlippageModel

	barsProcessed uint64
}

// NewEngine constructs an Engine. A nil slippageModel defaults to zero
// slippage.
func NewEngine(logger *zap.Logger, dataLoader DataLoader, slippageModel SlippageModel) *Engine {
	if slippageModel == nil {
		slippageModel = NewFixedSlippage(decimal.Zero)
	}
	return &Engine{logger: logger, dataLoader: dataLoader, slippageModel: slippageModel}
}

// BarsProcessed returns the number of primary bars consumed so far by all
// Run calls on this Engine, including one in flight. The counter is never
// reset, so it equals a single run's progress only on an Engine built for
// that one run.
func (e *Engine) BarsProcessed() uint64 {
	return atomic.LoadUint64(&e.barsProcessed)
}

// Run replays config's strategy over its first symbol between StartDate
// and EndDate, returning the resulting report. Only the first entry of
// config.Symbols is backtested — StrategyContext carries no per-symbol
// split, so a multi-symbol portfolio run requires one Run call per symbol
// and an external merge of the resulting reports.
func (e *Engine) Run(ctx context.Context, config *types.BacktestConfig) (*types.BacktestReport, error) {
	if config.Strategy == nil {
		return nil, fmt.Errorf("backtester: config has no strategy definition")
	}
	if len(config.Symbols) == 0 {
		return nil, fmt.Errorf("backtester: config has no symbols")
	}
	symbol := types.NewSymbol(config.Symbols[0])

	strategyCtx, feed, err := e.buildContext(ctx, config, symbol)
	if err != nil {
		return nil, err
	}

	indicatorEngine := indicator.NewEngine(indicator.NewRegistry())
	if err := indicatorEngine.Populate(strategyCtx); err != nil {
		return nil, fmt.Errorf("backtester: populating indicators: %w", err)
	}
	conditionEngine := condition.NewEngine()
	if err := conditionEngine.Populate(strategyCtx); err != nil {
		return nil, fmt.Errorf("backtester: populating conditions: %w", err)
	}

	riskManager, err := risk.NewManager(strategyCtx, risk.NewRegistry(), indicatorEngine)
	if err != nil {
		return nil, fmt.Errorf("backtester: building risk manager: %w", err)
	}

	evaluator := strategy.NewRuleEvaluator(config.Strategy)
	posManager := position.NewManager(config.InitialCapital, config.UseFullCapital, config.ReinvestProfits, config.RiskLimits)

	primaryTD := strategyCtx.TimeframeDataFor(config.BaseTimeframe)
	if primaryTD == nil || primaryTD.Frame == nil {
		return nil, fmt.Errorf("backtester: base timeframe %s has no quote data", config.BaseTimeframe)
	}

	warmup := computeWarmupBars(config.Strategy)
	cachedSessionDurationMs := sessionDuration(config.BaseTimeframe, primaryTD.Frame)

	var equityCurve []types.EquityCurvePoint
	var executions []types.ExecutionReport
	var lastEquity decimal.Decimal
	var sessionStartMs, sessionEndMs *int64

	barIndex := -1
	for feed.Step(strategyCtx) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		barIndex++
		atomic.AddUint64(&e.barsProcessed, 1)

		if barIndex < warmup {
			continue
		}

		bar := primaryTD.Frame.At(primaryTD.CurrentIndex)

		updateSessionMetadata(strategyCtx, primaryTD.Frame, primaryTD.CurrentIndex, cachedSessionDurationMs, &sessionStartMs, &sessionEndMs)

		decision := evaluator.Evaluate(strategyCtx)
		if !decision.IsEmpty() {
			price := decimal.NewFromFloat(bar.Close)
			filtered := e.filterBlockedEntries(riskManager, decision, bar.Close, config.BaseTimeframe)
			if !filtered.IsEmpty() {
				hadPosition := posManager.Position(symbol) != nil
				if _, err := posManager.ProcessDecision(symbol, filtered, bar.TimestampMs, price); err != nil {
					return nil, fmt.Errorf("backtester: applying decision: %w", err)
				}
				if pos := posManager.Position(symbol); pos != nil && !hadPosition {
					slip := e.slippageModel.Calculate(pos.Direction, pos.Quantity, bar)
					fillPrice := applyEntrySlippage(price, pos.Direction, slip)
					executions = append(executions, types.ExecutionReport{
						PositionID: pos.ID, Symbol: symbol, Direction: pos.Direction,
						Quantity: pos.Quantity, Price: fillPrice, TimestampMs: bar.TimestampMs,
						Commission: quantityCommission(pos.Quantity, fillPrice, config.Commission),
						Slippage:   slip, IsEntry: true,
					})
				}
			}
		}

		if pos := posManager.Position(symbol); pos != nil {
			isEntryBar := pos.EntryTimeMs == bar.TimestampMs
			riskManager.OnNewBar(&pos.Risk, bar, barIndex, isEntryBar)
			if outcome := riskManager.CheckStops(pos, bar, barIndex, config.BaseTimeframe); outcome != nil {
				exitPrice := decimal.NewFromFloat(outcome.ExitPrice)
				slip := e.slippageModel.Calculate(pos.Direction, pos.Quantity, bar)
				exitPrice = applyExitSlippage(exitPrice, pos.Direction, slip)
				executions = append(executions, types.ExecutionReport{
					PositionID: pos.ID, Symbol: symbol, Direction: pos.Direction,
					Quantity: pos.Quantity, Price: exitPrice, TimestampMs: bar.TimestampMs,
					Commission: quantityCommission(pos.Quantity, exitPrice, config.Commission),
					Slippage:   slip, IsEntry: false, Reason: outcome.Reason,
				})
				posManager.CloseAtStop(symbol, bar.TimestampMs, exitPrice, outcome.Reason)
			}
		}

		recordEquityPoint(posManager, symbol, bar, barIndex, &lastEquity, &equityCurve)
	}

	if pos := posManager.Position(symbol); pos != nil && primaryTD.Frame.Len() > 0 {
		lastBar := primaryTD.Frame.At(primaryTD.Frame.Len() - 1)
		exitPrice := decimal.NewFromFloat(lastBar.Close)
		posManager.CloseAtStop(symbol, lastBar.TimestampMs, exitPrice, types.ExitReasonEndOfData)
	}

	trades := posManager.ClosedTrades()
	metricsCalc := NewMetricsCalculator()
	metrics := metricsCalc.Calculate(trades, equityCurve, config.InitialCapital)
	riskMetrics := metricsCalc.CalculateRiskMetrics(equityCurve)

	finalEquity := config.InitialCapital
	if len(equityCurve) > 0 {
		finalEquity = equityCurve[len(equityCurve)-1].Equity
	}

	var monteCarlo *types.MonteCarloResult
	if config.Validation.MonteCarlo.Enabled {
		monteCarlo = NewMonteCarloSimulator(e.logger, config.Validation.MonteCarlo).Run(trades)
	}

	var walkForward *types.WalkForwardResult
	if config.Validation.WalkForward.Enabled {
		walkForward, err = NewWalkForwardAnalyzer(e.logger, e.dataLoader, e.slippageModel).Run(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("backtester: walk-forward analysis: %w", err)
		}
	}

	report := &types.BacktestReport{
		StrategyID:     config.Strategy.Metadata.ID,
		Symbols:        []types.Symbol{symbol},
		StartMs:        config.StartDate.UnixMilli(),
		EndMs:          config.EndDate.UnixMilli(),
		InitialCapital: config.InitialCapital,
		FinalEquity:    finalEquity,
		Trades:         trades,
		Executions:     executions,
		EquityCurve:    equityCurve,
		Metrics:        metrics,
		Risk:           riskMetrics,
		SessionStartMs: sessionStartMs,
		SessionEndMs:   sessionEndMs,
		MonteCarlo:     monteCarlo,
		WalkForward:    walkForward,
	}
	report.Viability = NewViabilityChecker(DefaultViabilityThresholds()).Check(report, walkForward)

	if e.logger != nil {
		e.logger.Info("backtest complete",
			zap.String("strategyID", report.StrategyID),
			zap.Int("trades", len(trades)),
			zap.String("finalEquity", finalEquity.String()),
		)
	}

	return report, nil
}

// buildContext resolves the union of required timeframes, loads the base
// timeframe's quote history, aggregates any missing higher timeframes from
// it, and assembles the StrategyContext and FeedManager the rest of Run
// drives.
func (e *Engine) buildContext(ctx context.Context, config *types.BacktestConfig, symbol types.Symbol) (*types.StrategyContext, *timeframe.FeedManager, error) {
	required := requiredTimeframes(config.Strategy, config.BaseTimeframe)

	baseFrame, err := e.dataLoader.Load(ctx, symbol.String(), config.BaseTimeframe, config.StartDate, config.EndDate)
	if err != nil {
		return nil, nil, fmt.Errorf("backtester: loading base timeframe data: %w", err)
	}
	if baseFrame == nil || baseFrame.Len() == 0 {
		return nil, nil, fmt.Errorf("backtester: no quote data for %s at %s", symbol, config.BaseTimeframe)
	}

	frames := make(map[string]*types.QuoteFrame, len(required))
	timeframeData := make(map[string]*types.TimeframeData, len(required))
	frames[config.BaseTimeframe.String()] = baseFrame
	timeframeData[config.BaseTimeframe.String()] = &types.TimeframeData{Timeframe: config.BaseTimeframe, Frame: baseFrame, CurrentIndex: -1}

	for _, tf := range required {
		key := tf.String()
		if _, ok := frames[key]; ok {
			continue
		}
		if !tf.IsFixed() || !tf.GreaterThan(config.BaseTimeframe) {
			// Lower/equal/custom non-base timeframes aren't derivable by
			// aggregation and must already be loaded directly; skip here
			// and let downstream indicator/condition population surface a
			// StrategyError if something actually needed it.
			continue
		}
		aggregated, err := timeframe.Aggregate(baseFrame, tf)
		if err != nil {
			return nil, nil, fmt.Errorf("backtester: aggregating %s: %w", tf, err)
		}
		frames[key] = aggregated.Frame
		timeframeData[key] = &types.TimeframeData{Timeframe: tf, Frame: aggregated.Frame, CurrentIndex: -1}
	}

	strategyCtx := &types.StrategyContext{
		Definition: config.Strategy,
		Parameters: resolveParameters(config.Strategy, config.Genome),
		Timeframes: timeframeData,
		Metadata:   make(map[string]string),
	}

	feed := timeframe.NewFeedManager(config.BaseTimeframe, frames)
	return strategyCtx, feed, nil
}

// requiredTimeframes unions base, every IndicatorBinding/ConditionBinding/
// StopHandlerBinding timeframe, and the declared RequiredTimeframes list,
// deduplicated.
func requiredTimeframes(def *types.StrategyDefinition, base types.Timeframe) []types.Timeframe {
	seen := map[string]types.Timeframe{base.String(): base}
	add := func(tf types.Timeframe) {
		seen[tf.String()] = tf
	}
	for _, tf := range def.RequiredTimeframes {
		add(tf)
	}
	for _, b := range def.Indicators {
		add(b.Timeframe)
	}
	for _, b := range def.Conditions {
		add(b.Timeframe)
	}
	for _, b := range def.StopHandlers {
		add(b.Timeframe)
	}
	out := make([]types.Timeframe, 0, len(seen))
	for _, tf := range seen {
		out = append(out, tf)
	}
	return out
}

// resolveParameters starts from each ParameterDescriptor's default and
// overrides it with genome's value when the descriptor is mutable and the
// genome supplies it — genome values targeting an immutable parameter are
// ignored.
func resolveParameters(def *types.StrategyDefinition, genome map[string]float64) map[string]float64 {
	params := make(map[string]float64, len(def.Parameters))
	for _, p := range def.Parameters {
		params[p.Name] = p.Default
	}
	for _, p := range def.Parameters {
		if !p.Mutable {
			continue
		}
		if v, ok := genome[p.Name]; ok {
			params[p.Name] = v
		}
	}
	return params
}

// computeWarmupBars derives how many primary bars must elapse before the
// strategy is allowed to produce a decision: at least minWarmupBars, and
// at least warmupMultiplier times the longest period any indicator binding
// declares.
func computeWarmupBars(def *types.StrategyDefinition) int {
	longest := 0
	for _, b := range def.Indicators {
		if period, ok := b.Params["period"]; ok {
			if p := toInt(period); p > longest {
				longest = p
			}
		}
	}
	scaled := int(math.Ceil(float64(longest) * warmupMultiplier))
	if scaled < minWarmupBars {
		return minWarmupBars
	}
	return scaled
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// sessionDuration derives the cached bar-to-bar spacing a session boundary
// is compared against: a fixed timeframe's nominal duration, or the median
// delta across the frame for a Custom timeframe with no fixed spacing.
func sessionDuration(tf types.Timeframe, frame *types.QuoteFrame) int64 {
	if tf.IsFixed() {
		return int64(tf.MinuteCount()) * 60_000
	}
	n := frame.Len()
	if n < 2 {
		return 0
	}
	deltas := make([]int64, 0, n-1)
	for i := 1; i < n; i++ {
		deltas = append(deltas, frame.At(i).TimestampMs-frame.At(i-1).TimestampMs)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return deltas[len(deltas)/2]
}

// updateSessionMetadata writes session boundary markers into ctx.Metadata
// every bar, comparing the timestamp delta to the adjacent primary bar
// against the cached session duration rather than assuming any fixed
// calendar boundary (a session does not generally open at UTC midnight,
// e.g. futures sessions opening the prior evening). A bar starts a session
// if it is the first bar or the gap since the previous bar exceeds the
// cached duration; it ends a session if it is the last bar or the gap to
// the next bar exceeds the cached duration.
func updateSessionMetadata(ctx *types.StrategyContext, frame *types.QuoteFrame, idx int, cachedDurationMs int64, sessionStartMs, sessionEndMs **int64) {
	if frame == nil || idx < 0 || idx >= frame.Len() {
		return
	}
	current := frame.At(idx)

	isStart := idx == 0
	if idx > 0 && current.TimestampMs-frame.At(idx-1).TimestampMs > cachedDurationMs {
		isStart = true
	}

	isEnd := idx+1 >= frame.Len()
	if idx+1 < frame.Len() && frame.At(idx+1).TimestampMs-current.TimestampMs > cachedDurationMs {
		isEnd = true
	}

	if isStart {
		start := current.TimestampMs
		*sessionStartMs = &start
	}
	end := current.TimestampMs
	*sessionEndMs = &end

	ctx.Metadata["session.start"] = strconv.FormatBool(isStart)
	ctx.Metadata["session.end"] = strconv.FormatBool(isEnd)
}

// filterBlockedEntries drops any entry signal the risk manager's
// pre-entry validation blocks (e.g. a configured stop level already on the
// wrong side of the intended entry price), leaving exits untouched.
func (e *Engine) filterBlockedEntries(riskManager *risk.Manager, decision types.StrategyDecision, price float64, tf types.Timeframe) types.StrategyDecision {
	if len(decision.Entries) == 0 {
		return decision
	}
	filtered := types.StrategyDecision{Exits: decision.Exits}
	for _, entry := range decision.Entries {
		if result := riskManager.ValidateEntry(entry.Direction, price, tf); result != nil && result.Blocked {
			if e.logger != nil {
				e.logger.Debug("entry blocked by risk manager", zap.String("ruleID", entry.RuleID), zap.String("reason", result.Reason))
			}
			continue
		}
		filtered.Entries = append(filtered.Entries, entry)
	}
	return filtered
}

// recordEquityPoint samples the portfolio's current total equity at the
// engine's cadence: every equityUpdateInterval bars, or sooner if the
// equity has moved by more than equityCacheThreshold since the last
// recorded point.
func recordEquityPoint(posManager *position.Manager, symbol types.Symbol, bar types.Quote, barIndex int, lastEquity *decimal.Decimal, curve *[]types.EquityCurvePoint) {
	onCadence := barIndex%equityUpdateInterval == 0
	snapshot := posManager.PortfolioSnapshot(map[string]decimal.Decimal{symbol.String(): decimal.NewFromFloat(bar.Close)})

	if !onCadence && !lastEquity.IsZero() {
		diff := snapshot.TotalEquity.Sub(*lastEquity).Abs()
		threshold := lastEquity.Abs().Mul(decimal.NewFromFloat(equityCacheThreshold))
		if diff.LessThanOrEqual(threshold) {
			return
		}
	}

	*lastEquity = snapshot.TotalEquity
	*curve = append(*curve, types.EquityCurvePoint{TimestampMs: bar.TimestampMs, Equity: snapshot.TotalEquity})
}

func applyEntrySlippage(price decimal.Decimal, direction types.Direction, slip decimal.Decimal) decimal.Decimal {
	if direction == types.DirectionShort {
		return price.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	return price.Mul(decimal.NewFromInt(1).Add(slip))
}

func applyExitSlippage(price decimal.Decimal, direction types.Direction, slip decimal.Decimal) decimal.Decimal {
	if direction == types.DirectionShort {
		return price.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(slip))
}

func quantityCommission(quantity, price, commissionRate decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(commissionRate)
}
