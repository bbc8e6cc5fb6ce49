// Package condition precomputes each strategy's declared condition
// bindings into full boolean series, resolving cross-timeframe operands
// by aligning the higher timeframe's value down to the condition's own
// timeframe using the same floor-to-boundary rule the feed manager uses.
package condition

import (
	"fmt"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// Engine evaluates ConditionBinding definitions against a StrategyContext.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Populate computes every condition binding in ctx.Definition and stores
// the resulting BoolVector on the matching TimeframeData, keyed by the
// binding's id.
func (e *Engine) Populate(ctx *types.StrategyContext) error {
	for _, binding := range ctx.Definition.Conditions {
		td := ctx.TimeframeDataFor(binding.Timeframe)
		if td == nil || td.Frame == nil {
			return &types.StrategyError{Alias: binding.ID, Reason: "condition binding references a timeframe not present in context"}
		}
		series, err := e.evaluate(ctx, td, binding)
		if err != nil {
			return err
		}
		if td.Conditions == nil {
			td.Conditions = make(map[string]types.BoolVector)
		}
		td.Conditions[binding.ID] = series
	}
	return nil
}

func (e *Engine) evaluate(ctx *types.StrategyContext, td *types.TimeframeData, binding types.ConditionBinding) (types.BoolVector, error) {
	n := td.Frame.Len()
	out := make([]bool, n)

	switch binding.Input.Kind {
	case types.InputSingle, types.InputDual, types.InputDualWithPercent:
		primary, err := e.resolveSeries(ctx, td, binding.Input.Primary)
		if err != nil {
			return types.BoolVector{}, err
		}
		switch binding.Operator {
		case types.OpRisingTrend, types.OpFallingTrend:
			period := binding.Input.Period
			if period < 1 {
				period = 1
			}
			rising := binding.Operator == types.OpRisingTrend
			for i := 0; i < n; i++ {
				out[i] = trendHolds(primary, i, period, rising)
			}
			return types.NewBoolVector(out), nil
		}

		secondary, err := e.resolveSeries(ctx, td, binding.Input.Secondary)
		if err != nil {
			return types.BoolVector{}, err
		}
		for i := 0; i < n; i++ {
			out[i] = evalDual(binding.Operator, primary, secondary, i, binding.Input.Percent)
		}
		return types.NewBoolVector(out), nil

	case types.InputBetween:
		primary, err := e.resolveSeries(ctx, td, binding.Input.Primary)
		if err != nil {
			return types.BoolVector{}, err
		}
		a, err := e.resolveSeries(ctx, td, binding.Input.Secondary)
		if err != nil {
			return types.BoolVector{}, err
		}
		b, err := e.resolveSeries(ctx, td, binding.Input.SecondaryB)
		if err != nil {
			return types.BoolVector{}, err
		}
		for i := 0; i < n; i++ {
			lo, hi := a[i], b[i]
			if lo > hi {
				lo, hi = hi, lo
			}
			out[i] = primary[i] > lo && primary[i] < hi
		}
		return types.NewBoolVector(out), nil
	}

	return types.BoolVector{}, &types.StrategyError{Alias: binding.ID, Reason: "unrecognized condition input kind"}
}

// trendHolds reports whether the last `period` samples ending at i are
// strictly increasing (rising) or strictly decreasing (!rising). Returns
// false when fewer than period+1 samples are available (warmup).
func trendHolds(series []float64, i, period int, rising bool) bool {
	if i-period < 0 {
		return false
	}
	for j := i - period + 1; j <= i; j++ {
		if rising && series[j] <= series[j-1] {
			return false
		}
		if !rising && series[j] >= series[j-1] {
			return false
		}
	}
	return true
}

func evalDual(op types.ConditionOperator, primary, secondary []float64, i int, pct float64) bool {
	p, s := primary[i], secondary[i]
	switch op {
	case types.OpAbove:
		return p > s
	case types.OpBelow:
		return p < s
	case types.OpCrossesAbove:
		if i == 0 {
			return false
		}
		return primary[i-1] <= secondary[i-1] && p > s
	case types.OpCrossesBelow:
		if i == 0 {
			return false
		}
		return primary[i-1] >= secondary[i-1] && p < s
	case types.OpGreaterPercent:
		return p-s > s*pct
	case types.OpLowerPercent:
		return s-p > s*pct
	default:
		return false
	}
}

// resolveSeries returns source's values resampled onto td's bar count.
// When source carries no explicit Timeframe, it defaults to td's own
// timeframe; when it names a different (typically higher) timeframe, each
// of td's bars is aligned down via floor-to-boundary + IndexAtOrBefore —
// the same rule the feed manager applies — so no look-ahead is possible.
func (e *Engine) resolveSeries(ctx *types.StrategyContext, td *types.TimeframeData, source types.DataSeriesSource) ([]float64, error) {
	sourceTf := td.Timeframe
	if source.Timeframe != nil {
		sourceTf = *source.Timeframe
	}

	sourceTd := ctx.TimeframeDataFor(sourceTf)
	if sourceTd == nil || sourceTd.Frame == nil {
		return nil, &types.StrategyError{Reason: fmt.Sprintf("condition source references unavailable timeframe %s", sourceTf)}
	}

	raw, err := rawSeries(sourceTd, source)
	if err != nil {
		return nil, err
	}

	if sourceTf == td.Timeframe {
		return raw, nil
	}
	return alignToFrame(sourceTd.Frame, raw, td.Frame), nil
}

func rawSeries(td *types.TimeframeData, source types.DataSeriesSource) ([]float64, error) {
	switch source.Kind {
	case types.SourcePrice:
		switch source.Field {
		case types.FieldOpen:
			return td.Frame.Opens(), nil
		case types.FieldHigh:
			return td.Frame.Highs(), nil
		case types.FieldLow:
			return td.Frame.Lows(), nil
		case types.FieldClose:
			return td.Frame.Closes(), nil
		case types.FieldVolume:
			return td.Frame.Volumes(), nil
		default:
			return nil, &types.StrategyError{Reason: "unrecognized price field"}
		}
	case types.SourceIndicator, types.SourceCustom:
		v, ok := td.Indicators[source.Alias]
		if !ok {
			return nil, &types.StrategyError{Alias: source.Alias, Reason: "referenced indicator/custom series not found"}
		}
		return v.Values(), nil
	default:
		return nil, &types.StrategyError{Reason: "unrecognized data series source kind"}
	}
}

// alignToFrame resamples a source series indexed by sourceFrame's bars
// onto targetFrame's bar count, carrying forward the most recent
// at-or-before source value for each target timestamp.
func alignToFrame(sourceFrame *types.QuoteFrame, sourceValues []float64, targetFrame *types.QuoteFrame) []float64 {
	out := make([]float64, targetFrame.Len())
	for i := 0; i < targetFrame.Len(); i++ {
		ts := targetFrame.At(i).TimestampMs
		idx := sourceFrame.IndexAtOrBefore(ts)
		if idx < 0 {
			out[i] = 0
			continue
		}
		out[i] = sourceValues[idx]
	}
	return out
}
