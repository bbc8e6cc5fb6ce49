package indicator

import "github.com/atlas-quant/strategy-forge/pkg/types"

// Engine precomputes every indicator binding a StrategyDefinition
// declares, once per backtest, writing each series into its
// TimeframeData under the binding's alias. It also exposes PopulateAux
// so the risk manager can register per-handler auxiliary series (e.g.
// "aux_ATR_14") the strategy definition never names directly.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry}
}

// Populate computes every indicator binding in ctx.Definition against the
// matching TimeframeData and stores the result under its alias. Returns
// the first StrategyError encountered (unknown indicator name or
// parameter out of domain).
func (e *Engine) Populate(ctx *types.StrategyContext) error {
	for _, binding := range ctx.Definition.Indicators {
		td := ctx.TimeframeDataFor(binding.Timeframe)
		if td == nil {
			return &types.StrategyError{Alias: binding.Alias, Reason: "indicator binding references a timeframe not present in context"}
		}
		if td.Frame == nil {
			return &types.StrategyError{Alias: binding.Alias, Reason: "indicator binding's timeframe has no quote frame"}
		}
		series, err := e.registry.Compute(binding.Source, seriesFromFrame(td.Frame), binding.Params)
		if err != nil {
			return err
		}
		if td.Indicators == nil {
			td.Indicators = make(map[string]types.ValueVector)
		}
		td.Indicators[binding.Alias] = series
	}
	return nil
}

// PopulateAux computes one extra named series (not part of the
// declarative binding list) and stores it on td under alias — used by
// the risk manager for per-handler auxiliary indicators such as
// "aux_ATR_14".
func (e *Engine) PopulateAux(td *types.TimeframeData, alias, source string, params map[string]any) error {
	if td.Frame == nil {
		return &types.StrategyError{Alias: alias, Reason: "auxiliary indicator's timeframe has no quote frame"}
	}
	series, err := e.registry.Compute(source, seriesFromFrame(td.Frame), params)
	if err != nil {
		return err
	}
	if td.Indicators == nil {
		td.Indicators = make(map[string]types.ValueVector)
	}
	td.Indicators[alias] = series
	return nil
}

func seriesFromFrame(f *types.QuoteFrame) SeriesInput {
	return SeriesInput{
		Open:   f.Opens(),
		High:   f.Highs(),
		Low:    f.Lows(),
		Close:  f.Closes(),
		Volume: f.Volumes(),
	}
}

// Registry exposes the underlying registry so callers (e.g. the stop
// handler package) can issue ad-hoc Compute calls without constructing
// their own.
func (e *Engine) Registry() *Registry { return e.registry }
