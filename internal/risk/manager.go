package risk

import (
	"github.com/atlas-quant/strategy-forge/internal/indicator"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// boundHandler pairs a resolved Handler with the binding that configured
// it, plus the auxiliary indicator aliases that binding requires.
type boundHandler struct {
	binding  types.StopHandlerBinding
	handler  Handler
	auxNames []string
}

// Manager evaluates every bound stop/take handler against each open
// position, in declared priority order, and reports the first one that
// fires per position per bar. It also maintains the running
// max-high/min-low extremes every trailing handler needs.
type Manager struct {
	bound      []boundHandler
	indicators *indicator.Engine
	ctx        *types.StrategyContext
}

// NewManager resolves every StopHandlerBinding in def against registry,
// pre-computing the auxiliary indicator series each handler declares it
// needs onto the matching TimeframeData in ctx. Returns a
// *types.StopHandlerError for any unresolvable handler name.
func NewManager(ctx *types.StrategyContext, registry *Registry, indicators *indicator.Engine) (*Manager, error) {
	m := &Manager{indicators: indicators, ctx: ctx}

	for _, binding := range ctx.Definition.StopHandlers {
		handler, err := registry.Resolve(binding.Handler)
		if err != nil {
			return nil, err
		}

		td := ctx.TimeframeDataFor(binding.Timeframe)
		if td == nil {
			return nil, &types.StopHandlerError{Handler: binding.Handler, Reason: "binding references a timeframe not present in context"}
		}

		specs := handler.RequiredAuxiliaryIndicators(binding.Parameters)
		names := make([]string, 0, len(specs))
		for _, spec := range specs {
			if err := indicators.PopulateAux(td, spec.Alias, spec.Source, spec.Params); err != nil {
				return nil, err
			}
			names = append(names, spec.Alias)
		}

		m.bound = append(m.bound, boundHandler{binding: binding, handler: handler, auxNames: names})
	}

	return m, nil
}

// OnNewBar folds the current bar's high/low into the position's running
// favorable extremes. Must be called once per position per bar before
// CheckStops, including the entry bar itself (seeding the extremes from
// the entry bar's high and low).
func (m *Manager) OnNewBar(risk *types.PositionRiskState, bar types.Quote, barIndex int, isEntryBar bool) {
	if isEntryBar {
		risk.MaxHighSinceEntry = bar.High
		risk.MinLowSinceEntry = bar.Low
		risk.EntryBarIndex = barIndex
		return
	}
	if bar.High > risk.MaxHighSinceEntry {
		risk.MaxHighSinceEntry = bar.High
	}
	if bar.Low < risk.MinLowSinceEntry {
		risk.MinLowSinceEntry = bar.Low
	}
}

// CheckStops evaluates every bound handler whose Timeframe matches tf and
// whose TargetEntryIDs (if set) include the position's EntryRuleID, in
// declared priority order (ascending Priority value fires first), and
// returns the first triggered outcome, or nil if none fired.
func (m *Manager) CheckStops(pos *types.ActivePosition, bar types.Quote, barIndex int, tf types.Timeframe) *StopOutcome {
	ordered := m.handlersFor(pos.EntryRuleID, tf)

	entryPrice, _ := pos.EntryPrice.Float64()

	for _, bh := range ordered {
		aux := make(map[string]float64, len(bh.auxNames))
		for _, name := range bh.auxNames {
			td := m.timeframeData(bh.binding.Timeframe)
			if td == nil {
				continue
			}
			vec, ok := td.Indicators[name]
			if !ok || barIndex >= vec.Len() {
				continue
			}
			aux[name] = vec.At(barIndex)
		}

		hc := HandlerContext{
			Risk:       &pos.Risk,
			Direction:  pos.Direction,
			EntryPrice: entryPrice,
			Bar:        bar,
			BarIndex:   barIndex,
			Aux:        aux,
			Params:     bh.binding.Parameters,
		}
		if outcome := bh.handler.Evaluate(hc); outcome != nil {
			return outcome
		}
	}
	return nil
}

// ValidateEntry runs every bound handler's ValidateBeforeEntry against an
// intended entry, returning the first blocking result, or nil if the
// entry is clear to open.
func (m *Manager) ValidateEntry(direction types.Direction, entryPrice float64, tf types.Timeframe) *StopValidationResult {
	for _, bh := range m.bound {
		if bh.binding.Timeframe != tf {
			continue
		}
		hc := HandlerContext{Direction: direction, EntryPrice: entryPrice, Params: bh.binding.Parameters}
		if res := bh.handler.ValidateBeforeEntry(hc); res != nil && res.Blocked {
			return res
		}
	}
	return nil
}

func (m *Manager) handlersFor(entryRuleID string, tf types.Timeframe) []boundHandler {
	out := make([]boundHandler, 0, len(m.bound))
	for _, bh := range m.bound {
		if bh.binding.Timeframe != tf {
			continue
		}
		if len(bh.binding.TargetEntryIDs) > 0 && !contains(bh.binding.TargetEntryIDs, entryRuleID) {
			continue
		}
		out = append(out, bh)
	}
	// Stable ascending-priority ordering; Priority 0 is the default and
	// sorts first among equals via a simple insertion pass since the
	// bound list is small (a handful of handlers per strategy).
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j].binding.Priority < out[j-1].binding.Priority {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func (m *Manager) timeframeData(tf types.Timeframe) *types.TimeframeData {
	return m.ctx.TimeframeDataFor(tf)
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
