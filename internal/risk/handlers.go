// Package risk implements the stop/take handler contract and the risk
// manager that drives it: trailing-stop monotonicity, gap-through exit
// pricing, and entry validation.
package risk

import (
	"math"
	"sort"
	"strings"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// AuxIndicatorSpec names an auxiliary indicator a handler needs
// precomputed before it can evaluate (e.g. "aux_ATR_14" for an ATR
// trail).
type AuxIndicatorSpec struct {
	Alias  string
	Source string
	Params map[string]any
}

// StopOutcome is returned when a handler's level has been triggered on
// the current bar.
type StopOutcome struct {
	ExitPrice float64
	Reason    types.StopExitReason
	HandlerID string
}

// StopValidationResult is returned by ValidateBeforeEntry when a
// handler's configured level would already be on the wrong side of an
// intended entry price.
type StopValidationResult struct {
	Blocked bool
	Reason  string
}

// HandlerContext bundles what a handler needs to evaluate one bar: the
// position's risk state, the current bar, and any auxiliary indicator
// values the handler declared via RequiredAuxiliaryIndicators.
type HandlerContext struct {
	Risk      *types.PositionRiskState
	Direction types.Direction
	EntryPrice float64
	Bar       types.Quote
	BarIndex  int
	Aux       map[string]float64
	Params    map[string]any
}

// Handler is the polymorphic stop/take contract every registered handler
// implements.
type Handler interface {
	Name() string
	Evaluate(hc HandlerContext) *StopOutcome
	ValidateBeforeEntry(hc HandlerContext) *StopValidationResult
	RequiredAuxiliaryIndicators(params map[string]any) []AuxIndicatorSpec
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// triggered applies the shared triggering + gap-through rule: the stop
// fires iff bar-low <= stop (Long) or bar-high >= stop (Short); the exit
// price is the bar's open if it already gapped past the stop, else the
// stop level itself.
func triggered(direction types.Direction, bar types.Quote, stop float64) (exitPrice float64, fired bool) {
	switch direction {
	case types.DirectionLong:
		if bar.Low > stop {
			return 0, false
		}
		if bar.Open < stop {
			return bar.Open, true
		}
		return stop, true
	case types.DirectionShort:
		if bar.High < stop {
			return 0, false
		}
		if bar.Open > stop {
			return bar.Open, true
		}
		return stop, true
	default:
		return 0, false
	}
}

// StopLossPct is a fixed stop, set once at entry as a percentage offset
// from the entry price; it never trails.
type StopLossPct struct{}

func (StopLossPct) Name() string { return "StopLossPct" }

func (StopLossPct) RequiredAuxiliaryIndicators(map[string]any) []AuxIndicatorSpec { return nil }

func (h StopLossPct) level(hc HandlerContext) float64 {
	pct := floatParam(hc.Params, "percent", 1.0) / 100
	if hc.Direction == types.DirectionShort {
		return hc.EntryPrice * (1 + pct)
	}
	return hc.EntryPrice * (1 - pct)
}

func (h StopLossPct) Evaluate(hc HandlerContext) *StopOutcome {
	if hc.Risk.StopPrice == nil {
		level := h.level(hc)
		hc.Risk.SetStopFloat(level)
	}
	stop := hc.Risk.StopFloat()
	exitPrice, fired := triggered(hc.Direction, hc.Bar, stop)
	if !fired {
		return nil
	}
	return &StopOutcome{ExitPrice: exitPrice, Reason: types.ExitReasonStopLoss, HandlerID: h.Name()}
}

func (h StopLossPct) ValidateBeforeEntry(hc HandlerContext) *StopValidationResult {
	level := h.level(hc)
	if hc.Direction == types.DirectionLong && level >= hc.EntryPrice {
		return &StopValidationResult{Blocked: true, Reason: "stop loss level is not below the intended long entry price"}
	}
	if hc.Direction == types.DirectionShort && level <= hc.EntryPrice {
		return &StopValidationResult{Blocked: true, Reason: "stop loss level is not above the intended short entry price"}
	}
	return nil
}

// TakeProfitPct is a fixed take-profit level, set once at entry.
type TakeProfitPct struct{}

func (TakeProfitPct) Name() string { return "TakeProfitPct" }

func (TakeProfitPct) RequiredAuxiliaryIndicators(map[string]any) []AuxIndicatorSpec { return nil }

func (h TakeProfitPct) level(hc HandlerContext) float64 {
	pct := floatParam(hc.Params, "percent", 1.0) / 100
	if hc.Direction == types.DirectionShort {
		return hc.EntryPrice * (1 - pct)
	}
	return hc.EntryPrice * (1 + pct)
}

func (h TakeProfitPct) Evaluate(hc HandlerContext) *StopOutcome {
	level := h.level(hc)
	switch hc.Direction {
	case types.DirectionLong:
		if hc.Bar.High < level {
			return nil
		}
		exit := level
		if hc.Bar.Open > level {
			exit = hc.Bar.Open
		}
		return &StopOutcome{ExitPrice: exit, Reason: types.ExitReasonTakeProfit, HandlerID: h.Name()}
	case types.DirectionShort:
		if hc.Bar.Low > level {
			return nil
		}
		exit := level
		if hc.Bar.Open < level {
			exit = hc.Bar.Open
		}
		return &StopOutcome{ExitPrice: exit, Reason: types.ExitReasonTakeProfit, HandlerID: h.Name()}
	default:
		return nil
	}
}

func (TakeProfitPct) ValidateBeforeEntry(hc HandlerContext) *StopValidationResult { return nil }

// ATRTrail trails the stop at max_high - k*ATR (Long) / min_low + k*ATR
// (Short), clamped so the stop only ever moves in the position's favor.
type ATRTrail struct{}

func (ATRTrail) Name() string { return "ATRTrail" }

func (ATRTrail) RequiredAuxiliaryIndicators(params map[string]any) []AuxIndicatorSpec {
	period := int(floatParam(params, "period", 14))
	return []AuxIndicatorSpec{{Alias: auxATRAlias(period), Source: "atr", Params: map[string]any{"period": period}}}
}

func auxATRAlias(period int) string {
	return "aux_ATR_" + itoa(period)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (h ATRTrail) Evaluate(hc HandlerContext) *StopOutcome {
	period := int(floatParam(hc.Params, "period", 14))
	k := floatParam(hc.Params, "coeff_atr", 1.5)
	atr, ok := hc.Aux[auxATRAlias(period)]
	if !ok {
		atr = 0
	}

	switch hc.Direction {
	case types.DirectionLong:
		candidate := hc.Risk.MaxHighSinceEntry - k*atr
		hc.Risk.RaiseStopFloat(candidate)
	case types.DirectionShort:
		candidate := hc.Risk.MinLowSinceEntry + k*atr
		hc.Risk.LowerStopFloat(candidate)
	default:
		return nil
	}

	stop := hc.Risk.StopFloat()
	exitPrice, fired := triggered(hc.Direction, hc.Bar, stop)
	if !fired {
		return nil
	}
	return &StopOutcome{ExitPrice: exitPrice, Reason: types.ExitReasonTrailingStop, HandlerID: h.Name()}
}

func (ATRTrail) ValidateBeforeEntry(hc HandlerContext) *StopValidationResult { return nil }

// PercentTrail trails the stop as a percentage offset from the
// position's own running favorable extreme: max_high*(1-p) for Long,
// min_low*(1+p) for Short — kept consistent with ATRTrail's direction
// convention.
type PercentTrail struct{}

func (PercentTrail) Name() string { return "PercentTrail" }

func (PercentTrail) RequiredAuxiliaryIndicators(map[string]any) []AuxIndicatorSpec { return nil }

func (h PercentTrail) Evaluate(hc HandlerContext) *StopOutcome {
	p := floatParam(hc.Params, "percent", 2.0) / 100

	switch hc.Direction {
	case types.DirectionLong:
		candidate := hc.Risk.MaxHighSinceEntry * (1 - p)
		hc.Risk.RaiseStopFloat(candidate)
	case types.DirectionShort:
		candidate := hc.Risk.MinLowSinceEntry * (1 + p)
		hc.Risk.LowerStopFloat(candidate)
	default:
		return nil
	}

	stop := hc.Risk.StopFloat()
	exitPrice, fired := triggered(hc.Direction, hc.Bar, stop)
	if !fired {
		return nil
	}
	return &StopOutcome{ExitPrice: exitPrice, Reason: types.ExitReasonTrailingStop, HandlerID: h.Name()}
}

func (PercentTrail) ValidateBeforeEntry(hc HandlerContext) *StopValidationResult { return nil }

// HILOTrail offers each bar's low (Long) or high (Short) as the new stop
// level. RaiseStopFloat/LowerStopFloat reject any move against the
// position, so the stop tracks the highest low (Long) or lowest high
// (Short) seen since it was first set.
type HILOTrail struct{}

func (HILOTrail) Name() string { return "HILOTrail" }

func (HILOTrail) RequiredAuxiliaryIndicators(map[string]any) []AuxIndicatorSpec { return nil }

func (h HILOTrail) Evaluate(hc HandlerContext) *StopOutcome {
	switch hc.Direction {
	case types.DirectionLong:
		hc.Risk.RaiseStopFloat(hc.Bar.Low)
	case types.DirectionShort:
		hc.Risk.LowerStopFloat(hc.Bar.High)
	default:
		return nil
	}

	stop := hc.Risk.StopFloat()
	exitPrice, fired := triggered(hc.Direction, hc.Bar, stop)
	if !fired {
		return nil
	}
	return &StopOutcome{ExitPrice: exitPrice, Reason: types.ExitReasonTrailingStop, HandlerID: h.Name()}
}

func (HILOTrail) ValidateBeforeEntry(hc HandlerContext) *StopValidationResult { return nil }

// IndicatorStop derives its stop level from a named auxiliary indicator's
// current value offset by a fixed fraction of that value: the level is
// value*(1+offset) for a Long and value*(1-offset) for a Short. Configured via
// "indicator_name" (string), "indicator_params" (map[string]any, numeric
// values), "offset_percent" (float64, fraction not percent points), and
// "trailing" (bool): when trailing is true the stop only ever ratchets in
// the position's favor; when false it is reset to the freshly computed
// level every bar.
type IndicatorStop struct{}

func (IndicatorStop) Name() string { return "IndicatorStop" }

func indicatorNameOf(params map[string]any) string {
	name, _ := params["indicator_name"].(string)
	return name
}

func indicatorParamsOf(params map[string]any) map[string]any {
	nested, _ := params["indicator_params"].(map[string]any)
	return nested
}

// auxAlias builds the auxiliary-indicator alias this handler requires,
// deterministic in its parameters' key order so the same indicator_name +
// indicator_params always resolves to the same precomputed series.
func (IndicatorStop) auxAlias(name string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	alias := "aux_stop_" + strings.ToUpper(name)
	for _, k := range keys {
		alias += "_" + k + "_" + itoa(int(floatParam(params, k, 0)))
	}
	return alias
}

func (h IndicatorStop) offsetPercent(params map[string]any) float64 {
	return floatParam(params, "offset_percent", 0)
}

func (h IndicatorStop) trailing(params map[string]any) bool {
	trailing, _ := params["trailing"].(bool)
	return trailing
}

func (h IndicatorStop) level(indicatorValue float64, direction types.Direction, params map[string]any) float64 {
	offset := indicatorValue * h.offsetPercent(params)
	switch direction {
	case types.DirectionLong:
		return indicatorValue + offset
	case types.DirectionShort:
		return indicatorValue - offset
	default:
		return indicatorValue
	}
}

func (h IndicatorStop) RequiredAuxiliaryIndicators(params map[string]any) []AuxIndicatorSpec {
	name := indicatorNameOf(params)
	if name == "" {
		return nil
	}
	nested := indicatorParamsOf(params)
	return []AuxIndicatorSpec{{Alias: h.auxAlias(name, nested), Source: name, Params: nested}}
}

func (h IndicatorStop) indicatorValue(hc HandlerContext) (float64, bool) {
	name := indicatorNameOf(hc.Params)
	if name == "" {
		return 0, false
	}
	level, ok := hc.Aux[h.auxAlias(name, indicatorParamsOf(hc.Params))]
	if !ok || math.IsNaN(level) {
		return 0, false
	}
	return level, true
}

func (h IndicatorStop) Evaluate(hc HandlerContext) *StopOutcome {
	indicatorValue, ok := h.indicatorValue(hc)
	if !ok {
		return nil
	}
	newStop := h.level(indicatorValue, hc.Direction, hc.Params)

	if h.trailing(hc.Params) {
		switch hc.Direction {
		case types.DirectionLong:
			hc.Risk.RaiseStopFloat(newStop)
		case types.DirectionShort:
			hc.Risk.LowerStopFloat(newStop)
		default:
			return nil
		}
	} else {
		if hc.Direction != types.DirectionLong && hc.Direction != types.DirectionShort {
			return nil
		}
		hc.Risk.SetStopFloat(newStop)
	}

	stop := hc.Risk.StopFloat()
	exitPrice, fired := triggered(hc.Direction, hc.Bar, stop)
	if !fired {
		return nil
	}
	return &StopOutcome{ExitPrice: exitPrice, Reason: types.ExitReasonStopLoss, HandlerID: h.Name()}
}

func (h IndicatorStop) ValidateBeforeEntry(hc HandlerContext) *StopValidationResult {
	indicatorValue, ok := h.indicatorValue(hc)
	if !ok {
		return nil
	}
	level := h.level(indicatorValue, hc.Direction, hc.Params)
	if hc.Direction == types.DirectionLong && level >= hc.EntryPrice {
		return &StopValidationResult{Blocked: true, Reason: "indicator stop is already at or above the intended long entry price"}
	}
	if hc.Direction == types.DirectionShort && level <= hc.EntryPrice {
		return &StopValidationResult{Blocked: true, Reason: "indicator stop is already at or below the intended short entry price"}
	}
	return nil
}
