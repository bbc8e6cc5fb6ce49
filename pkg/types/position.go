package types

import "github.com/shopspring/decimal"

// ActivePosition is a currently-open position held by the portfolio. Money
// fields use decimal.Decimal; price/quantity series used for trailing-stop
// math live in PositionRiskState as plain float64, mirroring the engine's
// split between exact PnL accounting and fast indicator-adjacent math.
type ActivePosition struct {
	ID          string
	Symbol      Symbol
	Direction   Direction
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	EntryTimeMs int64
	EntryRuleID string

	Risk PositionRiskState
}

// PositionRiskState tracks the live stop/take levels attached to a
// position. Once a trailing stop has moved, it must never move back in
// the position's favor-losing direction: for a Long position StopPrice is
// non-decreasing; for a Short position it is non-increasing. Trailing
// handlers enforce this by calling RaiseStop/LowerStop; StopLossPct sets
// its fixed level once, and a non-trailing IndicatorStop resets its level
// every bar, through SetStopFloat.
type PositionRiskState struct {
	StopPrice   *decimal.Decimal
	TakePrice   *decimal.Decimal
	TrailActive bool
	HandlerID   string

	// MaxHighSinceEntry / MinLowSinceEntry track the running bar extremes
	// observed since the position opened; trailing handlers compute their
	// new level from these rather than from the raw bar each time.
	MaxHighSinceEntry float64
	MinLowSinceEntry  float64
	EntryBarIndex     int

	// StopHistory records every stop level the position has held, in
	// order, for diagnostics and the Between/trailing fixture tests.
	StopHistory []decimal.Decimal
}

// RaiseStop sets a new stop level for a Long position, rejecting any level
// that is not strictly greater than the current one (the monotonicity
// invariant). Returns false if rejected.
func (r *PositionRiskState) RaiseStop(level decimal.Decimal) bool {
	if r.StopPrice != nil && level.LessThanOrEqual(*r.StopPrice) {
		return false
	}
	r.StopPrice = &level
	r.StopHistory = append(r.StopHistory, level)
	return true
}

// LowerStop sets a new stop level for a Short position, rejecting any
// level that is not strictly less than the current one.
func (r *PositionRiskState) LowerStop(level decimal.Decimal) bool {
	if r.StopPrice != nil && level.GreaterThanOrEqual(*r.StopPrice) {
		return false
	}
	r.StopPrice = &level
	r.StopHistory = append(r.StopHistory, level)
	return true
}

// SetStopUnconditional sets the stop level with no prior-value check;
// SetStopFloat uses it for a handler's initial or per-bar reset level.
func (r *PositionRiskState) SetStopUnconditional(level decimal.Decimal) {
	r.StopPrice = &level
	r.StopHistory = append(r.StopHistory, level)
}

// StopFloat returns the current stop level as a float64, or 0 if unset.
// Stop handlers operate on plain float64 bar data, so this is the bridge
// back to the decimal-denominated StopPrice the position manager reads.
func (r *PositionRiskState) StopFloat() float64 {
	if r.StopPrice == nil {
		return 0
	}
	f, _ := r.StopPrice.Float64()
	return f
}

// SetStopFloat sets the initial stop level from a float64 with no
// prior-value check, equivalent to SetStopUnconditional.
func (r *PositionRiskState) SetStopFloat(level float64) {
	r.SetStopUnconditional(decimal.NewFromFloat(level))
}

// RaiseStopFloat is RaiseStop taking a float64 level.
func (r *PositionRiskState) RaiseStopFloat(level float64) bool {
	return r.RaiseStop(decimal.NewFromFloat(level))
}

// LowerStopFloat is LowerStop taking a float64 level.
func (r *PositionRiskState) LowerStopFloat(level float64) bool {
	return r.LowerStop(decimal.NewFromFloat(level))
}

// StopExitReason tags why a closed trade exited via a stop/take handler
// rather than a strategy exit rule.
type StopExitReason int

const (
	ExitReasonRule StopExitReason = iota
	ExitReasonStopLoss
	ExitReasonTakeProfit
	ExitReasonTrailingStop
	ExitReasonEndOfData
)

func (r StopExitReason) String() string {
	switch r {
	case ExitReasonStopLoss:
		return "stop_loss"
	case ExitReasonTakeProfit:
		return "take_profit"
	case ExitReasonTrailingStop:
		return "trailing_stop"
	case ExitReasonEndOfData:
		return "end_of_data"
	default:
		return "rule"
	}
}

// ClosedTrade is the immutable record of one completed round trip,
// produced when a position is fully closed.
type ClosedTrade struct {
	ID           string
	Symbol       Symbol
	Direction    Direction
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	EntryTimeMs  int64
	ExitTimeMs   int64
	PnL          decimal.Decimal
	PnLPercent   decimal.Decimal
	ExitReason   StopExitReason
	EntryRuleID  string
	ExitRuleID   string
	StopHistory  []decimal.Decimal
}

// ExecutionReport is emitted for every fill (open, partial close, full
// close) during a backtest, giving an auditable sequence independent of
// the final ClosedTrade summary.
type ExecutionReport struct {
	PositionID  string
	Symbol      Symbol
	Direction   Direction
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimestampMs int64
	Commission  decimal.Decimal
	Slippage    decimal.Decimal
	IsEntry     bool
	Reason      StopExitReason
}
