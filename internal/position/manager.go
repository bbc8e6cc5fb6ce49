// Package position implements the position manager: applying strategy
// decisions to open/close positions, sizing new entries, and reporting a
// point-in-time portfolio snapshot.
package position

import (
	"sync"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SizingMode selects how a new entry's quantity is computed from
// available capital.
type SizingMode int

const (
	// SizingFixed allocates a fixed fraction of capital per entry
	// (RiskLimits.MaxPositionSize, or an equal share of MaxOpenPositions
	// when unset).
	SizingFixed SizingMode = iota
	// SizingFullCapital allocates the manager's entire sizing base per
	// entry.
	SizingFullCapital
)

// Manager holds the live portfolio — cash, open positions, and the
// closed-trade log — and is the sole mutator of that state during a
// backtest. It is not safe to share across concurrent backtests; the
// RWMutex only guards concurrent snapshot reads against the single
// writer goroutine driving the per-bar loop.
type Manager struct {
	mu sync.RWMutex

	cash           decimal.Decimal
	initialCapital decimal.Decimal
	realizedPnL    decimal.Decimal

	positions map[string]*types.ActivePosition
	closed    []types.ClosedTrade

	sizing          SizingMode
	reinvestProfits bool
	limits          types.RiskLimits
}

// NewManager constructs a Manager with initialCapital cash and no open
// positions.
func NewManager(initialCapital decimal.Decimal, useFullCapital, reinvestProfits bool, limits types.RiskLimits) *Manager {
	sizing := SizingFixed
	if useFullCapital {
		sizing = SizingFullCapital
	}
	return &Manager{
		cash:            initialCapital,
		initialCapital:  initialCapital,
		positions:       make(map[string]*types.ActivePosition),
		sizing:          sizing,
		reinvestProfits: reinvestProfits,
		limits:          limits,
	}
}

// ProcessDecision applies one bar's strategy decision for symbol at
// currentPrice/barTimeMs. Per the atomicity policy, a decision carrying
// both entries and exits is rejected outright — no state changes, applied
// is false — to avoid same-bar reversal ambiguity.
func (m *Manager) ProcessDecision(symbol types.Symbol, decision types.StrategyDecision, barTimeMs int64, currentPrice decimal.Decimal) (applied bool, err error) {
	if decision.IsEmpty() {
		return false, nil
	}
	if len(decision.Entries) > 0 && len(decision.Exits) > 0 {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(decision.Exits) > 0 {
		for _, exit := range decision.Exits {
			m.closePosition(symbol, exit.RuleID, barTimeMs, currentPrice, types.ExitReasonRule)
		}
		return true, nil
	}

	for _, entry := range decision.Entries {
		if m.limits.MaxOpenPositions > 0 && len(m.positions) >= m.limits.MaxOpenPositions {
			continue
		}
		if _, exists := m.positions[symbol.String()]; exists {
			continue
		}
		if err := m.openPosition(symbol, entry, barTimeMs, currentPrice); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (m *Manager) openPosition(symbol types.Symbol, entry types.DecisionSignal, barTimeMs int64, price decimal.Decimal) error {
	if price.LessThanOrEqual(decimal.Zero) {
		return &types.PositionError{Reason: "cannot open a position at non-positive price"}
	}
	quantity := m.sizeEntry(entry, price)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil // insufficient capital; silently skip rather than fail the bar
	}

	pos := &types.ActivePosition{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Direction:   entry.Direction,
		Quantity:    quantity,
		EntryPrice:  price,
		EntryTimeMs: barTimeMs,
		EntryRuleID: entry.RuleID,
	}
	// Risk.StopPrice starts unset; the first stop handler evaluation sets it.

	m.cash = m.cash.Sub(quantity.Mul(price))
	m.positions[symbol.String()] = pos
	return nil
}

func (m *Manager) sizeEntry(entry types.DecisionSignal, price decimal.Decimal) decimal.Decimal {
	if entry.Quantity != nil {
		return decimal.NewFromFloat(*entry.Quantity)
	}

	base := m.initialCapital
	if m.reinvestProfits {
		base = m.equityLocked()
	}

	var allocation decimal.Decimal
	switch m.sizing {
	case SizingFullCapital:
		allocation = base
	default:
		switch {
		case m.limits.MaxPositionSize.GreaterThan(decimal.Zero):
			allocation = base.Mul(m.limits.MaxPositionSize)
		case m.limits.MaxOpenPositions > 0:
			allocation = base.Div(decimal.NewFromInt(int64(m.limits.MaxOpenPositions)))
		default:
			allocation = base
		}
	}
	if allocation.GreaterThan(m.cash) {
		allocation = m.cash
	}
	if allocation.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return allocation.Div(price)
}

func (m *Manager) closePosition(symbol types.Symbol, exitRuleID string, barTimeMs int64, price decimal.Decimal, reason types.StopExitReason) {
	pos, ok := m.positions[symbol.String()]
	if !ok {
		return
	}
	pnl := realizedPnL(pos, price)
	pnlPercent := decimal.Zero
	if cost := pos.Quantity.Mul(pos.EntryPrice); cost.GreaterThan(decimal.Zero) {
		pnlPercent = pnl.Div(cost)
	}

	trade := types.ClosedTrade{
		ID:          pos.ID,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		EntryTimeMs: pos.EntryTimeMs,
		ExitTimeMs:  barTimeMs,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		ExitReason:  reason,
		EntryRuleID: pos.EntryRuleID,
		ExitRuleID:  exitRuleID,
		StopHistory: pos.Risk.StopHistory,
	}

	m.cash = m.cash.Add(pos.Quantity.Mul(price))
	m.realizedPnL = m.realizedPnL.Add(pnl)
	m.closed = append(m.closed, trade)
	delete(m.positions, symbol.String())
}

// CloseAtStop closes a position via a risk manager stop trigger rather
// than a strategy exit rule — used by the orchestrator when a stop
// handler fires.
func (m *Manager) CloseAtStop(symbol types.Symbol, barTimeMs int64, exitPrice decimal.Decimal, reason types.StopExitReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closePosition(symbol, "", barTimeMs, exitPrice, reason)
}

func realizedPnL(pos *types.ActivePosition, exitPrice decimal.Decimal) decimal.Decimal {
	gross := exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	if pos.Direction == types.DirectionShort {
		gross = gross.Neg()
	}
	return gross
}

// OpenPositionCount returns the number of currently open positions.
func (m *Manager) OpenPositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Position returns the open position for symbol, or nil.
func (m *Manager) Position(symbol types.Symbol) *types.ActivePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol.String()]
}

// ClosedTrades returns the accumulated closed-trade log.
func (m *Manager) ClosedTrades() []types.ClosedTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ClosedTrade, len(m.closed))
	copy(out, m.closed)
	return out
}

// Snapshot is a point-in-time view of the portfolio: realized PnL,
// unrealized PnL at the supplied mark prices, total exposure, and total
// equity.
type Snapshot struct {
	Cash           decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalExposure  decimal.Decimal
	TotalEquity    decimal.Decimal
}

// PortfolioSnapshot marks every open position to markPrices (keyed by
// Symbol.String()) and returns the resulting snapshot. Symbols with no
// mark price use their last-known entry price.
func (m *Manager) PortfolioSnapshot(markPrices map[string]decimal.Decimal) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var unrealized, exposure decimal.Decimal
	for key, pos := range m.positions {
		mark, ok := markPrices[key]
		if !ok {
			mark = pos.EntryPrice
		}
		unrealized = unrealized.Add(realizedPnL(pos, mark))
		exposure = exposure.Add(pos.Quantity.Mul(mark))
	}

	return Snapshot{
		Cash:          m.cash,
		RealizedPnL:   m.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalExposure: exposure,
		TotalEquity:   m.cash.Add(exposure),
	}
}

func (m *Manager) equityLocked() decimal.Decimal {
	var exposure decimal.Decimal
	for _, pos := range m.positions {
		exposure = exposure.Add(pos.Quantity.Mul(pos.EntryPrice))
	}
	return m.cash.Add(exposure)
}
