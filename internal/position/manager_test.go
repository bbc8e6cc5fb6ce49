package position_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/position"
	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
)

func TestProcessDecisionRejectsMixedEntryExit(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	mgr := position.NewManager(decimal.NewFromInt(10000), true, false, types.RiskLimits{})

	decision := types.StrategyDecision{
		Entries: []types.DecisionSignal{{RuleID: "enter", Direction: types.DirectionLong}},
		Exits:   []types.DecisionSignal{{RuleID: "exit"}},
	}
	applied, err := mgr.ProcessDecision(symbol, decision, 0, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected mixed entry+exit decision to be rejected")
	}
	if mgr.OpenPositionCount() != 0 {
		t.Fatal("expected no state change on rejected decision")
	}
}

func TestOpenThenCloseRealizesPnL(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	mgr := position.NewManager(decimal.NewFromInt(10000), true, false, types.RiskLimits{})

	entryDecision := types.StrategyDecision{
		Entries: []types.DecisionSignal{{RuleID: "enter_long", Direction: types.DirectionLong}},
	}
	applied, err := mgr.ProcessDecision(symbol, entryDecision, 0, decimal.NewFromInt(100))
	if err != nil || !applied {
		t.Fatalf("expected entry to apply, err=%v applied=%v", err, applied)
	}
	if mgr.OpenPositionCount() != 1 {
		t.Fatalf("expected 1 open position, got %d", mgr.OpenPositionCount())
	}

	exitDecision := types.StrategyDecision{
		Exits: []types.DecisionSignal{{RuleID: "exit_long"}},
	}
	applied, err = mgr.ProcessDecision(symbol, exitDecision, 1, decimal.NewFromInt(110))
	if err != nil || !applied {
		t.Fatalf("expected exit to apply, err=%v applied=%v", err, applied)
	}
	if mgr.OpenPositionCount() != 0 {
		t.Fatal("expected position closed")
	}
	trades := mgr.ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	if !trades[0].PnL.GreaterThan(decimal.Zero) {
		t.Fatalf("expected positive PnL on a 100->110 long, got %v", trades[0].PnL)
	}
}

func TestSnapshotZeroPnLWhenFlat(t *testing.T) {
	mgr := position.NewManager(decimal.NewFromInt(5000), true, false, types.RiskLimits{})
	snap := mgr.PortfolioSnapshot(nil)
	if !snap.UnrealizedPnL.IsZero() {
		t.Fatalf("expected zero unrealized PnL with no positions, got %v", snap.UnrealizedPnL)
	}
	if !snap.TotalEquity.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected equity to equal initial capital, got %v", snap.TotalEquity)
	}
}
