package risk_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/risk"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func bar(open, high, low, close float64) types.Quote {
	return types.Quote{Open: open, High: high, Low: low, Close: close}
}

func TestStopLossPctTriggersWithoutGap(t *testing.T) {
	h := risk.StopLossPct{}
	rs := &types.PositionRiskState{}
	hc := risk.HandlerContext{
		Risk:       rs,
		Direction:  types.DirectionLong,
		EntryPrice: 100,
		Bar:        bar(99.8, 99.9, 99.3, 99.6),
		Params:     map[string]any{"percent": 0.5},
	}
	outcome := h.Evaluate(hc)
	if outcome == nil {
		t.Fatal("expected stop to trigger")
	}
	if outcome.ExitPrice != 99.5 {
		t.Fatalf("expected exit price 99.5, got %v", outcome.ExitPrice)
	}
	if outcome.Reason != types.ExitReasonStopLoss {
		t.Fatalf("expected stop loss exit reason, got %v", outcome.Reason)
	}
}

func TestStopLossPctGapThroughUsesOpenPrice(t *testing.T) {
	h := risk.StopLossPct{}
	rs := &types.PositionRiskState{}
	hc := risk.HandlerContext{
		Risk:       rs,
		Direction:  types.DirectionLong,
		EntryPrice: 100,
		Bar:        bar(98.0, 98.5, 97.0, 98.1),
		Params:     map[string]any{"percent": 0.5},
	}
	outcome := h.Evaluate(hc)
	if outcome == nil {
		t.Fatal("expected stop to trigger")
	}
	if outcome.ExitPrice != 98.0 {
		t.Fatalf("expected gapped exit price 98.0, got %v", outcome.ExitPrice)
	}
}

func TestATRTrailNeverDecreasesAndRatchetsUp(t *testing.T) {
	h := risk.ATRTrail{}
	rs := &types.PositionRiskState{}
	rs.SetStopFloat(100)

	highs := []float64{102, 105, 104, 106}
	wantStops := []float64{100, 102, 102, 103}

	maxHigh := 100.0
	for i, high := range highs {
		if high > maxHigh {
			maxHigh = high
		}
		rs.MaxHighSinceEntry = maxHigh

		hc := risk.HandlerContext{
			Risk:       rs,
			Direction:  types.DirectionLong,
			EntryPrice: 100,
			Bar:        bar(high-1, high, high-0.2, high-0.5),
			BarIndex:   i,
			Aux:        map[string]float64{"aux_ATR_14": 2},
			Params:     map[string]any{"period": 14, "coeff_atr": 1.5},
		}
		h.Evaluate(hc)

		got := rs.StopFloat()
		if got != wantStops[i] {
			t.Fatalf("bar %d: expected stop %v, got %v", i, wantStops[i], got)
		}
		if i > 0 && got < wantStops[i-1] {
			t.Fatalf("bar %d: stop decreased from %v to %v", i, wantStops[i-1], got)
		}
	}
}

func TestIndicatorStopNonTrailingResetsEveryBar(t *testing.T) {
	h := risk.IndicatorStop{}
	rs := &types.PositionRiskState{}
	params := map[string]any{
		"indicator_name":   "sma",
		"indicator_params": map[string]any{"period": 20.0},
		"offset_percent":   0.01,
		"trailing":         false,
	}

	hc := risk.HandlerContext{
		Risk:       rs,
		Direction:  types.DirectionLong,
		EntryPrice: 100,
		Bar:        bar(105, 106, 104.5, 105.5),
		Aux:        map[string]float64{"aux_stop_SMA_period_20": 103},
		Params:     params,
	}
	h.Evaluate(hc)
	if got, want := rs.StopFloat(), 103*1.01; got != want {
		t.Fatalf("expected stop %v, got %v", want, got)
	}

	// A lower indicator reading on the next bar must reset the stop
	// downward since trailing is disabled.
	hc.Aux = map[string]float64{"aux_stop_SMA_period_20": 101}
	h.Evaluate(hc)
	if got, want := rs.StopFloat(), 101*1.01; got != want {
		t.Fatalf("expected reset stop %v, got %v", want, got)
	}
}

func TestIndicatorStopTrailingOnlyRatchetsFavorably(t *testing.T) {
	h := risk.IndicatorStop{}
	rs := &types.PositionRiskState{}
	params := map[string]any{
		"indicator_name":   "sma",
		"indicator_params": map[string]any{"period": 20.0},
		"offset_percent":   0.0,
		"trailing":         true,
	}

	hc := risk.HandlerContext{
		Risk:       rs,
		Direction:  types.DirectionLong,
		EntryPrice: 100,
		Bar:        bar(105, 106, 104.5, 105.5),
		Aux:        map[string]float64{"aux_stop_SMA_period_20": 103},
		Params:     params,
	}
	h.Evaluate(hc)
	if got := rs.StopFloat(); got != 103 {
		t.Fatalf("expected stop 103, got %v", got)
	}

	// A lower indicator reading must not lower a trailing long stop.
	hc.Bar = bar(104, 104.5, 102.5, 103.8)
	hc.Aux = map[string]float64{"aux_stop_SMA_period_20": 101}
	h.Evaluate(hc)
	if got := rs.StopFloat(); got != 103 {
		t.Fatalf("expected stop to remain 103, got %v", got)
	}

	// A higher indicator reading should ratchet it up.
	hc.Bar = bar(107, 108, 106.5, 107.5)
	hc.Aux = map[string]float64{"aux_stop_SMA_period_20": 104}
	h.Evaluate(hc)
	if got := rs.StopFloat(); got != 104 {
		t.Fatalf("expected stop to ratchet to 104, got %v", got)
	}
}

func TestIndicatorStopRequiredAuxiliaryIndicatorsAlias(t *testing.T) {
	h := risk.IndicatorStop{}
	specs := h.RequiredAuxiliaryIndicators(map[string]any{
		"indicator_name":   "sma",
		"indicator_params": map[string]any{"period": 20.0},
	})
	if len(specs) != 1 {
		t.Fatalf("expected one auxiliary spec, got %d", len(specs))
	}
	if specs[0].Alias != "aux_stop_SMA_period_20" {
		t.Fatalf("unexpected alias: %s", specs[0].Alias)
	}
	if specs[0].Source != "sma" {
		t.Fatalf("expected source %q, got %q", "sma", specs[0].Source)
	}
}

func TestHILOTrailFollowsRunningLowOnLong(t *testing.T) {
	h := risk.HILOTrail{}
	rs := &types.PositionRiskState{}
	rs.SetStopFloat(95)

	lows := []float64{96, 94, 98, 99}
	wantStops := []float64{96, 96, 98, 99}

	for i, low := range lows {
		hc := risk.HandlerContext{
			Risk:       rs,
			Direction:  types.DirectionLong,
			EntryPrice: 100,
			Bar:        bar(low+1, low+2, low, low+0.5),
		}
		h.Evaluate(hc)
		if got := rs.StopFloat(); got != wantStops[i] {
			t.Fatalf("bar %d: expected stop %v, got %v", i, wantStops[i], got)
		}
	}
}
