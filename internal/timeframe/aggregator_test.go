package timeframe_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/timeframe"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func TestAggregate15mTo60m(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	base := types.NewQuoteFrame(symbol, types.Minutes(15), 0)

	bars := []types.Quote{
		{Symbol: symbol, Timeframe: types.Minutes(15), TimestampMs: 0, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100},
		{Symbol: symbol, Timeframe: types.Minutes(15), TimestampMs: 15 * 60_000, Open: 11, High: 13, Low: 10, Close: 12, Volume: 150},
		{Symbol: symbol, Timeframe: types.Minutes(15), TimestampMs: 30 * 60_000, Open: 12, High: 14, Low: 11, Close: 13, Volume: 80},
		{Symbol: symbol, Timeframe: types.Minutes(15), TimestampMs: 45 * 60_000, Open: 13, High: 15, Low: 12, Close: 14, Volume: 120},
	}
	for _, b := range bars {
		if err := base.Push(b); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	agg, err := timeframe.Aggregate(base, types.Hours(1))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Frame.Len() != 1 {
		t.Fatalf("expected 1 target bar, got %d", agg.Frame.Len())
	}
	out := agg.Frame.At(0)
	if out.Open != 10 || out.High != 15 || out.Low != 9 || out.Close != 14 || out.Volume != 450 {
		t.Fatalf("unexpected aggregated bar: %+v", out)
	}
	if out.TimestampMs != 0 {
		t.Fatalf("expected timestamp 0, got %d", out.TimestampMs)
	}
	if len(agg.SourceIndices[0]) != 4 {
		t.Fatalf("expected 4 source indices, got %d", len(agg.SourceIndices[0]))
	}
}

func TestAggregateRejectsInvalidRatio(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	base := types.NewQuoteFrame(symbol, types.Minutes(15), 0)
	_ = base.Push(types.Quote{Symbol: symbol, Timeframe: types.Minutes(15), TimestampMs: 0, Close: 1})

	if _, err := timeframe.Aggregate(base, types.Minutes(20)); err == nil {
		t.Fatal("expected InvalidAggregation for non-multiple ratio")
	}
	if _, err := timeframe.Aggregate(base, types.Minutes(15)); err == nil {
		t.Fatal("expected InvalidAggregation for equal timeframe")
	}
	if _, err := timeframe.Aggregate(base, types.Minutes(5)); err == nil {
		t.Fatal("expected InvalidAggregation for smaller timeframe")
	}
}

func TestExpandPreservesOpenCloseAndTotalVolume(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	bar := types.Quote{Symbol: symbol, Timeframe: types.Hours(1), TimestampMs: 0, Open: 10, High: 15, Low: 9, Close: 14, Volume: 450}

	children := timeframe.Expand(bar, types.Minutes(15), 4)
	if len(children) != 4 {
		t.Fatalf("expected 4 children, got %d", len(children))
	}
	if children[0].Open != bar.Open {
		t.Fatalf("first child open = %v, want %v", children[0].Open, bar.Open)
	}
	if children[3].Close != bar.Close {
		t.Fatalf("last child close = %v, want %v", children[3].Close, bar.Close)
	}
	var totalVolume float64
	for _, c := range children {
		totalVolume += c.Volume
	}
	if totalVolume != bar.Volume {
		t.Fatalf("expanded volume sums to %v, want %v", totalVolume, bar.Volume)
	}
}
