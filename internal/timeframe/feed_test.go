package timeframe_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/timeframe"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func buildFrame(t *testing.T, symbol types.Symbol, tf types.Timeframe, startMs, stepMs int64, n int) *types.QuoteFrame {
	t.Helper()
	f := types.NewQuoteFrame(symbol, tf, 0)
	for i := 0; i < n; i++ {
		ts := startMs + int64(i)*stepMs
		q := types.Quote{Symbol: symbol, Timeframe: tf, TimestampMs: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
		if err := f.Push(q); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	return f
}

func TestFeedManagerNoLookAhead(t *testing.T) {
	symbol := types.NewSymbol("BTCUSD")
	primary := types.Minutes(15)
	higher := types.Hours(1)

	primaryFrame := buildFrame(t, symbol, primary, 0, 15*60_000, 8) // spans 2 hours
	higherFrame := buildFrame(t, symbol, higher, 0, 60*60_000, 2)

	frames := map[string]*types.QuoteFrame{
		primary.String(): primaryFrame,
		higher.String():  higherFrame,
	}
	fm := timeframe.NewFeedManager(primary, frames)

	ctx := &types.StrategyContext{
		Timeframes: map[string]*types.TimeframeData{
			primary.String(): {Timeframe: primary, Frame: primaryFrame},
			higher.String():  {Timeframe: higher, Frame: higherFrame},
		},
	}

	for i := 0; i < primaryFrame.Len(); i++ {
		if !fm.Step(ctx) {
			t.Fatalf("step %d: expected true", i)
		}
		primaryTs := primaryFrame.At(i).TimestampMs
		higherIdx := fm.CurrentIndex(higher)
		if higherIdx < 0 {
			continue
		}
		higherTs := higherFrame.At(higherIdx).TimestampMs
		if higherTs > primaryTs {
			t.Fatalf("look-ahead violation at primary bar %d: higher ts %d > primary ts %d", i, higherTs, primaryTs)
		}
	}

	if fm.Step(ctx) {
		t.Fatal("expected false once primary frame is exhausted")
	}
}
