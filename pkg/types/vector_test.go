package types_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func TestRollingMeanPartialWindow(t *testing.T) {
	v := types.NewValueVector([]float64{1, 2, 3, 4, 5})
	rm := v.RollingMean(3)
	want := []float64{1, 1.5, 2, 3, 4}
	for i, w := range want {
		if got := rm.At(i); got != w {
			t.Errorf("RollingMean[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestNormalizeZeroVarianceIsIdentity(t *testing.T) {
	v := types.NewValueVector([]float64{5, 5, 5, 5})
	n := v.Normalize()
	for i := 0; i < n.Len(); i++ {
		if n.At(i) != 0 {
			t.Errorf("Normalize()[%d] = %v, want 0 for zero-variance input", i, n.At(i))
		}
	}
}

func TestElementwiseLengthMismatchFails(t *testing.T) {
	a := types.NewValueVector([]float64{1, 2, 3})
	b := types.NewValueVector([]float64{1, 2})
	if _, ok := a.Add(b); ok {
		t.Fatal("expected Add to fail on length mismatch")
	}
}

func TestDivByZeroYieldsZero(t *testing.T) {
	a := types.NewValueVector([]float64{10, 20})
	b := types.NewValueVector([]float64{0, 2})
	out, ok := a.Div(b)
	if !ok {
		t.Fatal("Div should succeed on equal-length vectors")
	}
	if out.At(0) != 0 {
		t.Errorf("Div by zero = %v, want 0", out.At(0))
	}
	if out.At(1) != 10 {
		t.Errorf("Div[1] = %v, want 10", out.At(1))
	}
}

func TestDiffZeroFillsWarmup(t *testing.T) {
	v := types.NewValueVector([]float64{1, 2, 4, 7})
	d := v.Diff(2)
	want := []float64{0, 0, 3, 5}
	for i, w := range want {
		if got := d.At(i); got != w {
			t.Errorf("Diff[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestQuoteFramePushMonotonicityAndOverwrite(t *testing.T) {
	symbol := types.NewSymbol("ETHUSD")
	f := types.NewQuoteFrame(symbol, types.Minute1, 0)
	if err := f.Push(types.Quote{Symbol: symbol, Timeframe: types.Minute1, TimestampMs: 100, Close: 1}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := f.Push(types.Quote{Symbol: symbol, Timeframe: types.Minute1, TimestampMs: 100, Close: 2}); err != nil {
		t.Fatalf("push equal ts: %v", err)
	}
	if f.Len() != 1 {
		t.Fatalf("expected overwrite to keep length 1, got %d", f.Len())
	}
	if f.At(0).Close != 2 {
		t.Fatalf("expected overwritten close 2, got %v", f.At(0).Close)
	}
	if err := f.Push(types.Quote{Symbol: symbol, Timeframe: types.Minute1, TimestampMs: 50, Close: 3}); err == nil {
		t.Fatal("expected error for non-monotonic timestamp")
	}
}

func TestQuoteFrameRollingCap(t *testing.T) {
	symbol := types.NewSymbol("ETHUSD")
	f := types.NewQuoteFrame(symbol, types.Minute1, 2)
	for i := int64(0); i < 3; i++ {
		_ = f.Push(types.Quote{Symbol: symbol, Timeframe: types.Minute1, TimestampMs: i * 60_000, Close: float64(i)})
	}
	if f.Len() != 2 {
		t.Fatalf("expected rolling cap to bound length to 2, got %d", f.Len())
	}
	if f.At(0).Close != 1 || f.At(1).Close != 2 {
		t.Fatalf("expected oldest bar evicted, got %v, %v", f.At(0).Close, f.At(1).Close)
	}
}
