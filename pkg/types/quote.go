package types

import "fmt"

// Symbol identifies a traded instrument, optionally scoped to an exchange.
// It is a small value type intended to be used as a map key.
type Symbol struct {
	Code     string
	Exchange string
}

func NewSymbol(code string) Symbol { return Symbol{Code: code} }

func (s Symbol) String() string {
	if s.Exchange == "" {
		return s.Code
	}
	return fmt.Sprintf("%s@%s", s.Code, s.Exchange)
}

// Quote is a single immutable OHLCV bar. TimestampMs is milliseconds since
// the Unix epoch, UTC.
type Quote struct {
	Symbol      Symbol
	Timeframe   Timeframe
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// QuoteFrame is an ordered, append-only sequence of Quote sharing one
// Symbol and Timeframe. Timestamps are strictly non-decreasing; pushing an
// equal timestamp overwrites the last entry (a bar update) rather than
// appending. An optional rolling cap drops the oldest entry on overflow.
type QuoteFrame struct {
	Symbol    Symbol
	Timeframe Timeframe
	bars      []Quote
	cap       int // 0 means unbounded
}

// NewQuoteFrame creates an empty frame for the given symbol/timeframe. A
// positive rollingCap bounds the frame to that many bars, dropping the
// oldest on overflow; zero means unbounded.
func NewQuoteFrame(symbol Symbol, tf Timeframe, rollingCap int) *QuoteFrame {
	return &QuoteFrame{Symbol: symbol, Timeframe: tf, cap: rollingCap}
}

// Push appends a bar, enforcing monotonicity and the update-on-equal-ts
// rule. Returns QuoteFrameError if the bar's symbol/timeframe mismatches
// the frame, or its timestamp regresses.
func (f *QuoteFrame) Push(q Quote) error {
	if q.Symbol != f.Symbol {
		return &QuoteFrameError{Reason: fmt.Sprintf("symbol mismatch: frame=%s bar=%s", f.Symbol, q.Symbol)}
	}
	if q.Timeframe != f.Timeframe {
		return &QuoteFrameError{Reason: fmt.Sprintf("timeframe mismatch: frame=%s bar=%s", f.Timeframe, q.Timeframe)}
	}
	n := len(f.bars)
	if n > 0 {
		last := f.bars[n-1].TimestampMs
		switch {
		case q.TimestampMs < last:
			return &QuoteFrameError{Reason: "non-monotonic timestamp on push"}
		case q.TimestampMs == last:
			f.bars[n-1] = q
			return nil
		}
	}
	f.bars = append(f.bars, q)
	if f.cap > 0 && len(f.bars) > f.cap {
		f.bars = f.bars[len(f.bars)-f.cap:]
	}
	return nil
}

// Len returns the number of bars currently held.
func (f *QuoteFrame) Len() int { return len(f.bars) }

// At returns the bar at index i. Panics on out-of-range i, matching slice
// semantics — callers in the hot path are expected to have checked Len.
func (f *QuoteFrame) At(i int) Quote { return f.bars[i] }

// Bars returns the underlying bar slice. Callers must not mutate it.
func (f *QuoteFrame) Bars() []Quote { return f.bars }

// Closes returns a flat slice of close prices, one per bar, suitable as
// input to indicator/vector computations.
func (f *QuoteFrame) Closes() []float64 { return f.field(func(q Quote) float64 { return q.Close }) }
func (f *QuoteFrame) Opens() []float64  { return f.field(func(q Quote) float64 { return q.Open }) }
func (f *QuoteFrame) Highs() []float64  { return f.field(func(q Quote) float64 { return q.High }) }
func (f *QuoteFrame) Lows() []float64   { return f.field(func(q Quote) float64 { return q.Low }) }
func (f *QuoteFrame) Volumes() []float64 {
	return f.field(func(q Quote) float64 { return q.Volume })
}

func (f *QuoteFrame) field(sel func(Quote) float64) []float64 {
	out := make([]float64, len(f.bars))
	for i, q := range f.bars {
		out[i] = sel(q)
	}
	return out
}

// Timestamps returns a flat slice of millisecond timestamps, one per bar.
func (f *QuoteFrame) Timestamps() []int64 {
	out := make([]int64, len(f.bars))
	for i, q := range f.bars {
		out[i] = q.TimestampMs
	}
	return out
}

// IndexAtOrBefore returns the greatest index j such that bars[j].TimestampMs
// <= tsMs, or -1 if no such bar exists. Used by the feed manager's
// higher-timeframe alignment rule; every lookup is a binary search over
// the bars.
func (f *QuoteFrame) IndexAtOrBefore(tsMs int64) int {
	lo, hi := 0, len(f.bars)-1
	result := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if f.bars[mid].TimestampMs <= tsMs {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}
