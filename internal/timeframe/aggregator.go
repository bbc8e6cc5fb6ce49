// Package timeframe aggregates a base QuoteFrame into coarser timeframes
// and, for diagnostics, expands an aggregated bar back into approximate
// children.
package timeframe

import "github.com/atlas-quant/strategy-forge/pkg/types"

// AggregatedQuoteFrame is a target-timeframe QuoteFrame plus, for each
// target bar, the indices of the base-frame rows that collapsed into it —
// kept so callers can trace a target bar back to its source rows.
type AggregatedQuoteFrame struct {
	Frame         *types.QuoteFrame
	SourceIndices [][]int
}

// Aggregate converts base into target's timeframe. Valid only when
// target represents a strictly larger, exact-multiple sampling period
// than base (target_minutes > base_minutes and target_minutes mod
// base_minutes == 0); otherwise returns ErrInvalidAggregation.
func Aggregate(base *types.QuoteFrame, target types.Timeframe) (*AggregatedQuoteFrame, error) {
	if !base.Timeframe.IsFixed() || !target.IsFixed() {
		return nil, types.ErrInvalidAggregation
	}
	baseMinutes := base.Timeframe.MinuteCount()
	targetMinutes := target.MinuteCount()
	if baseMinutes <= 0 || targetMinutes <= baseMinutes || targetMinutes%baseMinutes != 0 {
		return nil, types.ErrInvalidAggregation
	}
	if base.Len() == 0 {
		return &AggregatedQuoteFrame{Frame: types.NewQuoteFrame(base.Symbol, target, 0)}, nil
	}

	targetMs := int64(targetMinutes) * 60_000
	out := types.NewQuoteFrame(base.Symbol, target, 0)
	var sourceIndices [][]int

	var curBucket int64 = -1
	var cur types.Quote
	var curIdx []int

	flush := func() {
		if curBucket == -1 {
			return
		}
		if err := out.Push(cur); err != nil {
			// Monotonicity is guaranteed by iterating base in order; a
			// failure here means the base frame itself was malformed.
			return
		}
		sourceIndices = append(sourceIndices, curIdx)
	}

	for i := 0; i < base.Len(); i++ {
		bar := base.At(i)
		bucket := floorToBoundary(bar.TimestampMs, targetMs)
		if bucket != curBucket {
			flush()
			curBucket = bucket
			cur = types.Quote{
				Symbol:      base.Symbol,
				Timeframe:   target,
				TimestampMs: bucket,
				Open:        bar.Open,
				High:        bar.High,
				Low:         bar.Low,
				Close:       bar.Close,
				Volume:      bar.Volume,
			}
			curIdx = []int{i}
			continue
		}
		if bar.High > cur.High {
			cur.High = bar.High
		}
		if bar.Low < cur.Low {
			cur.Low = bar.Low
		}
		cur.Close = bar.Close
		cur.Volume += bar.Volume
		curIdx = append(curIdx, i)
	}
	flush()

	return &AggregatedQuoteFrame{Frame: out, SourceIndices: sourceIndices}, nil
}

// floorToBoundary floors a millisecond timestamp to the most recent
// boundary that is a multiple of stepMs milliseconds.
func floorToBoundary(tsMs, stepMs int64) int64 {
	if stepMs <= 0 {
		return tsMs
	}
	return (tsMs / stepMs) * stepMs
}

// Expand spreads one aggregated bar back into `ratio` child bars, for
// diagnostic display only — this is a lossy approximation, not a
// reconstruction of the original base bars. Volume is divided equally
// across children except the last, which absorbs the rounding residue.
// Open of the first child equals the target's open, close of the last
// child equals the target's close; intermediate highs/lows are
// approximated from the target's own extremes.
func Expand(bar types.Quote, childTimeframe types.Timeframe, ratio int) []types.Quote {
	if ratio < 1 {
		ratio = 1
	}
	children := make([]types.Quote, ratio)
	childMs := int64(childTimeframe.MinuteCount()) * 60_000
	perChildVolume := bar.Volume / float64(ratio)
	usedVolume := perChildVolume * float64(ratio-1)

	for i := 0; i < ratio; i++ {
		c := types.Quote{
			Symbol:      bar.Symbol,
			Timeframe:   childTimeframe,
			TimestampMs: bar.TimestampMs + int64(i)*childMs,
			High:        bar.High,
			Low:         bar.Low,
			Volume:      perChildVolume,
		}
		switch {
		case i == 0 && ratio == 1:
			c.Open, c.Close = bar.Open, bar.Close
		case i == 0:
			c.Open = bar.Open
			c.Close = midpoint(bar.Open, bar.Close)
		case i == ratio-1:
			c.Open = midpoint(bar.Open, bar.Close)
			c.Close = bar.Close
			c.Volume = bar.Volume - usedVolume
		default:
			c.Open = midpoint(bar.Open, bar.Close)
			c.Close = midpoint(bar.Open, bar.Close)
		}
		children[i] = c
	}
	return children
}

func midpoint(a, b float64) float64 { return (a + b) / 2 }
