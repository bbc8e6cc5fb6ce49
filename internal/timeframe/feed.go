package timeframe

import "github.com/atlas-quant/strategy-forge/pkg/types"

// FeedManager steps a set of aligned QuoteFrames forward one primary bar
// at a time, keeping every higher timeframe's index pointed at the most
// recent bar whose close is at or before the primary bar's timestamp —
// the no-look-ahead guarantee the rest of the engine depends on.
type FeedManager struct {
	primary   types.Timeframe
	primaryFrame *types.QuoteFrame
	primaryIdx   int

	frames map[string]*types.QuoteFrame
	cursor map[string]int

	lastAligned map[string]int64
}

// NewFeedManager builds a manager over frames (keyed by Timeframe.String())
// with the given primary timeframe, which must be present in frames.
func NewFeedManager(primary types.Timeframe, frames map[string]*types.QuoteFrame) *FeedManager {
	fm := &FeedManager{
		primary:      primary,
		primaryFrame: frames[primary.String()],
		frames:       frames,
		cursor:       make(map[string]int, len(frames)),
		lastAligned:  make(map[string]int64, len(frames)),
	}
	for key := range frames {
		fm.cursor[key] = -1
		fm.lastAligned[key] = -1
	}
	return fm
}

// Step advances exactly one primary-timeframe bar, writing the resulting
// index for every frame into ctx's TimeframeData. Returns false once the
// primary frame is exhausted.
func (fm *FeedManager) Step(ctx *types.StrategyContext) bool {
	if fm.primaryFrame == nil || fm.primaryIdx >= fm.primaryFrame.Len() {
		return false
	}

	primaryKey := fm.primary.String()
	fm.cursor[primaryKey] = fm.primaryIdx
	if td := ctx.Timeframes[primaryKey]; td != nil {
		td.CurrentIndex = fm.primaryIdx
	}

	primaryBar := fm.primaryFrame.At(fm.primaryIdx)

	for key, frame := range fm.frames {
		if key == primaryKey || frame == nil {
			continue
		}
		if !frame.Timeframe.IsFixed() || !fm.primary.IsFixed() {
			continue
		}
		if !frame.Timeframe.GreaterThan(fm.primary) {
			// Lower/equal timeframes are not advanced here — unsupported
			// as non-primary feeds in the core loop.
			continue
		}
		tfMinutes := int64(frame.Timeframe.MinuteCount()) * 60_000
		aligned := floorToBoundary(primaryBar.TimestampMs, tfMinutes)
		if aligned == fm.lastAligned[key] {
			continue
		}
		fm.lastAligned[key] = aligned
		idx := frame.IndexAtOrBefore(aligned)
		if idx < 0 {
			continue
		}
		fm.cursor[key] = idx
		if td := ctx.Timeframes[key]; td != nil {
			td.CurrentIndex = idx
		}
	}

	fm.primaryIdx++
	return true
}

// CurrentIndex returns the last index Step assigned to tf, or -1 if tf
// has not yet been reached.
func (fm *FeedManager) CurrentIndex(tf types.Timeframe) int {
	idx, ok := fm.cursor[tf.String()]
	if !ok {
		return -1
	}
	return idx
}

// ProcessedBars returns how many primary bars Step has consumed so far.
func (fm *FeedManager) ProcessedBars() int { return fm.primaryIdx }

// Len returns the total number of primary bars available.
func (fm *FeedManager) Len() int {
	if fm.primaryFrame == nil {
		return 0
	}
	return fm.primaryFrame.Len()
}
