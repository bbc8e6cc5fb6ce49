package types

import "fmt"

// The engine's error taxonomy is a small set of distinct types rather than
// a single generic error, so callers can recover the kind with errors.As
// and the evaluation runner can decide per-kind whether a failure is fatal
// to one backtest or fatal to the whole search.

// StrategyError covers indicator/condition evaluation failures: missing
// alias, unknown indicator name, or an out-of-domain parameter. Fatal to
// the backtest that triggers it; the evaluation runner converts it into
// "no score, no report" for the GA individual.
type StrategyError struct {
	Alias  string
	Reason string
}

func (e *StrategyError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("strategy: %s (alias=%s)", e.Reason, e.Alias)
	}
	return fmt.Sprintf("strategy: %s", e.Reason)
}

// PositionError covers invalid sizing or closing an unknown position.
// Fatal to the backtest.
type PositionError struct {
	Reason string
}

func (e *PositionError) Error() string { return fmt.Sprintf("position: %s", e.Reason) }

// FeedError covers aggregation-impossible or empty-frame conditions
// encountered while stepping the feed. Fatal to the backtest.
type FeedError struct {
	Reason string
}

func (e *FeedError) Error() string { return fmt.Sprintf("feed: %s", e.Reason) }

// StopHandlerError covers an unknown handler name or invalid parameter,
// caught at strategy-build time. Fatal to the build — the strategy never
// runs.
type StopHandlerError struct {
	Handler string
	Reason  string
}

func (e *StopHandlerError) Error() string {
	return fmt.Sprintf("stop handler %q: %s", e.Handler, e.Reason)
}

// QuoteFrameError covers symbol/timeframe mismatch or a non-monotonic
// timestamp on push. Fatal to ingestion.
type QuoteFrameError struct {
	Reason string
}

func (e *QuoteFrameError) Error() string { return fmt.Sprintf("quote frame: %s", e.Reason) }

// AggregationError covers a source frame shorter than one target bar, or a
// ratio overflow. Fatal to the aggregation call.
type AggregationError struct {
	Reason string
}

func (e *AggregationError) Error() string { return fmt.Sprintf("aggregation: %s", e.Reason) }

// ErrInvalidAggregation is returned when target_minutes is not a strictly
// larger, exact multiple of base_minutes.
var ErrInvalidAggregation = &AggregationError{Reason: "target timeframe must be a multiple of and greater than the base timeframe"}
