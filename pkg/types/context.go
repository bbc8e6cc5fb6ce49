package types

// TimeframeData bundles one timeframe's quote frame with the precomputed
// indicator and condition series derived from it. All series share the
// same length and index alignment as the frame's bars.
type TimeframeData struct {
	Timeframe    Timeframe
	Frame        *QuoteFrame
	CurrentIndex int
	Indicators   map[string]ValueVector // keyed by IndicatorBinding.Alias
	Conditions   map[string]BoolVector  // keyed by ConditionBinding.ID
}

// BoolVector is a precomputed boolean series, one value per bar, used for
// condition outputs. It mirrors ValueVector's shape without pulling
// floating-point operations into boolean logic.
type BoolVector struct {
	values []bool
}

func NewBoolVector(values []bool) BoolVector { return BoolVector{values: values} }

func (v BoolVector) Len() int        { return len(v.values) }
func (v BoolVector) At(i int) bool    { return v.values[i] }
func (v BoolVector) Values() []bool  { return v.values }

// StrategyContext is the full, precomputed, per-backtest working set for
// one StrategyDefinition: one TimeframeData per required timeframe, plus
// the resolved parameter values (defaults overridden by a candidate's
// genome, if any) the indicator/condition evaluators were built with.
//
// Its series are built once at orchestrator init and only read during the
// per-bar loop, which writes just each TimeframeData's CurrentIndex and the
// Metadata session markers. Bar-by-bar state (open positions, equity,
// trade log) lives separately in the portfolio/position manager.
type StrategyContext struct {
	Definition *StrategyDefinition
	Parameters map[string]float64
	Timeframes map[string]*TimeframeData // keyed by Timeframe.String()

	// Metadata is a string map for session markers and debug flags (e.g.
	// "session.start", "session.end") set by the orchestrator. Each
	// StrategyContext has its own map; it is not shared between runs.
	Metadata map[string]string
}

// TimeframeDataFor resolves the TimeframeData for a timeframe, returning
// nil if that timeframe was not part of the context's required set.
func (c *StrategyContext) TimeframeDataFor(tf Timeframe) *TimeframeData {
	return c.Timeframes[tf.String()]
}

// ResolveParam returns a bound parameter value, falling back to
// defaultValue if the parameter was never set (e.g. a handler parameter
// that isn't one of the strategy's declared ParameterDescriptors).
func (c *StrategyContext) ResolveParam(name string, defaultValue float64) float64 {
	if v, ok := c.Parameters[name]; ok {
		return v
	}
	return defaultValue
}
