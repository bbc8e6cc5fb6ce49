package types

// StrategyDefinition is the declarative schema a strategy is built from:
// which indicators feed which conditions, which conditions gate which
// entry/exit rules, and which stop/take handlers manage open positions.
// It carries no indicator output or evaluation state — that lives in
// StrategyContext, rebuilt fresh per backtest.
type StrategyDefinition struct {
	Metadata   StrategyMetadata      `json:"metadata"`
	Parameters []ParameterDescriptor `json:"parameters"`

	Indicators []IndicatorBinding `json:"indicators"`
	Conditions []ConditionBinding `json:"conditions"`

	EntryRules []StrategyRule `json:"entryRules"`
	ExitRules  []StrategyRule `json:"exitRules"`

	StopHandlers []StopHandlerBinding `json:"stopHandlers"`

	RequiredTimeframes []Timeframe `json:"requiredTimeframes"`
}

type StrategyMetadata struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// ParameterDescriptor documents one tunable numeric parameter: its default,
// its optimization range, and whether the GA is allowed to mutate it.
type ParameterDescriptor struct {
	Name      string  `json:"name"`
	Default   float64 `json:"default"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	IsInteger bool    `json:"isInteger"`
	Mutable   bool    `json:"mutable"`
}

// IndicatorBinding names a registry indicator, its timeframe, and its
// parameters, under a local alias used by conditions/stops to reference
// its output series.
type IndicatorBinding struct {
	Alias     string         `json:"alias"`
	Timeframe Timeframe      `json:"timeframe"`
	Source    string         `json:"source"` // registry name
	Params    map[string]any `json:"params"`
}

// DataSeriesSourceKind tags the variant carried by a DataSeriesSource.
type DataSeriesSourceKind int

const (
	SourcePrice DataSeriesSourceKind = iota
	SourceIndicator
	SourceCustom
)

// PriceField names which OHLCV field a Price source resolves to.
type PriceField int

const (
	FieldOpen PriceField = iota
	FieldHigh
	FieldLow
	FieldClose
	FieldVolume
)

// DataSeriesSource is a tagged variant identifying where a condition or
// stop handler reads its input series from.
type DataSeriesSource struct {
	Kind      DataSeriesSourceKind
	Field     PriceField // used when Kind == SourcePrice
	Alias     string     // used when Kind == SourceIndicator or SourceCustom
	Timeframe *Timeframe // nil means "use the binding's own timeframe"
}

// ConditionOperator enumerates the evaluators §4.4 of the condition
// engine supports.
type ConditionOperator int

const (
	OpAbove ConditionOperator = iota
	OpBelow
	OpCrossesAbove
	OpCrossesBelow
	OpRisingTrend
	OpFallingTrend
	OpGreaterPercent
	OpLowerPercent
	OpBetween
)

// ConditionInputKind tags whether a condition takes one, two, or two-plus-
// percentage operands.
type ConditionInputKind int

const (
	InputSingle ConditionInputKind = iota
	InputDual
	InputDualWithPercent
	InputBetween // primary + two secondaries
)

// ConditionInput carries the operands for a condition binding. Primary is
// always populated; Secondary/SecondaryB and Percent are populated
// depending on Kind.
type ConditionInput struct {
	Kind      ConditionInputKind
	Primary   DataSeriesSource
	Secondary DataSeriesSource
	SecondaryB DataSeriesSource // only for Between
	Percent   float64
	Period    int // only for RisingTrend/FallingTrend
}

// ConditionBinding declares one condition to be precomputed as a boolean
// series over the whole frame.
type ConditionBinding struct {
	ID        string           `json:"id"`
	Timeframe Timeframe        `json:"timeframe"`
	Operator  ConditionOperator `json:"operator"`
	Input     ConditionInput   `json:"input"`
	Weight    float64          `json:"weight"`
	Tags      []string         `json:"tags"`
}

// RuleLogic tags whether a rule requires all or any of its conditions.
type RuleLogic int

const (
	LogicAll RuleLogic = iota
	LogicAny
)

// RuleSignal tags whether a rule produces an entry or exit signal.
type RuleSignal int

const (
	SignalEntry RuleSignal = iota
	SignalExit
)

// Direction tags Long/Short/Flat.
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "flat"
	}
}

// StrategyRule is one entry or exit rule: a boolean combination (All/Any)
// of named conditions, firing a signal with a direction and optional fixed
// quantity override.
type StrategyRule struct {
	ID         string     `json:"id"`
	Logic      RuleLogic  `json:"logic"`
	Conditions []string   `json:"conditions"`
	Signal     RuleSignal `json:"signal"`
	Direction  Direction  `json:"direction"`
	Timeframe  Timeframe  `json:"timeframe"`
	Quantity   *float64   `json:"quantity,omitempty"`
}

// StopHandlerBinding instantiates a named stop/take handler against a set
// of entry rules, with its own parameters and evaluation priority (lower
// fires first when multiple handlers trigger on the same bar).
type StopHandlerBinding struct {
	ID         string         `json:"id"`
	Handler    string         `json:"handler"` // case-insensitive registry name
	Timeframe  Timeframe      `json:"timeframe"`
	Parameters map[string]any `json:"parameters"`
	Direction  Direction      `json:"direction"`
	Priority   int            `json:"priority"`
	TargetEntryIDs []string   `json:"targetEntryIds"`
}

// StrategyDecision is the per-bar output of evaluating entry/exit rules:
// zero or more entry signals and zero or more exit signals.
type StrategyDecision struct {
	Entries []DecisionSignal
	Exits   []DecisionSignal
}

// DecisionSignal carries one fired rule's outcome.
type DecisionSignal struct {
	RuleID    string
	Direction Direction
	Timeframe Timeframe
	Quantity  *float64
}

func (d StrategyDecision) IsEmpty() bool {
	return len(d.Entries) == 0 && len(d.Exits) == 0
}
