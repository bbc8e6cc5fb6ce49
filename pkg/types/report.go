package types

import "github.com/shopspring/decimal"

// BacktestReport is the full output of one backtest run: the trade log,
// equity curve, and derived performance/risk metrics. Several metric
// fields are pointers because they are undefined (nil) when too few
// trades occurred to compute them meaningfully, rather than reported as a
// misleading zero.
type BacktestReport struct {
	StrategyID string
	Symbols    []Symbol
	StartMs    int64
	EndMs      int64

	InitialCapital decimal.Decimal
	FinalEquity    decimal.Decimal

	Trades      []ClosedTrade
	Executions  []ExecutionReport
	EquityCurve []EquityCurvePoint

	Metrics PerformanceMetrics
	Risk    RiskMetrics

	SessionStartMs *int64
	SessionEndMs   *int64

	// MonteCarlo is set only when the run's ValidationConfig.MonteCarlo was
	// enabled: a resampled-returns robustness simulation over this run's
	// closed trades.
	MonteCarlo *MonteCarloResult
	// WalkForward is set only when ValidationConfig.WalkForward was
	// enabled: rolling or anchored in-sample/out-of-sample windows replayed
	// as independent sub-runs.
	WalkForward *WalkForwardResult
	// Viability is always populated: a human-facing diagnostic grade
	// derived from Metrics, Risk, and (when present) WalkForward. Never
	// consumed by the genetic algorithm's selection logic.
	Viability *ViabilityReport
}

// PerformanceMetrics holds the derived statistics of a completed
// backtest. Ratio/rate fields are nil when there is insufficient trade
// history to compute them (spec's "undefined, not zero" rule).
type PerformanceMetrics struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int

	TotalPnL       decimal.Decimal
	TotalProfit    decimal.Decimal
	TotalReturn    decimal.Decimal
	AnnualizedReturn decimal.Decimal
	CAGR           *decimal.Decimal

	WinRate           *decimal.Decimal
	WinningPercentage *decimal.Decimal
	AverageTrade      *decimal.Decimal
	AvgWin            *decimal.Decimal
	AvgLoss           *decimal.Decimal
	LargestWin        *decimal.Decimal
	LargestLoss       *decimal.Decimal
	ProfitFactor      *decimal.Decimal
	Expectancy        *decimal.Decimal

	SharpeRatio  *decimal.Decimal
	SortinoRatio *decimal.Decimal
	CalmarRatio  *decimal.Decimal

	MaxDrawdown        decimal.Decimal
	MaxDrawdownPercent decimal.Decimal
	MaxDrawdownDate    int64
}

// RiskMetrics holds volatility and tail-risk statistics derived from the
// equity curve's daily return series.
type RiskMetrics struct {
	DailyVolatility  decimal.Decimal
	AnnualVolatility decimal.Decimal
	VaR95            decimal.Decimal
	VaR99            decimal.Decimal
	CVaR95           decimal.Decimal
}

// EquityCurvePoint is one sample of the running equity series, taken at
// the engine's equity-update cadence rather than every bar.
type EquityCurvePoint struct {
	TimestampMs int64
	Equity      decimal.Decimal
	Drawdown    decimal.Decimal
}

// FitnessThresholds gates a candidate out of scoring entirely when any
// minimum/maximum is violated, before the weighted score is computed.
type FitnessThresholds struct {
	MinSharpe        float64
	MaxDrawdownPct   float64
	MinWinRate       float64
	MinProfitFactor  float64
	MinTotalProfit   float64
	MinTrades        int
	MinCAGR          float64
	MaxAbsDrawdown   float64
}

// FitnessWeights weights each normalized component of the scalar fitness
// score. The GA only ever consumes the resulting Score — never the
// ViabilityReport, which is purely diagnostic.
type FitnessWeights struct {
	Sharpe       float64
	ProfitFactor float64
	WinRate      float64
	CAGR         float64
	DrawdownPenalty float64
}

// FitnessResult is the evaluation runner's scalar output for one
// individual: whether it passed the threshold gate, and if so, its
// weighted score. Individuals that fail the gate carry Score 0 and
// Passed false. A passing score is never negative and the GA ranks by
// Score alone, so a failed individual ranks below any passing one with a
// positive score and ties with a passing one that scored 0.
type FitnessResult struct {
	Passed bool
	Score  float64
	Reason string // set when Passed is false, naming the threshold that failed
}

// ViabilityGrade is a letter grade summarizing a ViabilityReport.
type ViabilityGrade string

const (
	GradeA ViabilityGrade = "A"
	GradeB ViabilityGrade = "B"
	GradeC ViabilityGrade = "C"
	GradeD ViabilityGrade = "D"
	GradeF ViabilityGrade = "F"
)

// ViabilityCategoryScore is one named component (0-100) of a
// ViabilityReport, e.g. "return", "risk", "consistency", "robustness".
type ViabilityCategoryScore struct {
	Name  string
	Score float64
}

// ViabilitySeverity ranks how much an issue should weigh on a reviewer's
// trust in a candidate.
type ViabilitySeverity string

const (
	SeverityInfo     ViabilitySeverity = "info"
	SeverityWarning  ViabilitySeverity = "warning"
	SeverityCritical ViabilitySeverity = "critical"
)

// ViabilityIssue names one metric that fell short of its threshold, with
// enough context for a human reviewer to act on it without re-deriving
// the comparison themselves.
type ViabilityIssue struct {
	Metric     string
	Actual     decimal.Decimal
	Required   decimal.Decimal
	Severity   ViabilitySeverity
	Suggestion string
}

// ViabilityReport is a supplemental, human-facing diagnostic alongside
// FitnessResult: a letter grade, per-category breakdown, and structured
// issues/strengths. It is never consumed by the genetic algorithm's
// selection logic — only surfaced through reports and the HTTP API so an
// operator can see *why* a candidate scored the way it did.
type ViabilityReport struct {
	Grade      ViabilityGrade
	Score      float64
	IsViable   bool
	Categories []ViabilityCategoryScore
	Issues     []ViabilityIssue
	Strengths  []string
}
