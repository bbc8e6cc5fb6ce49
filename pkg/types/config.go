package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig parameterizes one backtest run: the strategy to evaluate,
// the instruments and date range to replay it over, and the capital/risk
// rules governing position sizing.
type BacktestConfig struct {
	ID             string           `json:"id"`
	Strategy       *StrategyDefinition `json:"strategy"`
	Genome         map[string]float64  `json:"genome,omitempty"`
	Symbols        []string         `json:"symbols"`
	StartDate      time.Time        `json:"startDate"`
	EndDate        time.Time        `json:"endDate"`
	BaseTimeframe  Timeframe        `json:"baseTimeframe"`
	InitialCapital decimal.Decimal  `json:"initialCapital"`
	Commission     decimal.Decimal  `json:"commission"`
	Slippage       SlippageConfig   `json:"slippage"`
	RiskLimits     RiskLimits       `json:"riskLimits"`
	Validation     ValidationConfig `json:"validation"`

	// UseFullCapital sizes each entry from the whole sizing base (initial
	// capital, or current equity when ReinvestProfits is set) rather than a
	// fraction of it.
	UseFullCapital bool `json:"useFullCapital"`
	// ReinvestProfits compounds realized gains into subsequent position
	// sizing rather than sizing off a fixed InitialCapital baseline.
	ReinvestProfits bool `json:"reinvestProfits"`
}

// SlippageConfig selects and parameterizes one of the registered
// execution slippage models.
type SlippageConfig struct {
	Model          string          `json:"model"` // "fixed", "volume_weighted", "orderbook"
	FixedBps       decimal.Decimal `json:"fixedBps,omitempty"`
	ImpactFactor   decimal.Decimal `json:"impactFactor,omitempty"`
	VolumeFraction decimal.Decimal `json:"volumeFraction,omitempty"`
}

// RiskLimits bounds position sizing and portfolio-level exposure.
type RiskLimits struct {
	MaxPositionSize  decimal.Decimal `json:"maxPositionSize"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	MaxDailyLoss     decimal.Decimal `json:"maxDailyLoss"`
	MaxOpenPositions int             `json:"maxOpenPositions"`
	MaxLeverage      decimal.Decimal `json:"maxLeverage"`
	MaxCorrelation   decimal.Decimal `json:"maxCorrelation"`
}

// ValidationConfig enables optional post-backtest robustness checks.
type ValidationConfig struct {
	WalkForward WalkForwardConfig `json:"walkForward,omitempty"`
	MonteCarlo  MonteCarloConfig  `json:"monteCarlo,omitempty"`
}

// WalkForwardConfig configures rolling or anchored in-sample/out-of-sample
// validation.
type WalkForwardConfig struct {
	Enabled    bool `json:"enabled"`
	WindowSize int  `json:"windowSize"` // days
	StepSize   int  `json:"stepSize"`   // days
	MinSamples int  `json:"minSamples"`
	Anchored   bool `json:"anchored"`
}

// MonteCarloConfig configures resampled-returns robustness simulation.
type MonteCarloConfig struct {
	Enabled         bool            `json:"enabled"`
	Iterations      int             `json:"iterations"`
	ConfidenceLevel decimal.Decimal `json:"confidenceLevel"`
	ShuffleReturns  bool            `json:"shuffleReturns"`
}

// ServerConfig configures the HTTP/WebSocket control surface.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// DataConfig configures where and how historical quote data is loaded.
type DataConfig struct {
	DataDir         string `json:"dataDir"`
	CacheSize       int    `json:"cacheSize"` // MB
	UseMemoryMap    bool   `json:"useMemoryMap"`
	CompressionType string `json:"compressionType"` // "none", "gzip", "lz4"
}
