// Package backtester provides a resampled-returns Monte Carlo robustness
// check alongside the core replay engine.
package backtester

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MonteCarloSimulator bootstrap-resamples a closed trade log to estimate
// the distribution of outcomes a strategy's edge could plausibly produce,
// beyond the single realized path the backtest happened to walk.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config types.MonteCarloConfig
	rng    *rand.Rand
}

func NewMonteCarloSimulator(logger *zap.Logger, config types.MonteCarloConfig) *MonteCarloSimulator {
	return &MonteCarloSimulator{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run shuffles trades' per-trade percentage returns config.Iterations
// times (bootstrap sampling without replacement within each path) and
// reports the resulting return/drawdown distribution plus the fraction of
// paths that breached the ruin threshold.
func (mc *MonteCarloSimulator) Run(trades []types.ClosedTrade) *types.MonteCarloResult {
	if len(trades) == 0 {
		return &types.MonteCarloResult{Iterations: 0}
	}

	returns := make([]float64, len(trades))
	for i, trade := range trades {
		ret, _ := trade.PnLPercent.Mul(decimal.NewFromInt(100)).Float64()
		returns[i] = ret
	}

	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}

	simulatedReturns := make([]float64, iterations)
	maxDrawdowns := make([]float64, iterations)
	ruinCount := 0

	for i := 0; i < iterations; i++ {
		shuffled := mc.shuffleReturns(returns)
		totalReturn, maxDD, isRuin := mc.simulatePath(shuffled)

		simulatedReturns[i] = totalReturn
		maxDrawdowns[i] = maxDD
		if isRuin {
			ruinCount++
		}
	}

	sort.Float64s(simulatedReturns)
	sort.Float64s(maxDrawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    decimal.NewFromFloat(mc.percentile(simulatedReturns, 50)),
		P5Return:        decimal.NewFromFloat(mc.percentile(simulatedReturns, 5)),
		P95Return:       decimal.NewFromFloat(mc.percentile(simulatedReturns, 95)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruinCount) / float64(iterations)),
		MaxDrawdownP95:  decimal.NewFromFloat(mc.percentile(maxDrawdowns, 95)),
	}

	result.Distribution = make([]decimal.Decimal, len(simulatedReturns))
	for i, r := range simulatedReturns {
		result.Distribution[i] = decimal.NewFromFloat(r)
	}

	if mc.logger != nil {
		mc.logger.Info("monte carlo simulation complete",
			zap.Int("iterations", iterations),
			zap.String("medianReturn", result.MedianReturn.String()),
			zap.String("p5Return", result.P5Return.String()),
			zap.String("p95Return", result.P95Return.String()),
			zap.String("probabilityRuin", result.ProbabilityRuin.String()),
		)
	}

	return result
}

func (mc *MonteCarloSimulator) shuffleReturns(returns []float64) []float64 {
	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)
	mc.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// simulatePath walks one shuffled return sequence starting from unit
// equity, returning the path's total return, max drawdown, and whether it
// breached the 50%-loss ruin threshold along the way.
func (mc *MonteCarloSimulator) simulatePath(returns []float64) (totalReturn float64, maxDrawdown float64, isRuin bool) {
	const ruinThreshold = 0.5

	equity := 1.0
	peak := equity
	maxDD := 0.0

	for _, ret := range returns {
		equity += ret / 100

		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		if equity <= ruinThreshold {
			return equity - 1.0, maxDD, true
		}
	}

	return equity - 1.0, maxDD, false
}

func (mc *MonteCarloSimulator) percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// BootstrapConfidenceInterval resamples trades with replacement to
// estimate a confidence interval for an arbitrary metric function, e.g.
// profit factor or win rate, independent of the return-path simulation
// Run performs.
func (mc *MonteCarloSimulator) BootstrapConfidenceInterval(
	metric func([]types.ClosedTrade) float64,
	trades []types.ClosedTrade,
	confidence float64,
) (lower, upper float64) {
	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}

	bootstrapValues := make([]float64, iterations)
	n := len(trades)

	for i := 0; i < iterations; i++ {
		sample := make([]types.ClosedTrade, n)
		for j := 0; j < n; j++ {
			sample[j] = trades[mc.rng.Intn(n)]
		}
		bootstrapValues[i] = metric(sample)
	}

	sort.Float64s(bootstrapValues)

	alpha := 1 - confidence
	lowerIdx := int(alpha / 2 * float64(iterations))
	upperIdx := int((1 - alpha/2) * float64(iterations))

	return bootstrapValues[lowerIdx], bootstrapValues[upperIdx]
}
