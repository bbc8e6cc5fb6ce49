package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atlas-quant/strategy-forge/internal/backtester"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// EvaluationRunner is the single point through which the genetic
// algorithm turns a candidate + genome into a scored BacktestReport. It
// caches results keyed by the candidate's structural signature and the
// genome's parameter signature, so re-evaluating an individual the GA has
// already seen (a common occurrence after elitism or duplicate children)
// is a cache hit rather than a re-run of the whole backtest.
//
// The cache is one map per EvaluationRunner, guarded by a reader-writer
// lock: reads are hot (most evaluations are repeats across generations),
// writes are rare (one per distinct candidate+genome pair the runner has
// seen). Runners do not share a cache; the HTTP discovery handler builds a
// new runner for each request.
type EvaluationRunner struct {
	engine   *backtester.Engine
	fitness  *backtester.FitnessEvaluator
	baseline *types.BacktestConfig // template cloned per evaluation; Strategy/Genome are overwritten

	mu    sync.RWMutex
	cache map[types.CacheKey]*cachedResult
}

type cachedResult struct {
	report  *types.BacktestReport
	fitness types.FitnessResult
}

func NewEvaluationRunner(engine *backtester.Engine, fitness *backtester.FitnessEvaluator, baseline *types.BacktestConfig) *EvaluationRunner {
	return &EvaluationRunner{
		engine:   engine,
		fitness:  fitness,
		baseline: baseline,
		cache:    make(map[types.CacheKey]*cachedResult),
	}
}

// Evaluate converts candidate+genome into a runnable StrategyDefinition,
// runs it through the backtest engine (or returns a cached result for an
// identical structural+parameter pair), and scores it.
func (r *EvaluationRunner) Evaluate(ctx context.Context, candidate *types.StrategyCandidate, genome map[string]float64) (*types.BacktestReport, types.FitnessResult, error) {
	key := types.CacheKey{StructuralSignature: candidate.Signature, ParameterSignature: GenomeSignature(genome)}

	r.mu.RLock()
	if cached, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return cached.report, cached.fitness, nil
	}
	r.mu.RUnlock()

	def := CandidateToDefinition(candidate, genome)

	config := *r.baseline
	config.Strategy = def
	config.Genome = genome

	report, err := r.engine.Run(ctx, &config)
	if err != nil {
		return nil, types.FitnessResult{}, fmt.Errorf("evaluate candidate %s: %w", candidate.Signature, err)
	}

	result := r.fitness.Evaluate(report)

	r.mu.Lock()
	r.cache[key] = &cachedResult{report: report, fitness: result}
	r.mu.Unlock()

	return report, result, nil
}

// CacheSize reports how many distinct structural+parameter pairs have
// been evaluated so far, useful for progress logging in the GA driver.
func (r *EvaluationRunner) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// GenomeSignature builds a stable, order-independent string from a
// parameter genome, mirroring GeneticIndividual.ParameterSignature's
// algorithm (sorted key=value pairs) so the evaluation cache and the GA's
// own duplicate detection agree on what "the same genome" means.
func GenomeSignature(genome map[string]float64) string {
	if len(genome) == 0 {
		return ""
	}
	keys := make([]string, 0, len(genome))
	for k := range genome {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%s=%.6f", k, genome[k])
	}
	return b.String()
}

// CandidateToDefinition binds a genome's parameter values onto a
// candidate's structural elements, producing the StrategyDefinition the
// backtest engine actually runs. Genome keys are scoped "<elementID>.<key>"
// (see parameterDescriptorsFor), so binding is a matter of looking up each
// element's own keys and falling back to its builder-time default when the
// genome omits one (e.g. a freshly mutated individual that only touched a
// subset of parameters).
func CandidateToDefinition(c *types.StrategyCandidate, genome map[string]float64) *types.StrategyDefinition {
	def := &types.StrategyDefinition{
		Metadata:   types.StrategyMetadata{ID: c.Signature, Name: "discovered-" + c.Signature[:minInt(12, len(c.Signature))]},
		Parameters: c.Parameters,
		Conditions: conditionBindings(c.Conditions),
		EntryRules: c.EntryRules,
		ExitRules:  c.ExitRules,
	}

	timeframeSet := map[string]types.Timeframe{}

	for _, ind := range c.Indicators {
		params := cloneParams(ind.Params)
		applyGenome(params, ind.Alias, genome)
		def.Indicators = append(def.Indicators, types.IndicatorBinding{
			Alias: ind.Alias, Timeframe: ind.Timeframe, Source: ind.Source, Params: params,
		})
		timeframeSet[ind.Timeframe.String()] = ind.Timeframe
	}

	for i, h := range c.StopHandlers {
		params := cloneParams(stopHandlerDefaultParams(h.Handler))
		applyGenome(params, h.ID, genome)
		def.StopHandlers = append(def.StopHandlers, types.StopHandlerBinding{
			ID: h.ID, Handler: h.Handler, Timeframe: h.Timeframe, Parameters: params,
			Direction: h.Direction, Priority: i,
		})
	}

	for _, cond := range def.Conditions {
		timeframeSet[cond.Timeframe.String()] = cond.Timeframe
	}
	for _, tf := range timeframeSet {
		def.RequiredTimeframes = append(def.RequiredTimeframes, tf)
	}

	return def
}

func applyGenome(params map[string]any, scope string, genome map[string]float64) {
	prefix := scope + "."
	for key, value := range genome {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		params[strings.TrimPrefix(key, prefix)] = value
	}
}

func stopHandlerDefaultParams(name string) map[string]any {
	switch strings.ToLower(name) {
	case "stoplosspct":
		return map[string]any{"percent": 0.2}
	case "takeprofitpct":
		return map[string]any{"percent": 0.4}
	case "atrtrail":
		return map[string]any{"period": 14.0, "coeff_atr": 2.0}
	case "percenttrail":
		return map[string]any{"percent": 2.0}
	default:
		return map[string]any{}
	}
}

// conditionBindings promotes the candidate-stage ConditionInfo records
// into wire-format ConditionBindings; Weight/Tags are left at their zero
// value since the builder does not assign them.
func conditionBindings(conditions []types.ConditionInfo) []types.ConditionBinding {
	out := make([]types.ConditionBinding, len(conditions))
	for i, cond := range conditions {
		out[i] = types.ConditionBinding{
			ID: cond.ID, Timeframe: cond.Timeframe, Operator: cond.Operator, Input: cond.Input,
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
