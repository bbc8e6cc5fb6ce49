package optimization

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atlas-quant/strategy-forge/internal/discovery"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// PerStructureOptimizer fixes a single StrategyCandidate's structural genes
// and evolves only its numeric parameter genome, via the existing
// single-population genetic algorithm: Parameter bounds come straight from
// the candidate's ParameterDescriptors, and the ObjectiveFunc closes over
// the candidate and an EvaluationRunner so every generation's ParamSet
// becomes a genome passed straight back into the shared evaluation cache.
type PerStructureOptimizer struct {
	logger *zap.Logger
	runner *discovery.EvaluationRunner
}

// NewPerStructureOptimizer wires an evaluation runner into a per-structure
// parameter search.
func NewPerStructureOptimizer(logger *zap.Logger, runner *discovery.EvaluationRunner) *PerStructureOptimizer {
	return &PerStructureOptimizer{logger: logger, runner: runner}
}

// PerStructureResult names the best genome found for one fixed structural
// candidate, plus the fitness it scored and the underlying GA result.
type PerStructureResult struct {
	Candidate *types.StrategyCandidate
	Genome    map[string]float64
	Fitness   types.FitnessResult
	GA        *OptimizationResult
}

// Optimize evolves candidate's parameter genome for config.Generations
// generations over the candidate's own ParameterDescriptor bounds; the
// initial population is drawn at random within those bounds, not from the
// defaults. Non-mutable parameters are held fixed at their default
// and excluded from the search space entirely.
func (p *PerStructureOptimizer) Optimize(ctx context.Context, candidate *types.StrategyCandidate, config *OptimizerConfig) (*PerStructureResult, error) {
	if config == nil {
		config = DefaultOptimizerConfig()
	}
	config.Method = MethodGeneticAlgo

	params := make([]Parameter, 0, len(candidate.Parameters))
	fixed := map[string]float64{}
	for _, desc := range candidate.Parameters {
		if !desc.Mutable {
			fixed[desc.Name] = desc.Default
			continue
		}
		paramType := ParamTypeContinuous
		if desc.IsInteger {
			paramType = ParamTypeInteger
		}
		params = append(params, Parameter{
			Name: desc.Name, Type: paramType, Min: desc.Min, Max: desc.Max, Default: desc.Default,
		})
	}

	objective := func(paramSet ParamSet) (float64, error) {
		genome := make(map[string]float64, len(paramSet)+len(fixed))
		for k, v := range fixed {
			genome[k] = v
		}
		for k, v := range paramSet {
			genome[k] = v
		}

		_, result, err := p.runner.Evaluate(ctx, candidate, genome)
		if err != nil {
			return 0, err
		}
		return result.Score, nil
	}

	optimizer := NewOptimizer(p.logger, config)
	gaResult, err := optimizer.Optimize(ctx, params, objective)
	if err != nil {
		return nil, fmt.Errorf("per-structure optimize %s: %w", candidate.Signature, err)
	}

	finalGenome := make(map[string]float64, len(gaResult.BestParams)+len(fixed))
	for k, v := range fixed {
		finalGenome[k] = v
	}
	for k, v := range gaResult.BestParams {
		finalGenome[k] = v
	}

	// Re-evaluate the winning genome to recover its exact FitnessResult;
	// this is a cache hit against the evaluation runner, not a re-run of
	// the backtest, since the GA already scored this exact genome.
	_, finalFitness, err := p.runner.Evaluate(ctx, candidate, finalGenome)
	if err != nil {
		return nil, fmt.Errorf("per-structure optimize %s: %w", candidate.Signature, err)
	}

	return &PerStructureResult{
		Candidate: candidate,
		Genome:    finalGenome,
		Fitness:   finalFitness,
		GA:        gaResult,
	}, nil
}
