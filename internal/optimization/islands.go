package optimization

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-quant/strategy-forge/internal/discovery"
	"github.com/atlas-quant/strategy-forge/internal/metrics"
	"github.com/atlas-quant/strategy-forge/internal/workers"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// DefaultDiscoveryConfig mirrors the single-population genetic algorithm's
// defaults, spread across a small ring of islands so a default run still
// completes quickly on a single machine.
func DefaultDiscoveryConfig() types.DiscoveryConfig {
	return types.DiscoveryConfig{
		IslandCount:         4,
		PopulationPerIsland: 25,
		Generations:         50,
		EliteCount:          2,
		TournamentSize:      3,
		CrossoverRate:       0.7,
		MutationRate:        0.1,
		MutationSigmaFrac:   0.1,
		MigrationInterval:   5,
		MigrationCount:      2,
		StagnationLimit:     10,
		FreshBloodFrac:      0.1,
		StructuralCrossover: false,
		Seed:                1,
	}
}

// IslandGA runs an island-model genetic algorithm over StrategyCandidates:
// each island independently builds, evaluates, and evolves a population of
// GeneticIndividuals, with individuals crossing islands only at periodic
// ring migration events. Grounded on Optimizer.geneticAlgorithm's
// elitism/tournament-selection/crossover/mutation shape, extended with
// multiple islands, structural diversity preservation, duplicate
// detection, fresh-blood injection, and stagnation restart.
type IslandGA struct {
	logger *zap.Logger
	config types.DiscoveryConfig

	builder *discovery.CandidateBuilder
	runner  *discovery.EvaluationRunner
	rng     *rand.Rand

	indicators   []discovery.AvailableIndicator
	stopHandlers []discovery.AvailableStopHandler
	higherTFs    []types.Timeframe
	baseTF       types.Timeframe

	batch *workers.BatchProcessor // optional; nil means evaluate sequentially
	pool  *workers.Pool          // kept alongside batch so Run can export its stats
}

// WithPool parallelizes per-generation population evaluation across an
// already-started worker pool, batchSize individuals at a time. Backtests
// are CPU-bound and independent across individuals, so this is the same
// shape BatchProcessor.ProcessBatch was built for.
func (g *IslandGA) WithPool(pool *workers.Pool, batchSize int) *IslandGA {
	g.batch = workers.NewBatchProcessor(pool, batchSize)
	g.pool = pool
	return g
}

// NewIslandGA wires a candidate builder and evaluation runner into an
// island-model driver. indicators/stopHandlers/higherTFs/baseTF describe
// the universe the candidate builder draws structural elements from.
func NewIslandGA(
	logger *zap.Logger,
	config types.DiscoveryConfig,
	builderConfig discovery.Config,
	runner *discovery.EvaluationRunner,
	indicators []discovery.AvailableIndicator,
	stopHandlers []discovery.AvailableStopHandler,
	higherTFs []types.Timeframe,
	baseTF types.Timeframe,
) *IslandGA {
	return &IslandGA{
		logger:       logger,
		config:       config,
		builder:      discovery.NewCandidateBuilder(builderConfig, config.Seed),
		runner:       runner,
		rng:          rand.New(rand.NewSource(config.Seed)),
		indicators:   indicators,
		stopHandlers: stopHandlers,
		higherTFs:    higherTFs,
		baseTF:       baseTF,
	}
}

// Run evolves every island for config.Generations generations (or until ctx
// is cancelled) and returns the final populations, each sorted best-first.
func (g *IslandGA) Run(ctx context.Context) ([]*types.Population, error) {
	islands := make([]*types.Population, g.config.IslandCount)
	for i := range islands {
		islands[i] = g.seedPopulation(i)
		if err := g.evaluatePopulation(ctx, islands[i]); err != nil {
			return islands, err
		}
	}

	for gen := 1; gen <= g.config.Generations; gen++ {
		select {
		case <-ctx.Done():
			return islands, ctx.Err()
		default:
		}

		if g.config.MigrationInterval > 0 && gen%g.config.MigrationInterval == 0 {
			g.migrate(islands)
		}

		for _, pop := range islands {
			if g.config.StagnationLimit > 0 && pop.StagnantGenerations >= g.config.StagnationLimit {
				g.restart(pop)
				g.logger.Info("island restarted after stagnation",
					zap.Int("island", pop.IslandID), zap.Int("generation", gen))
			} else {
				g.evolve(pop)
			}
			pop.Generation = gen

			if err := g.evaluatePopulation(ctx, pop); err != nil {
				return islands, err
			}
			g.trackStagnation(pop)
		}

		if g.pool != nil {
			metrics.RecordPoolStats(g.pool.Name(), g.pool.Stats())
		}
	}

	for _, pop := range islands {
		sortByFitnessDesc(pop.Individuals)
	}
	return islands, nil
}

// seedPopulation builds a fresh island of random structural candidates,
// each with a randomly initialized parameter genome.
func (g *IslandGA) seedPopulation(islandID int) *types.Population {
	pop := &types.Population{IslandID: islandID}
	for i := 0; i < g.config.PopulationPerIsland; i++ {
		pop.Individuals = append(pop.Individuals, g.freshIndividual(islandID, 0, i))
	}
	return pop
}

func (g *IslandGA) freshIndividual(islandID, generation, index int) *types.GeneticIndividual {
	candidate := g.builder.Build(g.indicators, g.stopHandlers, g.higherTFs, g.baseTF)
	return &types.GeneticIndividual{
		ID:         fmt.Sprintf("isl%d-g%d-%d", islandID, generation, index),
		IslandID:   islandID,
		Generation: generation,
		Candidate:  candidate,
		Genome:     g.randomGenome(candidate),
	}
}

func (g *IslandGA) randomGenome(candidate *types.StrategyCandidate) map[string]float64 {
	genome := make(map[string]float64, len(candidate.Parameters))
	for _, p := range candidate.Parameters {
		if !p.Mutable {
			genome[p.Name] = p.Default
			continue
		}
		genome[p.Name] = randomInRange(g.rng, p.Min, p.Max, p.IsInteger)
	}
	return genome
}

func randomInRange(rng *rand.Rand, min, max float64, isInteger bool) float64 {
	if max <= min {
		return min
	}
	v := min + rng.Float64()*(max-min)
	if isInteger {
		v = math.Round(v)
	}
	return v
}

// evaluatePopulation scores every individual that doesn't already carry a
// fitness result (a fresh individual, or one mutated/crossed this
// generation), via the shared evaluation cache. When a worker pool has
// been attached with WithPool, evaluation fans out across it; otherwise
// it runs sequentially.
func (g *IslandGA) evaluatePopulation(ctx context.Context, pop *types.Population) error {
	pending := make([]interface{}, 0, len(pop.Individuals))
	for _, ind := range pop.Individuals {
		if ind.Fitness == nil {
			pending = append(pending, ind)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if g.batch == nil {
		for _, item := range pending {
			if err := g.evaluateOne(ctx, pop.IslandID, item.(*types.GeneticIndividual)); err != nil {
				return err
			}
		}
		return nil
	}

	return g.batch.ProcessBatch(pending, func(item interface{}) error {
		return g.evaluateOne(ctx, pop.IslandID, item.(*types.GeneticIndividual))
	})
}

func (g *IslandGA) evaluateOne(ctx context.Context, islandID int, ind *types.GeneticIndividual) error {
	_, result, err := g.runner.Evaluate(ctx, ind.Candidate, ind.Genome)
	if err != nil {
		return fmt.Errorf("island %d individual %s: %w", islandID, ind.ID, err)
	}
	ind.Fitness = &result
	metrics.RecordEvaluations(islandID, 1)
	metrics.SetCacheSize(g.runner.CacheSize())
	return nil
}

// trackStagnation maintains a sliding window of the last 10 best-fitness
// values per island; if the relative improvement over the window stays
// below 1%, the stagnation counter advances, otherwise it resets.
func (g *IslandGA) trackStagnation(pop *types.Population) {
	best := bestScore(pop.Individuals)
	pop.BestFitnessHistory = append(pop.BestFitnessHistory, best)
	const window = 10
	if len(pop.BestFitnessHistory) > window {
		pop.BestFitnessHistory = pop.BestFitnessHistory[len(pop.BestFitnessHistory)-window:]
	}

	if len(pop.BestFitnessHistory) < window {
		pop.StagnantGenerations = 0
		return
	}

	oldest := pop.BestFitnessHistory[0]
	improvement := best - oldest
	relative := 0.0
	if oldest != 0 {
		relative = improvement / math.Abs(oldest)
	} else if best != 0 {
		relative = 1.0
	}

	if relative < 0.01 {
		pop.StagnantGenerations++
	} else {
		pop.StagnantGenerations = 0
	}

	metrics.RecordGeneration(pop.IslandID, pop.Generation, best, pop.StagnantGenerations)
}

func bestScore(individuals []*types.GeneticIndividual) float64 {
	best := math.Inf(-1)
	for _, ind := range individuals {
		if ind.Fitness != nil && ind.Fitness.Score > best {
			best = ind.Fitness.Score
		}
	}
	if math.IsInf(best, -1) {
		return 0
	}
	return best
}

// migrate moves each island's top MigrationCount individuals into the next
// island in ring order, replacing that island's weakest individuals.
// Migrants keep their origin IslandID so diversity bookkeeping downstream
// can still tell which island produced which structure.
func (g *IslandGA) migrate(islands []*types.Population) {
	n := len(islands)
	if n < 2 || g.config.MigrationCount <= 0 {
		return
	}
	metrics.RecordMigration()

	outgoing := make([][]*types.GeneticIndividual, n)
	for i, pop := range islands {
		sortByFitnessDesc(pop.Individuals)
		k := g.config.MigrationCount
		if k > len(pop.Individuals) {
			k = len(pop.Individuals)
		}
		migrants := make([]*types.GeneticIndividual, k)
		copy(migrants, pop.Individuals[:k])
		outgoing[i] = migrants
	}

	for i, pop := range islands {
		from := (i - 1 + n) % n
		migrants := outgoing[from]
		sortByFitnessDesc(pop.Individuals)
		replaceWeakest(pop, migrants)
	}
}

func replaceWeakest(pop *types.Population, incoming []*types.GeneticIndividual) {
	sortByFitnessDesc(pop.Individuals)
	for i, migrant := range incoming {
		pos := len(pop.Individuals) - 1 - i
		if pos < 0 {
			break
		}
		pop.Individuals[pos] = migrant
	}
}

// evolve produces the next generation for one island: elitism keeps the
// top performers unchanged, fresh blood replaces the weakest fraction with
// brand-new random candidates, and the remainder is filled by
// diversity-preserving selection, crossover, and mutation, rejecting exact
// structural+parameter duplicates.
func (g *IslandGA) evolve(pop *types.Population) {
	sortByFitnessDesc(pop.Individuals)
	n := len(pop.Individuals)
	next := make([]*types.GeneticIndividual, 0, n)
	seen := map[string]bool{}

	markSeen := func(ind *types.GeneticIndividual) {
		seen[dedupeKey(ind)] = true
	}

	elite := g.config.EliteCount
	if elite > n {
		elite = n
	}
	for i := 0; i < elite; i++ {
		next = append(next, pop.Individuals[i])
		markSeen(pop.Individuals[i])
	}

	freshCount := int(float64(n) * g.config.FreshBloodFrac)
	for i := 0; i < freshCount && len(next) < n; i++ {
		ind := g.freshIndividual(pop.IslandID, pop.Generation+1, len(next))
		if seen[dedupeKey(ind)] {
			continue
		}
		next = append(next, ind)
		markSeen(ind)
	}

	groups := groupByStructure(pop.Individuals)
	groupCursor := 0

	for len(next) < n {
		parent1 := g.selectParent(groups, &groupCursor)
		parent2 := g.selectParent(groups, &groupCursor)

		var childCandidate *types.StrategyCandidate
		var childGenome map[string]float64

		if g.config.StructuralCrossover && g.rng.Float64() < 0.5 && parent1.Candidate.Signature != parent2.Candidate.Signature {
			source := parent2
			if g.rng.Float64() < 0.5 {
				source = parent1
			}
			childCandidate = source.Candidate
			childGenome = g.randomGenome(childCandidate)
		} else {
			childCandidate = parent1.Candidate
			if g.rng.Float64() < g.config.CrossoverRate {
				childGenome = g.crossoverGenome(parent1, parent2)
			} else {
				childGenome = copyGenome(parent1.Genome)
			}
		}

		childGenome = g.mutateGenome(childCandidate, childGenome)

		child := &types.GeneticIndividual{
			ID:         fmt.Sprintf("isl%d-g%d-%d", pop.IslandID, pop.Generation+1, len(next)),
			IslandID:   pop.IslandID,
			Generation: pop.Generation + 1,
			Candidate:  childCandidate,
			Genome:     childGenome,
		}

		key := dedupeKey(child)
		if seen[key] {
			continue // duplicate of something already selected this generation; resample
		}
		seen[key] = true
		next = append(next, child)
	}

	pop.Individuals = next
}

func dedupeKey(ind *types.GeneticIndividual) string {
	return ind.Candidate.Signature + "::" + discovery.GenomeSignature(ind.Genome)
}

// groupByStructure partitions individuals by structural signature so
// selectParent can round-robin across distinct structures rather than
// always drawing from whichever structure happens to dominate the
// population's best-fitness ranking.
func groupByStructure(individuals []*types.GeneticIndividual) [][]*types.GeneticIndividual {
	order := []string{}
	byKey := map[string][]*types.GeneticIndividual{}
	for _, ind := range individuals {
		key := ind.Candidate.Signature
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], ind)
	}
	groups := make([][]*types.GeneticIndividual, len(order))
	for i, key := range order {
		groups[i] = byKey[key]
	}
	return groups
}

func (g *IslandGA) selectParent(groups [][]*types.GeneticIndividual, cursor *int) *types.GeneticIndividual {
	if len(groups) == 0 {
		return nil
	}
	group := groups[*cursor%len(groups)]
	*cursor++
	return g.tournamentSelect(group)
}

func (g *IslandGA) tournamentSelect(pool []*types.GeneticIndividual) *types.GeneticIndividual {
	size := g.config.TournamentSize
	if size < 1 {
		size = 1
	}
	best := pool[g.rng.Intn(len(pool))]
	for i := 1; i < size; i++ {
		candidate := pool[g.rng.Intn(len(pool))]
		if fitnessScore(candidate) > fitnessScore(best) {
			best = candidate
		}
	}
	return best
}

func fitnessScore(ind *types.GeneticIndividual) float64 {
	if ind == nil || ind.Fitness == nil {
		return 0
	}
	return ind.Fitness.Score
}

// crossoverGenome performs uniform per-key crossover: a shared key is
// inherited from either parent with equal probability; a key only parent1
// carries (parent2 has a different structure) is kept from parent1.
func (g *IslandGA) crossoverGenome(parent1, parent2 *types.GeneticIndividual) map[string]float64 {
	child := make(map[string]float64, len(parent1.Genome))
	for key, v1 := range parent1.Genome {
		if v2, ok := parent2.Genome[key]; ok && g.rng.Float64() < 0.5 {
			child[key] = v2
		} else {
			child[key] = v1
		}
	}
	return child
}

// mutateGenome applies Gaussian mutation to each mutable parameter with
// probability MutationRate, scaled to MutationSigmaFrac of that
// parameter's configured range and clamped back into bounds.
func (g *IslandGA) mutateGenome(candidate *types.StrategyCandidate, genome map[string]float64) map[string]float64 {
	bounds := map[string]types.ParameterDescriptor{}
	for _, p := range candidate.Parameters {
		bounds[p.Name] = p
	}

	mutated := copyGenome(genome)
	for key, desc := range bounds {
		if !desc.Mutable {
			continue
		}
		if g.rng.Float64() >= g.config.MutationRate {
			continue
		}
		current, ok := mutated[key]
		if !ok {
			current = desc.Default
		}
		span := desc.Max - desc.Min
		delta := g.rng.NormFloat64() * span * g.config.MutationSigmaFrac
		next := current + delta
		if next < desc.Min {
			next = desc.Min
		}
		if next > desc.Max {
			next = desc.Max
		}
		if desc.IsInteger {
			next = math.Round(next)
		}
		mutated[key] = next
	}
	return mutated
}

func copyGenome(genome map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(genome))
	for k, v := range genome {
		out[k] = v
	}
	return out
}

// restart reseeds an island from scratch after sustained stagnation,
// keeping only its single best individual so a promising structure is not
// lost entirely.
func (g *IslandGA) restart(pop *types.Population) {
	metrics.RecordRestart(pop.IslandID)
	sortByFitnessDesc(pop.Individuals)
	var survivor *types.GeneticIndividual
	if len(pop.Individuals) > 0 {
		survivor = pop.Individuals[0]
	}

	fresh := make([]*types.GeneticIndividual, 0, g.config.PopulationPerIsland)
	if survivor != nil {
		fresh = append(fresh, survivor)
	}
	for len(fresh) < g.config.PopulationPerIsland {
		fresh = append(fresh, g.freshIndividual(pop.IslandID, pop.Generation+1, len(fresh)))
	}

	pop.Individuals = fresh
	pop.BestFitnessHistory = nil
	pop.StagnantGenerations = 0
}

func sortByFitnessDesc(individuals []*types.GeneticIndividual) {
	sort.SliceStable(individuals, func(i, j int) bool {
		return fitnessScore(individuals[i]) > fitnessScore(individuals[j])
	})
}
