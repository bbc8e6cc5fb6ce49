package types

// StrategyCandidate is a structural genome: the candidate builder's output
// before any parameter values have been chosen. It names which indicators,
// conditions, rules, and stop handlers compose a strategy, but the
// ParameterDescriptor defaults carry unresolved values until a
// GeneticIndividual binds concrete numbers to them.
type StrategyCandidate struct {
	Signature string // structural signature: stable hash of shape, independent of parameter values

	Indicators   []IndicatorInfo
	Conditions   []ConditionInfo
	EntryRules   []StrategyRule
	ExitRules    []StrategyRule
	StopHandlers []StopHandlerInfo
	TakeHandlers []TakeHandlerInfo

	Parameters []ParameterDescriptor
}

// IndicatorInfo describes one indicator chosen by the candidate builder,
// optionally nested (an indicator computed over another indicator's
// output rather than raw price).
type IndicatorInfo struct {
	Alias     string
	Source    string
	Timeframe Timeframe
	Params    map[string]any
	Nested    *NestedIndicator
}

// NestedIndicator describes the inner indicator an outer IndicatorInfo is
// computed over, e.g. an SMA of an RSI.
type NestedIndicator struct {
	Source string
	Params map[string]any
}

// ConditionInfo mirrors ConditionBinding but as a builder-stage record
// before weight/tags have been finalized by the genetic layer.
type ConditionInfo struct {
	ID        string
	Timeframe Timeframe
	Operator  ConditionOperator
	Input     ConditionInput
}

// StopHandlerInfo is a candidate-stage stop handler choice, prior to
// parameter binding.
type StopHandlerInfo struct {
	ID             string
	Handler        string
	Timeframe      Timeframe
	Direction      Direction
	Priority       int
	TargetEntryIDs []string
}

// TakeHandlerInfo is the take-profit counterpart of StopHandlerInfo. The
// trailing registry handlers (ATRTrail, PercentTrail, HILOTrail) move only
// the stop level; the builder keeps these lists separate so
// a candidate can carry a take handler independent of any stop handler.
type TakeHandlerInfo struct {
	ID             string
	Handler        string
	Timeframe      Timeframe
	Direction      Direction
	TargetEntryIDs []string
}

// GeneticIndividual is one member of a GA population: a structural
// candidate plus a bound parameter genome and the fitness it last scored.
type GeneticIndividual struct {
	ID         string
	IslandID   int
	Generation int

	Candidate  *StrategyCandidate
	Genome     map[string]float64 // parameter name -> bound value

	Fitness    *FitnessResult
	Viability  *ViabilityReport
}

// ParameterSignature returns a stable, order-independent string key for
// this individual's genome values, used together with Candidate.Signature
// as the evaluation cache key.
func (g *GeneticIndividual) ParameterSignature() string {
	return genomeSignature(g.Genome)
}

// Population is one island's set of individuals plus the bookkeeping the
// genetic algorithm needs to detect stagnation.
type Population struct {
	IslandID           int
	Generation         int
	Individuals        []*GeneticIndividual
	BestFitnessHistory []float64
	StagnantGenerations int
}

// DiscoveryConfig parameterizes one genetic-algorithm run end to end:
// island topology, selection/variation rates, and termination criteria.
type DiscoveryConfig struct {
	IslandCount        int
	PopulationPerIsland int
	Generations        int

	EliteCount        int
	TournamentSize    int
	CrossoverRate     float64
	MutationRate      float64
	MutationSigmaFrac float64 // mutation step as a fraction of [min,max] range

	MigrationInterval int // generations between ring migrations
	MigrationCount    int // individuals migrated per island per event

	StagnationLimit   int // generations with no fitness improvement before restart
	FreshBloodFrac    float64

	StructuralCrossover bool // swap whole structural blocks between parents; off by default

	Seed int64
}
