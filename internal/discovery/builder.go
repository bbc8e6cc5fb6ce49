package discovery

import (
	"fmt"
	"math/rand"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// CandidateBuilder produces structurally valid StrategyCandidates by
// stochastic phased construction: phase 1 seeds a minimal candidate, rule
// application enforces handler/indicator dependencies, additional phases
// add elements while a continuation coin keeps coming up heads, and two
// cleanup passes guarantee every indicator is actually referenced and
// every configured minimum is met. Determinism is not a goal — two calls
// with the same inputs may return different candidates.
type CandidateBuilder struct {
	config Config
	rng    *rand.Rand
}

func NewCandidateBuilder(config Config, seed int64) *CandidateBuilder {
	return &CandidateBuilder{config: config, rng: rand.New(rand.NewSource(seed))}
}

// Build runs the full phased construction against the supplied indicator/
// stop-handler/timeframe universes and the strategy's base timeframe.
func (b *CandidateBuilder) Build(indicators []AvailableIndicator, stopHandlers []AvailableStopHandler, higherTimeframes []types.Timeframe, base types.Timeframe) *types.StrategyCandidate {
	c := &types.StrategyCandidate{}
	usedTimeframes := map[string]bool{base.String(): true}

	b.buildPhase1(c, indicators, stopHandlers, base)
	b.applyRules(c, stopHandlers, indicators, base)

	phase := 2
	for b.coin(b.config.Probabilities.ContinueBuilding) {
		allLimitsReached := b.buildAdditionalPhase(c, indicators, stopHandlers, higherTimeframes, base, usedTimeframes)
		if allLimitsReached {
			break
		}
		phase++
	}

	b.ensureAllIndicatorsUsed(c, base)
	b.ensureTimeframeCoverage(c, usedTimeframes)
	b.ensureMinimums(c, stopHandlers, indicators, base)

	c.Signature = StructuralSignature(c)
	return c
}

func (b *CandidateBuilder) buildPhase1(c *types.StrategyCandidate, indicators []AvailableIndicator, stopHandlers []AvailableStopHandler, base types.Timeframe) {
	eligible := filterIndicators(indicators, b.config.Probabilities.VolatilityInPhase1 > 0)

	count := b.config.Constraints.MinIndicators
	if count < 1 {
		count = 1
	}
	for i := 0; i < count && len(eligible) > 0; i++ {
		ind := eligible[b.rng.Intn(len(eligible))]
		b.addIndicator(c, ind, base)
	}

	for len(c.Indicators) > 0 && len(c.Conditions) == 0 {
		b.addConditionFor(c, c.Indicators[len(c.Indicators)-1], base)
	}

	if len(stopHandlers) > 0 {
		b.addStopHandler(c, stopHandlers[b.rng.Intn(len(stopHandlers))], base)
	}
}

func (b *CandidateBuilder) buildAdditionalPhase(c *types.StrategyCandidate, indicators []AvailableIndicator, stopHandlers []AvailableStopHandler, higherTimeframes []types.Timeframe, base types.Timeframe, usedTimeframes map[string]bool) bool {
	limits := b.config.Constraints
	allReached := true

	if len(c.Indicators) < limits.MaxIndicators && b.coin(b.config.Probabilities.AddIndicator) {
		eligible := filterIndicators(indicators, true)
		if len(eligible) > 0 {
			ind := eligible[b.rng.Intn(len(eligible))]
			b.addIndicator(c, ind, base)
			allReached = false
		}
	}
	if len(c.Conditions) < limits.MaxConditions && len(c.Indicators) > 0 && b.coin(b.config.Probabilities.AddCondition) {
		b.addConditionFor(c, c.Indicators[b.rng.Intn(len(c.Indicators))], base)
		allReached = false
	}
	if len(c.TakeHandlers) < limits.MaxTakeHandlers && len(stopHandlers) > 0 && b.coin(b.config.Probabilities.AddTakeHandler) {
		h := stopHandlers[b.rng.Intn(len(stopHandlers))]
		c.TakeHandlers = append(c.TakeHandlers, types.TakeHandlerInfo{
			ID: fmt.Sprintf("take_%d", len(c.TakeHandlers)), Handler: h.Name,
			Timeframe: base, Direction: types.DirectionLong,
		})
		allReached = false
	}
	if len(usedTimeframes) < limits.MaxTimeframes+1 && len(higherTimeframes) > 0 && b.coin(b.config.Probabilities.AddHigherTimeframe) {
		tf := higherTimeframes[b.rng.Intn(len(higherTimeframes))]
		if !usedTimeframes[tf.String()] {
			usedTimeframes[tf.String()] = true
			if len(indicators) > 0 {
				ind := indicators[b.rng.Intn(len(indicators))]
				b.addIndicator(c, ind, tf)
			}
			allReached = false
		}
	}

	return allReached
}

func (b *CandidateBuilder) applyRules(c *types.StrategyCandidate, stopHandlers []AvailableStopHandler, indicators []AvailableIndicator, base types.Timeframe) {
	for _, rule := range b.config.Rules {
		triggered := false
		switch rule.TriggerKind {
		case KindStopHandler:
			for _, h := range c.StopHandlers {
				if h.Handler == rule.Trigger {
					triggered = true
					break
				}
			}
		case KindIndicator:
			for _, ind := range c.Indicators {
				if ind.Source == rule.Trigger {
					triggered = true
					break
				}
			}
		}
		if !triggered {
			continue
		}

		switch rule.Kind {
		case RuleDependency:
			if rule.TargetKind == KindIndicator && !candidateHasIndicatorSource(c, rule.Target) {
				if av, ok := findIndicator(indicators, rule.Target); ok {
					b.addIndicator(c, av, base)
				}
			}
		case RuleExclusion:
			if rule.TargetKind == KindStopHandler {
				c.StopHandlers = removeStopHandler(c.StopHandlers, rule.Target)
			}
		case RuleConditionalAction:
			if rule.Action != nil {
				rule.Action(c)
			}
		}
	}
}

// ensureAllIndicatorsUsed is the coverage pass: every indicator not yet
// referenced by any condition gets a simple price-comparison condition,
// skipping duplicates and operator pairs that would directly contradict
// an existing condition on the same operands.
func (b *CandidateBuilder) ensureAllIndicatorsUsed(c *types.StrategyCandidate, base types.Timeframe) {
	for _, ind := range c.Indicators {
		if conditionReferences(c.Conditions, ind.Alias) {
			continue
		}
		b.addConditionFor(c, ind, ind.Timeframe)
	}
}

// ensureTimeframeCoverage guarantees every present higher timeframe
// appears in at least one condition, adding a trivial one if not.
func (b *CandidateBuilder) ensureTimeframeCoverage(c *types.StrategyCandidate, usedTimeframes map[string]bool) {
	for tfStr := range usedTimeframes {
		covered := false
		for _, cond := range c.Conditions {
			if cond.Timeframe.String() == tfStr {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		for _, ind := range c.Indicators {
			if ind.Timeframe.String() == tfStr {
				b.addConditionFor(c, ind, ind.Timeframe)
				break
			}
		}
	}
}

func (b *CandidateBuilder) ensureMinimums(c *types.StrategyCandidate, stopHandlers []AvailableStopHandler, indicators []AvailableIndicator, base types.Timeframe) {
	limits := b.config.Constraints

	for len(c.StopHandlers) < limits.MinStopHandlers && len(stopHandlers) > 0 {
		b.addStopHandler(c, stopHandlers[b.rng.Intn(len(stopHandlers))], base)
	}
	for len(c.TakeHandlers) < limits.MinTakeHandlers && len(stopHandlers) > 0 {
		h := stopHandlers[b.rng.Intn(len(stopHandlers))]
		c.TakeHandlers = append(c.TakeHandlers, types.TakeHandlerInfo{
			ID: fmt.Sprintf("take_%d", len(c.TakeHandlers)), Handler: h.Name,
			Timeframe: base, Direction: types.DirectionLong,
		})
	}
	for len(c.EntryRules) < limits.MinEntryRules && len(c.Conditions) > 0 {
		cond := c.Conditions[b.rng.Intn(len(c.Conditions))]
		b.addEntryRule(c, cond)
	}
	for len(c.ExitRules) < limits.MinExitRules && len(c.Conditions) > 0 {
		cond := c.Conditions[b.rng.Intn(len(c.Conditions))]
		b.addExitRule(c, cond)
	}
}

func (b *CandidateBuilder) addIndicator(c *types.StrategyCandidate, av AvailableIndicator, tf types.Timeframe) {
	alias := fmt.Sprintf("%s_%d", av.Source, len(c.Indicators))
	params := cloneParams(av.DefaultParams)

	var nested *types.NestedIndicator
	if b.config.Constraints.MaxNestedDepth > 0 && b.coin(b.config.Probabilities.NestIndicator) {
		nested = &types.NestedIndicator{Source: av.Source, Params: cloneParams(av.DefaultParams)}
	}

	info := types.IndicatorInfo{Alias: alias, Source: av.Source, Timeframe: tf, Params: params, Nested: nested}
	c.Indicators = append(c.Indicators, info)

	for _, p := range parameterDescriptorsFor(alias, params) {
		c.Parameters = append(c.Parameters, p)
	}
}

func (b *CandidateBuilder) addConditionFor(c *types.StrategyCandidate, ind types.IndicatorInfo, tf types.Timeframe) {
	id := fmt.Sprintf("cond_%d", len(c.Conditions))
	condition := types.ConditionInfo{
		ID: id, Timeframe: tf, Operator: types.OpCrossesAbove,
		Input: types.ConditionInput{
			Kind:      types.InputDual,
			Primary:   types.DataSeriesSource{Kind: types.SourcePrice, Field: types.FieldClose},
			Secondary: types.DataSeriesSource{Kind: types.SourceIndicator, Alias: ind.Alias},
		},
	}
	c.Conditions = append(c.Conditions, condition)
}

func (b *CandidateBuilder) addStopHandler(c *types.StrategyCandidate, av AvailableStopHandler, tf types.Timeframe) {
	id := fmt.Sprintf("stop_%d", len(c.StopHandlers))
	c.StopHandlers = append(c.StopHandlers, types.StopHandlerInfo{
		ID: id, Handler: av.Name, Timeframe: tf, Direction: types.DirectionLong, Priority: len(c.StopHandlers),
	})
	for _, p := range parameterDescriptorsFor(id, av.DefaultParams) {
		c.Parameters = append(c.Parameters, p)
	}
}

func (b *CandidateBuilder) addEntryRule(c *types.StrategyCandidate, cond types.ConditionInfo) {
	ruleID := fmt.Sprintf("entry_%d", len(c.EntryRules))
	c.EntryRules = append(c.EntryRules, types.StrategyRule{
		ID: ruleID, Logic: types.LogicAll, Conditions: []string{cond.ID},
		Signal: types.SignalEntry, Direction: types.DirectionLong, Timeframe: cond.Timeframe,
	})
}

func (b *CandidateBuilder) addExitRule(c *types.StrategyCandidate, cond types.ConditionInfo) {
	ruleID := fmt.Sprintf("exit_%d", len(c.ExitRules))
	c.ExitRules = append(c.ExitRules, types.StrategyRule{
		ID: ruleID, Logic: types.LogicAll, Conditions: []string{cond.ID},
		Signal: types.SignalExit, Direction: types.DirectionFlat, Timeframe: cond.Timeframe,
	})
}

func (b *CandidateBuilder) coin(p float64) bool {
	return b.rng.Float64() < p
}

func filterIndicators(indicators []AvailableIndicator, allowVolatility bool) []AvailableIndicator {
	out := make([]AvailableIndicator, 0, len(indicators))
	for _, ind := range indicators {
		if !allowVolatility && (ind.IsVolatility || ind.IsVolume) {
			continue
		}
		out = append(out, ind)
	}
	return out
}

func findIndicator(indicators []AvailableIndicator, source string) (AvailableIndicator, bool) {
	for _, ind := range indicators {
		if ind.Source == source {
			return ind, true
		}
	}
	return AvailableIndicator{}, false
}

func candidateHasIndicatorSource(c *types.StrategyCandidate, source string) bool {
	for _, ind := range c.Indicators {
		if ind.Source == source {
			return true
		}
	}
	return false
}

func conditionReferences(conditions []types.ConditionInfo, alias string) bool {
	for _, cond := range conditions {
		if cond.Input.Primary.Alias == alias || cond.Input.Secondary.Alias == alias || cond.Input.SecondaryB.Alias == alias {
			return true
		}
	}
	return false
}

func removeStopHandler(handlers []types.StopHandlerInfo, name string) []types.StopHandlerInfo {
	out := handlers[:0]
	for _, h := range handlers {
		if h.Handler != name {
			out = append(out, h)
		}
	}
	return out
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// parameterDescriptorsFor derives ParameterDescriptors for every numeric
// default parameter an indicator/handler instance carries, under a name
// scoped to its alias so the genetic algorithm's genome keys stay unique
// across a candidate with several instances of the same indicator.
func parameterDescriptorsFor(alias string, params map[string]any) []types.ParameterDescriptor {
	var out []types.ParameterDescriptor
	for key, raw := range params {
		val, ok := numericValue(raw)
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s.%s", alias, key)
		min, max, isInt := parameterRangeFor(key)
		out = append(out, types.ParameterDescriptor{Name: name, Default: val, Min: min, Max: max, IsInteger: isInt, Mutable: true})
	}
	return out
}

func numericValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// parameterRangeFor returns the mutation bounds for a well-known
// parameter key: period, coeff_atr, and percent/pct each get a sensible
// range, everything else falls back to a generic 0-100 window.
func parameterRangeFor(key string) (min, max float64, isInteger bool) {
	switch key {
	case "period":
		return 2, 250, true
	case "coeff_atr":
		return 0.5, 10, false
	case "percent", "percentage", "pct":
		return 0.1, 20, false
	default:
		return 0, 100, false
	}
}
