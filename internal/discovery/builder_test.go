package discovery_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/discovery"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func testIndicators() []discovery.AvailableIndicator {
	return []discovery.AvailableIndicator{
		{Source: "sma", DefaultParams: map[string]any{"period": 20.0}},
		{Source: "ema", DefaultParams: map[string]any{"period": 10.0}},
		{Source: "rsi", DefaultParams: map[string]any{"period": 14.0}},
		{Source: "atr", IsVolatility: true, DefaultParams: map[string]any{"period": 14.0}},
	}
}

func testStopHandlers() []discovery.AvailableStopHandler {
	return []discovery.AvailableStopHandler{
		{Name: "StopLossPct", DefaultParams: map[string]any{"percent": 0.2}},
		{Name: "ATRTrail", DefaultParams: map[string]any{"period": 14.0, "coeff_atr": 2.0}},
	}
}

func TestCandidateBuilderSatisfiesMinimums(t *testing.T) {
	config := discovery.DefaultConfig()
	builder := discovery.NewCandidateBuilder(config, 42)

	c := builder.Build(testIndicators(), testStopHandlers(), []types.Timeframe{types.Hours(4)}, types.Hour1)

	if len(c.Indicators) < config.Constraints.MinIndicators {
		t.Errorf("expected at least %d indicators, got %d", config.Constraints.MinIndicators, len(c.Indicators))
	}
	if len(c.StopHandlers) < config.Constraints.MinStopHandlers {
		t.Errorf("expected at least %d stop handlers, got %d", config.Constraints.MinStopHandlers, len(c.StopHandlers))
	}
	if len(c.EntryRules) < config.Constraints.MinEntryRules {
		t.Errorf("expected at least %d entry rules, got %d", config.Constraints.MinEntryRules, len(c.EntryRules))
	}
	if len(c.ExitRules) < config.Constraints.MinExitRules {
		t.Errorf("expected at least %d exit rules, got %d", config.Constraints.MinExitRules, len(c.ExitRules))
	}
	if c.Signature == "" {
		t.Error("expected a non-empty structural signature")
	}
}

func TestCandidateBuilderAllIndicatorsReferenced(t *testing.T) {
	config := discovery.DefaultConfig()
	builder := discovery.NewCandidateBuilder(config, 7)

	c := builder.Build(testIndicators(), testStopHandlers(), nil, types.Hour1)

	for _, ind := range c.Indicators {
		referenced := false
		for _, cond := range c.Conditions {
			if cond.Input.Primary.Alias == ind.Alias || cond.Input.Secondary.Alias == ind.Alias {
				referenced = true
				break
			}
		}
		if !referenced {
			t.Errorf("indicator %s is never referenced by a condition", ind.Alias)
		}
	}
}

func TestCandidateBuilderATRTrailRequiresATRIndicator(t *testing.T) {
	config := discovery.DefaultConfig()
	config.Constraints.MinStopHandlers = 1

	for seed := int64(0); seed < 20; seed++ {
		builder := discovery.NewCandidateBuilder(config, seed)
		c := builder.Build(testIndicators(), []discovery.AvailableStopHandler{
			{Name: "ATRTrail", DefaultParams: map[string]any{"period": 14.0, "coeff_atr": 2.0}},
		}, nil, types.Hour1)

		hasATRTrail := false
		for _, h := range c.StopHandlers {
			if h.Handler == "ATRTrail" {
				hasATRTrail = true
			}
		}
		if !hasATRTrail {
			continue
		}
		hasATRIndicator := false
		for _, ind := range c.Indicators {
			if ind.Source == "atr" {
				hasATRIndicator = true
			}
		}
		if !hasATRIndicator {
			t.Errorf("seed %d: candidate uses ATRTrail but has no atr indicator", seed)
		}
	}
}

func TestGenomeSignatureIsOrderIndependent(t *testing.T) {
	a := map[string]float64{"sma_0.period": 20, "rsi_1.period": 14}
	b := map[string]float64{"rsi_1.period": 14, "sma_0.period": 20}

	if discovery.GenomeSignature(a) != discovery.GenomeSignature(b) {
		t.Error("genome signature should not depend on map iteration order")
	}
}

func TestCandidateToDefinitionBindsGenomeValues(t *testing.T) {
	config := discovery.DefaultConfig()
	builder := discovery.NewCandidateBuilder(config, 1)
	c := builder.Build(testIndicators(), testStopHandlers(), nil, types.Hour1)

	if len(c.Indicators) == 0 {
		t.Fatal("expected at least one indicator")
	}
	alias := c.Indicators[0].Alias
	genome := map[string]float64{alias + ".period": 99}

	def := discovery.CandidateToDefinition(c, genome)

	found := false
	for _, ind := range def.Indicators {
		if ind.Alias == alias {
			found = true
			if period, ok := ind.Params["period"]; !ok || period != 99.0 {
				t.Errorf("expected period 99 bound onto %s, got %v", alias, period)
			}
		}
	}
	if !found {
		t.Fatalf("indicator binding %s missing from converted definition", alias)
	}
	if len(def.EntryRules) == 0 || len(def.ExitRules) == 0 {
		t.Error("expected converted definition to carry entry/exit rules")
	}
}
