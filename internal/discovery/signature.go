package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// StructuralSignature builds a stable, order-independent string over a
// candidate's shape — which indicators/conditions/handlers it carries and
// how they reference each other — independent of any bound parameter
// value. Two candidates built from the same elements in a different order
// produce the same signature, matching the cache key's requirement that
// structural equality not depend on construction order.
func StructuralSignature(c *types.StrategyCandidate) string {
	var parts []string

	for _, ind := range c.Indicators {
		nested := ""
		if ind.Nested != nil {
			nested = ind.Nested.Source
		}
		parts = append(parts, fmt.Sprintf("ind:%s:%s:%s", ind.Source, ind.Timeframe.String(), nested))
	}
	for _, cond := range c.Conditions {
		parts = append(parts, fmt.Sprintf("cond:%d:%s:%s:%s", cond.Operator, cond.Timeframe.String(), sourceKey(cond.Input.Primary), sourceKey(cond.Input.Secondary)))
	}
	for _, h := range c.StopHandlers {
		parts = append(parts, fmt.Sprintf("stop:%s", h.Handler))
	}
	for _, h := range c.TakeHandlers {
		parts = append(parts, fmt.Sprintf("take:%s", h.Handler))
	}
	parts = append(parts, fmt.Sprintf("entries:%d", len(c.EntryRules)), fmt.Sprintf("exits:%d", len(c.ExitRules)))

	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func sourceKey(s types.DataSeriesSource) string {
	switch s.Kind {
	case types.SourcePrice:
		return fmt.Sprintf("price:%d", s.Field)
	case types.SourceIndicator:
		return "ind:" + s.Alias
	default:
		return "custom:" + s.Alias
	}
}
