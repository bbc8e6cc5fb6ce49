package types

import (
	"fmt"
	"sort"
	"strings"
)

// genomeSignature builds a stable, order-independent string from a
// parameter genome, used as half of the evaluation cache key (the other
// half is the candidate's structural Signature). Sorting by key makes the
// result independent of map iteration order.
func genomeSignature(genome map[string]float64) string {
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

// CacheKey is the composite key the evaluation runner caches fitness
// results under: structural shape plus bound parameters.
type CacheKey struct {
	StructuralSignature string
	ParameterSignature  string
}

func (k CacheKey) String() string {
	return k.StructuralSignature + "::" + k.ParameterSignature
}
