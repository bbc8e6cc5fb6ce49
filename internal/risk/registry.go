package risk

import (
	"strings"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// Registry resolves a StopHandlerBinding's Handler name to a concrete
// Handler implementation.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry seeded with the six built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range []Handler{
		StopLossPct{},
		TakeProfitPct{},
		ATRTrail{},
		PercentTrail{},
		HILOTrail{},
		IndicatorStop{},
	} {
		r.Register(h)
	}
	return r
}

// normalizeHandlerName folds a handler name to a case- and
// separator-insensitive key so "StopLossPct", "stop_loss_pct", and
// "STOPLOSSPCT" all resolve to the same registered handler.
func normalizeHandlerName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, "-", "")
	return name
}

// Register adds or replaces a handler under its own Name().
func (r *Registry) Register(h Handler) {
	r.handlers[normalizeHandlerName(h.Name())] = h
}

// Resolve looks up a handler by name, returning a *types.StopHandlerError
// if unknown. Lookups are case- and separator-insensitive.
func (r *Registry) Resolve(name string) (Handler, error) {
	h, ok := r.handlers[normalizeHandlerName(name)]
	if !ok {
		return nil, &types.StopHandlerError{Handler: name, Reason: "not registered"}
	}
	return h, nil
}
