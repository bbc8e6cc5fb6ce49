// Package indicator implements the pure indicator functions the engine
// precomputes once per backtest, and a name-keyed registry strategies
// bind to by name.
package indicator

import (
	"fmt"
	"sync"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// SeriesInput bundles the OHLCV arrays an indicator function may read
// from — most indicators only touch Close, but ATR needs High/Low/Close
// together.
type SeriesInput struct {
	Open, High, Low, Close, Volume []float64
}

// Func computes one indicator's full output series from its input series
// and bound parameters.
type Func func(input SeriesInput, params map[string]any) (types.ValueVector, error)

// Registry is a concurrency-safe name -> Func lookup table. The zero
// value is not usable; construct with NewRegistry, which seeds the
// built-in set.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a Registry seeded with the built-in indicators:
// sma, ema, rsi, atr, bollinger_upper, bollinger_mid, bollinger_lower.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("sma", smaFunc)
	r.Register("ema", emaFunc)
	r.Register("rsi", rsiFunc)
	r.Register("atr", atrFunc)
	r.Register("bollinger_upper", bollingerUpperFunc)
	r.Register("bollinger_mid", bollingerMidFunc)
	r.Register("bollinger_lower", bollingerLowerFunc)
	return r
}

// Register adds or replaces a named indicator function.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Compute looks up name and evaluates it over input/params. Returns a
// StrategyError if name is unregistered.
func (r *Registry) Compute(name string, input SeriesInput, params map[string]any) (types.ValueVector, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return types.ValueVector{}, &types.StrategyError{Reason: fmt.Sprintf("unknown indicator %q", name)}
	}
	return fn(input, params)
}

// Names returns the registered indicator names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func smaFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 14)
	return types.NewValueVector(SMA(input.Close, period)), nil
}

func emaFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 14)
	return types.NewValueVector(EMA(input.Close, period)), nil
}

func rsiFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 14)
	return types.NewValueVector(RSI(input.Close, period)), nil
}

func atrFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 14)
	if len(input.High) != len(input.Close) || len(input.Low) != len(input.Close) {
		return types.ValueVector{}, &types.StrategyError{Reason: "atr: high/low/close length mismatch"}
	}
	return types.NewValueVector(ATR(input.High, input.Low, input.Close, period)), nil
}

func bollingerUpperFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 20)
	mult := floatParam(params, "mult", 2.0)
	return types.NewValueVector(BollingerUpper(input.Close, period, mult)), nil
}

func bollingerMidFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 20)
	return types.NewValueVector(BollingerMid(input.Close, period)), nil
}

func bollingerLowerFunc(input SeriesInput, params map[string]any) (types.ValueVector, error) {
	period := intParam(params, "period", 20)
	mult := floatParam(params, "mult", 2.0)
	return types.NewValueVector(BollingerLower(input.Close, period, mult)), nil
}
