// Package backtester provides slippage modeling for backtesting.
package backtester

import (
	"math"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel estimates the execution slippage, expressed as a
// fractional price offset (0.001 = 10 bps), for filling a given order
// quantity against the current bar.
type SlippageModel interface {
	Calculate(direction types.Direction, quantity decimal.Decimal, bar types.Quote) decimal.Decimal
}

// FixedSlippage applies a fixed basis-point offset regardless of order
// size or bar liquidity.
type FixedSlippage struct {
	BasisPoints decimal.Decimal
}

func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{BasisPoints: bps}
}

func (f *FixedSlippage) Calculate(_ types.Direction, _ decimal.Decimal, _ types.Quote) decimal.Decimal {
	return f.BasisPoints.Div(decimal.NewFromInt(10000))
}

// VolumeWeightedSlippage models slippage as a base offset plus a
// square-root market-impact term scaled by the order's participation
// rate against the bar's traded volume.
type VolumeWeightedSlippage struct {
	BaseSlippage decimal.Decimal // bps
	ImpactFactor decimal.Decimal
	VolumeFrac   decimal.Decimal // max volume participation, informational
}

func NewVolumeWeightedSlippage(baseBps, impactFactor, volumeFrac decimal.Decimal) *VolumeWeightedSlippage {
	return &VolumeWeightedSlippage{
		BaseSlippage: baseBps,
		ImpactFactor: impactFactor,
		VolumeFrac:   volumeFrac,
	}
}

func (v *VolumeWeightedSlippage) Calculate(_ types.Direction, quantity decimal.Decimal, bar types.Quote) decimal.Decimal {
	baseSlip := v.BaseSlippage.Div(decimal.NewFromInt(10000))
	if bar.Volume <= 0 {
		return baseSlip
	}

	participation := quantity.Div(decimal.NewFromFloat(bar.Volume))
	participationFloat, _ := participation.Float64()
	sqrtParticipation := decimal.NewFromFloat(math.Sqrt(math.Abs(participationFloat)))

	impact := v.ImpactFactor.Mul(sqrtParticipation)
	return baseSlip.Add(impact)
}

// OrderBookSlippage approximates book-depth traversal from bar volume
// when no live order book is available: a half-spread floor plus
// depth-based slippage proportional to how many synthetic levels the
// order would have to cross.
type OrderBookSlippage struct {
	DepthLevels int
	AvgDepthBps decimal.Decimal
	SpreadBps   decimal.Decimal
}

func NewOrderBookSlippage(levels int, avgDepthBps, spreadBps decimal.Decimal) *OrderBookSlippage {
	return &OrderBookSlippage{
		DepthLevels: levels,
		AvgDepthBps: avgDepthBps,
		SpreadBps:   spreadBps,
	}
}

func (o *OrderBookSlippage) Calculate(_ types.Direction, quantity decimal.Decimal, bar types.Quote) decimal.Decimal {
	spread := o.SpreadBps.Div(decimal.NewFromInt(10000))
	slippage := spread.Div(decimal.NewFromFloat(2))

	if bar.Volume <= 0 || o.DepthLevels <= 0 {
		return slippage
	}

	avgLevelSize := decimal.NewFromFloat(bar.Volume).Div(decimal.NewFromInt(int64(o.DepthLevels)))
	if avgLevelSize.IsZero() {
		return slippage
	}

	levelsNeeded := quantity.Div(avgLevelSize)
	levelsFloat, _ := levelsNeeded.Float64()

	additionalSlip := o.AvgDepthBps.Mul(decimal.NewFromFloat(math.Min(levelsFloat, float64(o.DepthLevels))))
	additionalSlip = additionalSlip.Div(decimal.NewFromInt(10000))

	return slippage.Add(additionalSlip)
}

// CreateSlippageModel builds the configured slippage model.
func CreateSlippageModel(config types.SlippageConfig) SlippageModel {
	switch config.Model {
	case "fixed":
		return NewFixedSlippage(config.FixedBps)
	case "volume_weighted":
		return NewVolumeWeightedSlippage(config.FixedBps, config.ImpactFactor, config.VolumeFraction)
	case "orderbook":
		return NewOrderBookSlippage(10, decimal.NewFromFloat(0.5), decimal.NewFromFloat(1))
	default:
		return NewFixedSlippage(decimal.NewFromInt(10))
	}
}
