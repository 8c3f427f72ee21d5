package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// roundToIncrement rounds qty toward zero to the nearest multiple of the
// instrument's quantity increment, preserving sign. Decimal arithmetic
// avoids float residue like 0.30000000000000004 reaching the venue.
func roundToIncrement(qty, increment float64) float64 {
	if increment <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	inc := decimal.NewFromFloat(increment)
	steps := q.Div(inc).Truncate(0)
	out, _ := steps.Mul(inc).Float64()
	return out
}

// clampRatio bounds a hedge ratio to the configured band. Ratios outside
// the band mean the statistical relationship is too lopsided to hedge.
func clampRatio(ratio, min, max float64) float64 {
	if ratio < min {
		return min
	}
	if ratio > max {
		return max
	}
	return ratio
}

// drift measures relative deviation of the realized ratio from target.
func drift(current, target float64) float64 {
	if target == 0 {
		return 0
	}
	return math.Abs(current-target) / math.Abs(target)
}
