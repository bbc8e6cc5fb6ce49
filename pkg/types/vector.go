package types

import "math"

// ValueVector is an immutable, aligned sequence of float64 samples with a
// small set of rolling/stat operations. Indicator and condition series are
// represented as ValueVectors so the engine can precompute them once per
// backtest rather than recomputing per bar.
type ValueVector struct {
	values []float64
}

// NewValueVector wraps a slice. The slice is not copied; callers must treat
// it as owned by the vector from this point on.
func NewValueVector(values []float64) ValueVector {
	return ValueVector{values: values}
}

func (v ValueVector) Len() int            { return len(v.values) }
func (v ValueVector) At(i int) float64    { return v.values[i] }
func (v ValueVector) Values() []float64   { return v.values }
func (v ValueVector) IsEmpty() bool       { return len(v.values) == 0 }

// Sum returns the sum of all samples.
func (v ValueVector) Sum() float64 {
	var s float64
	for _, x := range v.values {
		s += x
	}
	return s
}

// Mean returns the arithmetic mean, or 0 for an empty vector.
func (v ValueVector) Mean() float64 {
	if len(v.values) == 0 {
		return 0
	}
	return v.Sum() / float64(len(v.values))
}

// RollingSum computes a trailing window sum of width k (k >= 1). Positions
// before the first full window hold the partial sum of whatever samples are
// available rather than NaN, so
// downstream condition evaluation can treat early samples uniformly.
func (v ValueVector) RollingSum(k int) ValueVector {
	if k < 1 {
		k = 1
	}
	out := make([]float64, len(v.values))
	var running float64
	for i, x := range v.values {
		running += x
		if i >= k {
			running -= v.values[i-k]
		}
		out[i] = running
	}
	return NewValueVector(out)
}

// RollingMean computes a trailing window mean of width k.
func (v ValueVector) RollingMean(k int) ValueVector {
	if k < 1 {
		k = 1
	}
	sums := v.RollingSum(k)
	out := make([]float64, len(v.values))
	for i := range v.values {
		window := k
		if i+1 < k {
			window = i + 1
		}
		out[i] = sums.values[i] / float64(window)
	}
	return NewValueVector(out)
}

// Diff computes v[i] - v[i-period]; the first `period` entries are 0
// (undefined — no look-back available).
func (v ValueVector) Diff(period int) ValueVector {
	if period < 1 {
		period = 1
	}
	out := make([]float64, len(v.values))
	for i := range v.values {
		if i < period {
			out[i] = 0
			continue
		}
		out[i] = v.values[i] - v.values[i-period]
	}
	return NewValueVector(out)
}

// Scale multiplies every sample by factor.
func (v ValueVector) Scale(factor float64) ValueVector {
	out := make([]float64, len(v.values))
	for i, x := range v.values {
		out[i] = x * factor
	}
	return NewValueVector(out)
}

// Normalize computes a z-score series: (x - mean) / stddev. A zero-variance
// input yields the identity series (all zeros) rather than dividing by
// zero, per spec.
func (v ValueVector) Normalize() ValueVector {
	mean := v.Mean()
	sd := v.StdDev()
	out := make([]float64, len(v.values))
	if sd == 0 {
		return NewValueVector(out) // identity: all zero
	}
	for i, x := range v.values {
		out[i] = (x - mean) / sd
	}
	return NewValueVector(out)
}

// StdDev returns the population standard deviation of the vector.
func (v ValueVector) StdDev() float64 {
	if len(v.values) == 0 {
		return 0
	}
	mean := v.Mean()
	var sumSq float64
	for _, x := range v.values {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(v.values)))
}

// elementwise applies op pairwise; fails (returns false) on length mismatch.
func (v ValueVector) elementwise(other ValueVector, op func(a, b float64) float64) (ValueVector, bool) {
	if len(v.values) != len(other.values) {
		return ValueVector{}, false
	}
	out := make([]float64, len(v.values))
	for i := range v.values {
		out[i] = op(v.values[i], other.values[i])
	}
	return NewValueVector(out), true
}

func (v ValueVector) Add(other ValueVector) (ValueVector, bool) {
	return v.elementwise(other, func(a, b float64) float64 { return a + b })
}
func (v ValueVector) Sub(other ValueVector) (ValueVector, bool) {
	return v.elementwise(other, func(a, b float64) float64 { return a - b })
}
func (v ValueVector) Mul(other ValueVector) (ValueVector, bool) {
	return v.elementwise(other, func(a, b float64) float64 { return a * b })
}
func (v ValueVector) Div(other ValueVector) (ValueVector, bool) {
	return v.elementwise(other, func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return a / b
	})
}
