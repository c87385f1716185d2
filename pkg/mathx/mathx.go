// Package mathx holds small generic numeric helpers shared across packages
package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits v to the closed range [lo, hi]
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean returns the arithmetic mean of xs, or 0 for an empty slice
func Mean[T constraints.Float](xs []T) T {
	if len(xs) == 0 {
		return 0
	}
	var sum T
	for _, x := range xs {
		sum += x
	}
	return sum / T(len(xs))
}

// ArgMax returns the index of the largest element (first one on ties), or -1 for an empty slice
func ArgMax[T constraints.Ordered](xs []T) int {
	if len(xs) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// RoundInt rounds half away from zero
func RoundInt(x float64) int {
	return int(math.Round(x))
}
