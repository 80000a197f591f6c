package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapRange maps x in [inMin,inMax] to [outMin,outMax], clamping out-of-range
// input. inMax == inMin yields outMin.
func MapRange[T constraints.Float](x, inMin, inMax, outMin, outMax T) T {
	if inMax == inMin {
		return outMin
	}
	if x <= inMin {
		return outMin
	}
	if x >= inMax {
		return outMax
	}
	return outMin + (x-inMin)/(inMax-inMin)*(outMax-outMin)
}
