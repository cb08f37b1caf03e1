// Package mathx holds the integer helpers the control maths leans on.
// Everything is allocation-free and safe for the MCU target.
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

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Abs for signed integers.
func Abs[T ~int | ~int8 | ~int16 | ~int32 | ~int64](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// MapU16 maps x in [inMin,inMax] to [outMin,outMax] with 32-bit
// intermediates. The output range may run in either direction; inputs
// outside the input range clamp to the corresponding endpoint.
func MapU16(x, inMin, inMax, outMin, outMax uint16) uint16 {
	if inMax == inMin {
		return outMin
	}
	if x < inMin {
		return outMin
	}
	if x > inMax {
		return outMax
	}
	num := int32(x-inMin) * (int32(outMax) - int32(outMin))
	den := int32(inMax - inMin)
	return uint16(int32(outMin) + num/den)
}
