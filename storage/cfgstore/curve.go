package cfgstore

import (
	"ebikecode-go/x/mathx"
	"ebikecode-go/x/ramp"
)

// CurveEval evaluates the assist curve at x by piecewise-linear
// interpolation between knots. Inputs below the first knot clamp to
// its y, above the last knot to the last y. With no curve configured
// the result is full scale, so a blank curve never cuts assist.
func (b *Blob) CurveEval(x uint16) uint16 {
	n := int(b.CurveCount)
	if n > CurveMax {
		n = CurveMax
	}
	if n == 0 {
		return CurveYMax
	}
	if x <= b.Curve[0].X {
		return b.Curve[0].Y
	}
	for i := 1; i < n; i++ {
		if x <= b.Curve[i].X {
			return mathx.MapU16(x,
				b.Curve[i-1].X, b.Curve[i].X,
				b.Curve[i-1].Y, b.Curve[i].Y)
		}
	}
	return b.Curve[n-1].Y
}

// softStartSteps fixes the ramp granularity; the configured duration
// only stretches the step interval.
const softStartSteps = 20

// SoftStartRamp builds the assist engagement ramp for this config:
// command levels on the curve scale, spread over the configured
// soft-start duration. SoftStart_ms of zero snaps to the target.
func (b *Blob) SoftStartRamp(from, to uint16) ramp.Ramp {
	return ramp.Ramp{
		From:        from,
		To:          to,
		Top:         CurveYMax,
		Duration_ms: uint32(b.SoftStart_ms),
		Steps:       softStartSteps,
	}
}
