package cfgstore

import (
	"testing"
	"time"
)

func TestCurveEvalFactory(t *testing.T) {
	b := Factory()
	cases := []struct{ x, want uint16 }{
		{0, 0},
		{150, 125},
		{300, 250},
		{600, 500},
		{800, 750},
		{1000, 1000},
		{1200, 1000},
	}
	for _, c := range cases {
		if got := b.CurveEval(c.x); got != c.want {
			t.Fatalf("CurveEval(%d) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestCurveEvalEmpty(t *testing.T) {
	var b Blob
	if got := b.CurveEval(500); got != CurveYMax {
		t.Fatalf("empty curve = %d, want %d", got, CurveYMax)
	}
}

func TestSoftStartRamp(t *testing.T) {
	b := Factory()
	r := b.SoftStartRamp(0, 750)
	if r.Duration_ms != uint32(b.SoftStart_ms) || r.Top != CurveYMax {
		t.Fatalf("ramp = %+v", r)
	}

	var last uint16
	r.Run(func(d time.Duration) bool { return true },
		func(v uint16) { last = v })
	if last != 750 {
		t.Fatalf("ramp settled at %d, want 750", last)
	}

	// Zero soft-start snaps to the target immediately.
	b.SoftStart_ms = 0
	last = 0
	b.SoftStartRamp(0, 400).Run(
		func(d time.Duration) bool { return true },
		func(v uint16) { last = v })
	if last != 400 {
		t.Fatalf("snap settled at %d, want 400", last)
	}
}

func TestCurveEvalDescending(t *testing.T) {
	b := Blob{CurveCount: 2}
	b.Curve[0] = CurvePoint{X: 0, Y: 1000}
	b.Curve[1] = CurvePoint{X: 500, Y: 0}
	if got := b.CurveEval(250); got != 500 {
		t.Fatalf("midpoint = %d, want 500", got)
	}
	if got := b.CurveEval(600); got != 0 {
		t.Fatalf("past last knot = %d, want 0", got)
	}
}
