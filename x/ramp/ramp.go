// Package ramp runs the soft-start power ramp: a synchronous integer
// ramp from a current command level to a target, stepped by the caller
// so cancellation and timing stay in the control loop.
package ramp

import (
	"time"

	"ebikecode-go/x/mathx"
)

// Step applies the new command level in [0..Top].
type Step func(level uint16)

// Tick waits for d and reports whether to continue (false = cancelled).
type Tick func(d time.Duration) bool

// Ramp describes one transition. Zero Steps or Duration_ms means snap
// straight to the target; Top caps every level the ramp emits.
type Ramp struct {
	From uint16
	To   uint16
	Top  uint16

	Duration_ms uint32
	Steps       uint16
}

// Run walks the ramp, distributing the integer delta across the steps
// without drift (fractional remainders accumulate instead of being
// dropped). Cancellation through tick leaves the last applied level in
// place.
func (r Ramp) Run(tick Tick, set Step) {
	if r.Steps == 0 || r.Duration_ms == 0 {
		set(mathx.Min(r.To, r.Top))
		return
	}
	d := int32(r.To) - int32(r.From)
	st := int32(r.Steps)
	acc := int32(0)
	cur := int32(r.From)
	stepDurMs := r.Duration_ms / uint32(r.Steps)
	if stepDurMs == 0 {
		stepDurMs = 1
	}
	stepDur := time.Duration(stepDurMs) * time.Millisecond

	for i := uint16(1); i < r.Steps; i++ {
		if !tick(stepDur) {
			return
		}
		acc += d
		inc := acc / st
		if inc != 0 {
			acc -= inc * st
			cur = mathx.Clamp(cur+inc, 0, int32(r.Top))
			set(uint16(cur))
		}
	}
	set(mathx.Min(r.To, r.Top))
}
