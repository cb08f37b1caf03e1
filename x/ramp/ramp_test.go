package ramp

import (
	"testing"
	"time"
)

func TestRunSnapsWithoutSteps(t *testing.T) {
	var got uint16
	Ramp{From: 0, To: 500, Top: 1000}.Run(
		func(time.Duration) bool { t.Fatal("tick called"); return false },
		func(v uint16) { got = v })
	if got != 500 {
		t.Fatalf("level = %d", got)
	}
}

func TestRunReachesTarget(t *testing.T) {
	var levels []uint16
	Ramp{From: 0, To: 400, Top: 1000, Duration_ms: 200, Steps: 8}.Run(
		func(time.Duration) bool { return true },
		func(v uint16) { levels = append(levels, v) })
	if len(levels) == 0 || levels[len(levels)-1] != 400 {
		t.Fatalf("levels = %v", levels)
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] < levels[i-1] {
			t.Fatalf("not monotonic: %v", levels)
		}
	}
}

func TestRunCapsAtTop(t *testing.T) {
	var got uint16
	Ramp{From: 0, To: 900, Top: 300, Duration_ms: 100, Steps: 4}.Run(
		func(time.Duration) bool { return true },
		func(v uint16) { got = v })
	if got != 300 {
		t.Fatalf("level = %d, want top 300", got)
	}
}

func TestRunCancels(t *testing.T) {
	calls := 0
	var got uint16
	Ramp{From: 0, To: 400, Top: 1000, Duration_ms: 200, Steps: 8}.Run(
		func(time.Duration) bool { calls++; return calls < 3 },
		func(v uint16) { got = v })
	if got >= 400 {
		t.Fatalf("ramp completed despite cancel: %d", got)
	}
}
