package main

import (
	"math"
	"testing"
)

func TestAbs16MinValue(t *testing.T) {
	if got := abs16(math.MinInt16); got != 32768 {
		t.Fatalf("abs16(MinInt16) = %d", got)
	}
	if got := abs16(-52); got != 52 {
		t.Fatalf("abs16(-52) = %d", got)
	}
	if got := abs16(52); got != 52 {
		t.Fatalf("abs16(52) = %d", got)
	}
}
