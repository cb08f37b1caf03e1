package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 10); got != 5 {
		t.Fatalf("in range: %d", got)
	}
	if got := Clamp(-3, 0, 10); got != 0 {
		t.Fatalf("below: %d", got)
	}
	if got := Clamp(42, 0, 10); got != 10 {
		t.Fatalf("above: %d", got)
	}
	if got := Clamp(5, 10, 0); got != 5 { // swapped bounds
		t.Fatalf("swapped: %d", got)
	}
}

func TestAbs(t *testing.T) {
	if got := Abs(int32(-200)); got != 200 {
		t.Fatalf("abs(-200) = %d", got)
	}
	if got := Abs(int32(7)); got != 7 {
		t.Fatalf("abs(7) = %d", got)
	}
}

func TestMapU16(t *testing.T) {
	if got := MapU16(50, 0, 100, 0, 1000); got != 500 {
		t.Fatalf("ascending: %d", got)
	}
	if got := MapU16(25, 0, 100, 1000, 0); got != 750 {
		t.Fatalf("descending: %d", got)
	}
	if got := MapU16(200, 0, 100, 0, 1000); got != 1000 {
		t.Fatalf("clamp high: %d", got)
	}
	if got := MapU16(5, 10, 10, 77, 99); got != 77 {
		t.Fatalf("degenerate input range: %d", got)
	}
}
