package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// UptimeMs32 returns milliseconds since start as a wrapping uint32,
// matching the width of the on-flash timestamp fields. On hardware the
// equivalent counter is the timer tick advanced by the SysTick interrupt
// (or by polling the timer status flag while interrupts are masked).
func UptimeMs32() uint32 {
	return uint32(time.Since(start).Milliseconds())
}

var start = time.Now()
