package main

import (
	"time"

	"ebikecode-go/storage"
	"ebikecode-go/storage/memflash"
	"ebikecode-go/storage/reclog"
	"ebikecode-go/x/mathx"
)

// Host-side smoke loop: boots the store on a RAM flash sim and runs a
// short simulated ride so the logs, config and soft-start ramp all get
// exercised without hardware.
func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	layout := storage.DefaultLayout()
	dev := memflash.New(int(layout.End()))

	st, err := storage.New(dev, storage.Config{
		Layout: layout,
		Sample: currentSample,
	})
	if err != nil {
		println("layout:", err.Error())
		return
	}
	if err := st.Load(); err != nil {
		println("load:", err.Error())
		return
	}
	if err := st.ABInit(); err != nil {
		println("ab init:", err.Error())
	}
	st.EventAppend(reclog.EvBoot, reclog.EvfOK)

	cfg := st.ActiveConfig()
	println("config seq", cfg.Seq, "slot", st.ConfigSlot())

	// Soft-start up to the curve's command for a mid-range cadence.
	cfg.SoftStartRamp(0, cfg.CurveEval(500)).Run(
		func(d time.Duration) bool { time.Sleep(d); return true },
		func(level uint16) { power_W = level },
	)

	tick := time.NewTicker(time.Duration(cfg.LogPeriod_ms) * time.Millisecond)
	defer tick.Stop()

	for range tick.C {
		advanceRide()
		if err := st.StreamAppend(0); err != nil {
			println("stream:", err.Error())
		}
		m := st.StreamMeta()
		if m.Count%16 == 0 {
			println("stream", m.Count, "records, head", m.Head)
		}
	}
}

var (
	speed_dmph int16
	power_W    uint16
)

func currentSample() storage.Sample {
	return storage.Sample{
		Speed_dmph: speed_dmph,
		Power_W:    power_W,
		Batt_dV:    368,
		Temp_dC:    251,
	}
}

func advanceRide() {
	speed_dmph = mathx.Clamp(speed_dmph+5, 0, 250)
}
