package storage

import (
	"ebikecode-go/errcode"
	"ebikecode-go/storage/abmeta"
	"ebikecode-go/storage/cfgstore"
	"ebikecode-go/storage/crashdump"
	"ebikecode-go/storage/flashdev"
	"ebikecode-go/storage/reclog"
	"ebikecode-go/x/mathx"
	"ebikecode-go/x/timex"
)

// Sample is the vehicle state the application layer supplies for log
// appends. The motor-control/power-policy code that produces these
// values is outside this subsystem.
type Sample struct {
	Speed_dmph  int16
	Cadence_rpm uint16
	Power_W     uint16

	Batt_dV int16
	Batt_dA int16
	Temp_dC int16

	CmdPower_W    uint16
	CmdCurrent_dA uint16

	AssistMode uint8
}

// Config wires a Store. Only Layout is required; hooks default to
// host-side implementations (uptime clock, standstill, zero fault
// registers).
type Config struct {
	Layout Layout

	// NowMs is the millisecond counter behind record timestamps. On
	// hardware it is the timer tick; note that during CrashCapture it
	// must keep advancing with interrupts masked (the flash driver
	// polls the timer status flag while waiting on the part).
	NowMs func() uint32

	// Sample reports the current vehicle state for appends and for the
	// standstill gate on config mutation.
	Sample func() Sample

	// FaultRegs supplies the Cortex-M fault registers to CrashCapture.
	FaultRegs func() crashdump.FaultRegs

	// LegacyImport optionally salvages fields from a vendor blob when
	// the config store falls back to factory defaults.
	LegacyImport func(*cfgstore.Blob)
}

// Store owns the four flash-backed structures and exposes the calling
// surface consumed by the control loop and the remote command layer.
type Store struct {
	dev flashdev.Device
	cfg Config

	events *reclog.Log
	stream *reclog.Log
	config *cfgstore.Store
	ab     *abmeta.Store
	crash  *crashdump.Store

	lastStream_ms uint32

	evBuf [reclog.EventRecordSize]byte
	stBuf [reclog.StreamRecordSize]byte
}

// New validates the layout and builds the Store. The flash is not
// touched until Load.
func New(dev flashdev.Device, cfg Config) (*Store, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.NowMs == nil {
		cfg.NowMs = timex.UptimeMs32
	}
	if cfg.Sample == nil {
		cfg.Sample = func() Sample { return Sample{} }
	}

	s := &Store{dev: dev, cfg: cfg}
	l := cfg.Layout

	var err error
	s.events, err = reclog.New(dev, reclog.Config{
		Base:     l.EventBase,
		Sectors:  l.EventSectors,
		Capacity: l.EventCap,
		Tag:      [4]byte{'E', 'V', 'L', 'G'},
		Codec:    reclog.EventCodec{},
	})
	if err != nil {
		return nil, err
	}
	s.stream, err = reclog.New(dev, reclog.Config{
		Base:     l.StreamBase,
		Sectors:  l.StreamSectors,
		Capacity: l.StreamCap,
		Tag:      [4]byte{'S', 'T', 'L', 'G'},
		Codec:    reclog.StreamCodec{},
	})
	if err != nil {
		return nil, err
	}

	s.config = cfgstore.New(dev, cfgstore.Config{
		SlotBase:   l.ConfigBase,
		SlotStride: l.ConfigStride,
		NowMs:      cfg.NowMs,
		Speed_dmph: s.effectiveSpeed,
		LogPinAttempt: func(ok bool) {
			var flags uint8
			if ok {
				flags = reclog.EvfOK
			}
			s.appendEvent(reclog.EvPinAttempt, flags)
		},
		LogCommit: func() {
			s.appendEvent(reclog.EvConfigCommit, reclog.EvfOK)
		},
		LegacyImport: cfg.LegacyImport,
	})

	s.ab = abmeta.New(dev, abmeta.Config{
		MetaBase:   l.ABMetaBase,
		MetaStride: l.ABMetaStride,
		SlotBase:   l.ABSlotBase,
		SlotStride: l.ABSlotStride,
		LogPromote: func(slot uint8, ok bool) {
			typ := reclog.EvSlotPromote
			flags := slot << 4 // slot id in the high nibble
			if ok {
				flags |= reclog.EvfOK
			} else {
				typ = reclog.EvSlotRejected
			}
			s.appendEvent(typ, flags)
		},
	})

	s.crash = crashdump.New(dev, crashdump.Config{
		Base:      l.CrashBase,
		NowMs:     cfg.NowMs,
		FaultRegs: cfg.FaultRegs,
		Events:    s.events,
	})
	return s, nil
}

// Load boots all structures: scan both logs, adopt a config, pick the
// A/B meta copy. Promotion of a pending slot is a separate, explicit
// ABInit call. Storage corruption self-heals here and never surfaces
// as an error; only device-level failures do.
func (s *Store) Load() error {
	if err := s.events.Load(); err != nil {
		return err
	}
	if err := s.stream.Load(); err != nil {
		return err
	}
	if err := s.config.LoadActive(); err != nil {
		return err
	}
	if err := s.ab.Load(); err != nil {
		return err
	}
	s.lastStream_ms = s.cfg.NowMs()
	return nil
}

// ---------------------------------------------------------------------------
// Event log
// ---------------------------------------------------------------------------

// EventAppend records one event with the current vehicle state.
func (s *Store) EventAppend(typ, flags uint8) error {
	return s.appendEvent(typ, flags)
}

// EventCopy reads up to max event records starting at offset into out,
// straight from flash.
func (s *Store) EventCopy(offset, max uint32, out []byte) (uint32, error) {
	return s.events.Copy(offset, max, out)
}

// EventMeta returns the event log's RAM meta.
func (s *Store) EventMeta() reclog.Meta { return s.events.Meta() }

func (s *Store) appendEvent(typ, flags uint8) error {
	v := s.cfg.Sample()
	r := reclog.EventRecord{
		Ms:            s.cfg.NowMs(),
		Type:          typ,
		Flags:         flags,
		Speed_dmph:    v.Speed_dmph,
		Batt_dV:       v.Batt_dV,
		Batt_dA:       v.Batt_dA,
		Temp_dC:       v.Temp_dC,
		CmdPower_W:    v.CmdPower_W,
		CmdCurrent_dA: v.CmdCurrent_dA,
	}
	r.EncodeTo(s.evBuf[:])
	return s.events.Append(s.evBuf[:])
}

// ---------------------------------------------------------------------------
// Stream log
// ---------------------------------------------------------------------------

// StreamAppend records one telemetry sample. Dt is the time since the
// previous stream append, saturated to the field width.
func (s *Store) StreamAppend(flags uint8) error {
	now := s.cfg.NowMs()
	dt := mathx.Min(now-s.lastStream_ms, 0xFFFF)
	v := s.cfg.Sample()
	active := s.config.Active()
	r := reclog.StreamRecord{
		Version:     reclog.StreamRecordVersion,
		Flags:       flags,
		Dt_ms:       uint16(dt),
		Speed_dmph:  absSpeed(v.Speed_dmph),
		Cadence_rpm: v.Cadence_rpm,
		Power_W:     v.Power_W,
		Batt_dV:     v.Batt_dV,
		Batt_dA:     v.Batt_dA,
		Temp_dC:     v.Temp_dC,
		AssistMode:  v.AssistMode,
		ProfileID:   active.ProfileID,
	}
	r.EncodeTo(s.stBuf[:])
	if err := s.stream.Append(s.stBuf[:]); err != nil {
		return err
	}
	s.lastStream_ms = now
	return nil
}

// StreamCopy reads up to max stream records starting at offset into out.
func (s *Store) StreamCopy(offset, max uint32, out []byte) (uint32, error) {
	return s.stream.Copy(offset, max, out)
}

// StreamMeta returns the stream log's RAM meta.
func (s *Store) StreamMeta() reclog.Meta { return s.stream.Meta() }

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// StageConfig validates an incoming blob and holds it pending commit.
func (s *Store) StageConfig(raw []byte) errcode.Code {
	code := s.config.Stage(raw)
	switch code {
	case errcode.CfgRange, errcode.CfgMonotonic, errcode.CfgPolicy, errcode.CfgMoving:
		// Policy-class rejections are logged; transport corruption is
		// rejected without touching flash, and PIN attempts log inside
		// the gate itself.
		s.appendEvent(reclog.EvConfigReject, 0)
	}
	return code
}

// CommitConfig durably applies a previously staged blob.
func (s *Store) CommitConfig(raw []byte) errcode.Code {
	return s.config.Commit(raw)
}

// PersistConfig writes the active config through the ping-pong path,
// for local (on-device UI) mutations.
func (s *Store) PersistConfig() error {
	return s.config.PersistActive()
}

// UpdateConfig applies a local (on-device UI) mutation to the active
// config and persists it through the ping-pong path.
func (s *Store) UpdateConfig(fn func(*cfgstore.Blob)) error {
	b := s.config.Active()
	fn(&b)
	s.config.SetActive(b)
	return s.config.PersistActive()
}

// ActiveConfig returns a copy of the adopted configuration.
func (s *Store) ActiveConfig() cfgstore.Blob { return s.config.Active() }

// ConfigSlot reports which slot backs the active config.
func (s *Store) ConfigSlot() uint8 { return s.config.ActiveSlot() }

// ---------------------------------------------------------------------------
// A/B update
// ---------------------------------------------------------------------------

// ABInit runs the boot-time promotion check on a pending slot.
func (s *Store) ABInit() error { return s.ab.Init() }

// ABSetPending stages an image slot for promotion at the next ABInit.
func (s *Store) ABSetPending(slot uint8) errcode.Code {
	code := s.ab.SetPending(slot)
	if code == errcode.OK {
		s.appendEvent(reclog.EvPendingSet, reclog.EvfOK)
	}
	return code
}

// ABMeta returns the current A/B pointer record.
func (s *Store) ABMeta() abmeta.Meta { return s.ab.Meta() }

// ---------------------------------------------------------------------------
// Crash dump
// ---------------------------------------------------------------------------

// CrashCapture snapshots fault state. The only Store call permitted
// with interrupts disabled; it allocates nothing and appends nothing
// to the logs.
func (s *Store) CrashCapture(sp, lr, pc, psr uint32) error {
	return s.crash.Capture(sp, lr, pc, psr)
}

// CrashLoad reads the stored dump, reporting validity.
func (s *Store) CrashLoad(out *crashdump.Dump) bool { return s.crash.Load(out) }

// CrashClear drops any stored dump.
func (s *Store) CrashClear() error { return s.crash.ClearStorage() }

func (s *Store) effectiveSpeed() uint16 {
	return absSpeed(s.cfg.Sample().Speed_dmph)
}

func absSpeed(v int16) uint16 {
	return uint16(mathx.Abs(int32(v)))
}
