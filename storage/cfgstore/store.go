package cfgstore

import (
	"encoding/binary"

	"ebikecode-go/errcode"
	"ebikecode-go/storage/flashdev"
)

const (
	// StandstillMax_dmph is the highest effective speed at which config
	// mutation is still allowed.
	StandstillMax_dmph = 30 // 3.0 mph

	// PinCooldown_ms is the rate-limit window for gated mode changes:
	// one PIN attempt per window.
	PinCooldown_ms = 5000
)

// Config wires one store to its flash slots and its collaborators.
// All function hooks are optional except NowMs.
type Config struct {
	SlotBase   uint32 // slot 0 start, sector-aligned
	SlotStride uint32 // slot 1 lives at SlotBase+SlotStride

	NowMs      func() uint32
	Speed_dmph func() uint16 // effective vehicle speed; nil means standstill

	// LogPinAttempt records every gated-mode PIN attempt, allowed or
	// refused, to the event log.
	LogPinAttempt func(ok bool)
	// LogCommit records a successful staged commit.
	LogCommit func()

	// LegacyImport, when set, may pull a few fields out of a vendor
	// blob while building the factory default.
	LegacyImport func(*Blob)
}

// Store is the two-slot configuration store. Not reentrant; single
// logical caller.
type Store struct {
	dev flashdev.Device
	cfg Config

	active     Blob
	activeSlot uint8

	staged      Blob
	stagedValid bool

	lastPin_ms   uint32
	pinGateArmed bool

	buf [BlobSize]byte // encode/decode scratch
}

// New binds a store to its slots. Call LoadActive before anything else.
func New(dev flashdev.Device, cfg Config) *Store {
	return &Store{dev: dev, cfg: cfg}
}

// Active returns a copy of the adopted configuration.
func (s *Store) Active() Blob { return s.active }

// ActiveSlot returns which slot currently backs the active config.
func (s *Store) ActiveSlot() uint8 { return s.activeSlot }

// Staged returns the staged blob, if a successful Stage is pending.
func (s *Store) Staged() (Blob, bool) { return s.staged, s.stagedValid }

// SetActive replaces the RAM-active config without persisting. This is
// the local (on-device UI) mutation path; callers durably write via
// PersistActive. Remote clients go through Stage/Commit instead.
func (s *Store) SetActive(b Blob) { s.active = b }

// Factory builds the shipping default configuration.
func Factory() Blob {
	b := Blob{
		Version: BlobVersion,
		Size:    BlobSize,
		Seq:     1,

		Wheel_mm:  2206, // 28" wheel
		Units:     UnitsMetric,
		Mode:      ModeRestricted,
		ProfileID: 0,

		MaxCurrent_dA: 150, // 15 A
		MaxSpeed_dmph: 155, // 15.5 mph (25 km/h street limit)
		LogPeriod_ms:  1000,
		SoftStart_ms:  500,

		CurveCount: 4,
	}
	b.Curve = [CurveMax]CurvePoint{
		{0, 0}, {300, 250}, {600, 500}, {1000, 1000},
	}
	return b
}

// LoadActive reads both slots, validates each and adopts the valid one
// with the higher seq. With neither slot valid, a factory default is
// built (optionally importing legacy vendor fields) and written to
// slot 0. Always leaves a usable active config.
func (s *Store) LoadActive() error {
	var best Blob
	bestSlot := -1
	for slot := 0; slot < 2; slot++ {
		if err := s.dev.ReadAt(s.buf[:], s.slotAddr(uint8(slot))); err != nil {
			continue
		}
		if !ValidRaw(s.buf[:]) {
			continue
		}
		var b Blob
		b.LoadFromBE(s.buf[:])
		if bestSlot < 0 || b.Seq > best.Seq {
			best = b
			bestSlot = slot
		}
	}
	if bestSlot >= 0 {
		s.active = best
		s.activeSlot = uint8(bestSlot)
		return nil
	}

	b := Factory()
	if s.cfg.LegacyImport != nil {
		s.cfg.LegacyImport(&b)
	}
	s.active = b
	s.activeSlot = 0
	return s.persist(0, &s.active)
}

// PersistActive bumps seq, recomputes the CRC and writes the active
// config to the slot not currently backing it, then adopts that slot.
// The previously active slot is untouched until the new one is fully
// written, so power loss mid-write leaves a valid config for the next
// boot.
func (s *Store) PersistActive() error {
	s.active.Seq++
	next := (s.activeSlot + 1) % 2
	err := s.persist(next, &s.active)
	s.activeSlot = next
	return err
}

// Stage validates an incoming blob and holds it in RAM pending Commit.
// Persisted state is never touched. The returned code is the status
// byte reported to the remote client.
func (s *Store) Stage(raw []byte) errcode.Code {
	if s.moving() {
		return errcode.CfgMoving
	}
	if len(raw) < BlobSize || raw[0] != BlobVersion || raw[1] != BlobSize {
		return errcode.CfgUnsupported
	}
	// Transport CRC: the blob must arrive sealed.
	if binary.BigEndian.Uint32(raw[crcOffset:]) != ExpectedCRC(raw) {
		return errcode.CfgUnsupported
	}

	var b Blob
	b.LoadFromBE(raw)
	if code := validateFields(&b); code != errcode.OK {
		return code
	}
	if code := s.modeGate(&b); code != errcode.OK {
		return code
	}

	b.Seq = s.active.Seq + 1
	b.StoreBE(s.buf[:]) // recompute CRC over the forced seq
	s.staged = b
	s.stagedValid = true
	return errcode.OK
}

// Commit re-validates the staged blob and durably writes it via the
// ping-pong path. raw, when non-nil, must carry the same CRC the stage
// produced; this catches a commit raced against a different staging.
// Committing without a prior successful Stage fails.
func (s *Store) Commit(raw []byte) errcode.Code {
	if !s.stagedValid {
		return errcode.CfgNotStaged
	}
	if s.moving() {
		return errcode.CfgMoving
	}
	if raw != nil {
		// The commit must carry the same content the stage approved.
		// Re-seal the incoming bytes under the staged seq; a different
		// blob (or one corrupted in transit) seals to a different CRC.
		if len(raw) < BlobSize {
			return errcode.CfgUnsupported
		}
		var b Blob
		b.LoadFromBE(raw)
		b.Seq = s.staged.Seq
		b.StoreBE(s.buf[:])
		if b.CRC32 != s.staged.CRC32 {
			return errcode.CfgUnsupported
		}
	}
	// Defense against stage/commit interleaved with other mutation:
	// the staged blob must still chain off the current active config.
	if code := validateFields(&s.staged); code != errcode.OK {
		return code
	}
	if s.staged.Seq != s.active.Seq+1 {
		return errcode.CfgPolicy
	}
	if s.active.Mode == ModeRestricted && s.staged.Mode == ModeUnrestricted &&
		s.staged.PIN != s.active.PIN {
		s.logPin(false)
		return errcode.CfgPIN
	}

	s.active = s.staged
	s.stagedValid = false
	next := (s.activeSlot + 1) % 2
	// Flash errors are soft here: CRC validation at next boot decides
	// whether the write took.
	_ = s.persist(next, &s.active)
	s.activeSlot = next
	if s.cfg.LogCommit != nil {
		s.cfg.LogCommit()
	}
	return errcode.OK
}

// modeGate enforces the PIN/rate policy on the restricted-to-
// unrestricted transition. Every attempt is logged, refused or not.
func (s *Store) modeGate(b *Blob) errcode.Code {
	if !(s.active.Mode == ModeRestricted && b.Mode == ModeUnrestricted) {
		return errcode.OK
	}
	now := s.cfg.NowMs()
	if s.pinGateArmed && now-s.lastPin_ms < PinCooldown_ms {
		s.logPin(false)
		return errcode.CfgRate
	}
	s.lastPin_ms = now
	s.pinGateArmed = true
	if b.PIN != s.active.PIN {
		s.logPin(false)
		return errcode.CfgPIN
	}
	s.logPin(true)
	return errcode.OK
}

func (s *Store) logPin(ok bool) {
	if s.cfg.LogPinAttempt != nil {
		s.cfg.LogPinAttempt(ok)
	}
}

func (s *Store) moving() bool {
	return s.cfg.Speed_dmph != nil && s.cfg.Speed_dmph() > StandstillMax_dmph
}

// persist seals b and writes it to the given slot (erase + program).
func (s *Store) persist(slot uint8, b *Blob) error {
	b.StoreBE(s.buf[:])
	addr := s.slotAddr(slot)
	if err := s.dev.EraseSector(addr); err != nil {
		return err
	}
	return flashdev.ProgramChunks(s.dev, addr, s.buf[:])
}

func (s *Store) slotAddr(slot uint8) uint32 {
	return s.cfg.SlotBase + uint32(slot)*s.cfg.SlotStride
}
