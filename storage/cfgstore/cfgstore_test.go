package cfgstore

import (
	"bytes"
	"testing"

	"ebikecode-go/errcode"
	"ebikecode-go/storage/flashdev"
	"ebikecode-go/storage/memflash"
)

// testEnv bundles a store with controllable time/speed and a PIN
// attempt counter.
type testEnv struct {
	dev     *memflash.Sim
	st      *Store
	now     uint32
	speed   uint16
	pinLog  int
	pinOKs  int
	commits int
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{dev: memflash.New(2 * flashdev.SectorSize)}
	e.st = New(e.dev, Config{
		SlotBase:   0,
		SlotStride: flashdev.SectorSize,
		NowMs:      func() uint32 { return e.now },
		Speed_dmph: func() uint16 { return e.speed },
		LogPinAttempt: func(ok bool) {
			e.pinLog++
			if ok {
				e.pinOKs++
			}
		},
		LogCommit: func() { e.commits++ },
	})
	if err := e.st.LoadActive(); err != nil {
		t.Fatal(err)
	}
	return e
}

// seal encodes b with a fresh CRC, as a well-behaved client would.
func seal(b Blob) []byte {
	raw := make([]byte, BlobSize)
	b.StoreBE(raw)
	return raw
}

func TestBlobRoundTrip(t *testing.T) {
	b := Factory()
	b.Seq = 7
	b.PIN = 1234
	raw := make([]byte, BlobSize)
	b.StoreBE(raw)

	if ExpectedCRC(raw) != b.CRC32 {
		t.Fatalf("ExpectedCRC = %08x, sealed = %08x", ExpectedCRC(raw), b.CRC32)
	}
	var c Blob
	c.LoadFromBE(raw)
	if c != b {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", c, b)
	}
}

func TestFactoryFallback(t *testing.T) {
	e := newEnv(t)
	a := e.st.Active()
	if a.Seq != 1 || a.Mode != ModeRestricted {
		t.Fatalf("factory default wrong: %+v", a)
	}
	// The default must have been persisted to slot 0 and survive a
	// reboot.
	st2 := New(e.dev, Config{SlotBase: 0, SlotStride: flashdev.SectorSize, NowMs: func() uint32 { return 0 }})
	if err := st2.LoadActive(); err != nil {
		t.Fatal(err)
	}
	if st2.Active() != a || st2.ActiveSlot() != 0 {
		t.Fatalf("reboot did not recover the default (slot %d)", st2.ActiveSlot())
	}
}

func TestLegacyImport(t *testing.T) {
	dev := memflash.New(2 * flashdev.SectorSize)
	st := New(dev, Config{
		SlotBase:   0,
		SlotStride: flashdev.SectorSize,
		NowMs:      func() uint32 { return 0 },
		LegacyImport: func(b *Blob) {
			b.Wheel_mm = 2075
			b.Units = UnitsImperial
		},
	})
	if err := st.LoadActive(); err != nil {
		t.Fatal(err)
	}
	if a := st.Active(); a.Wheel_mm != 2075 || a.Units != UnitsImperial {
		t.Fatalf("legacy fields not imported: %+v", a)
	}
}

func TestPersistAlternatesSlots(t *testing.T) {
	e := newEnv(t)
	slot0 := append([]byte(nil), e.dev.Bytes()[:BlobSize]...)

	if err := e.st.PersistActive(); err != nil {
		t.Fatal(err)
	}
	if e.st.ActiveSlot() != 1 {
		t.Fatalf("slot = %d, want 1", e.st.ActiveSlot())
	}
	// Slot 0 must be byte-for-byte untouched by the write to slot 1.
	if !bytes.Equal(e.dev.Bytes()[:BlobSize], slot0) {
		t.Fatal("slot 0 changed while writing slot 1")
	}

	slot1 := append([]byte(nil), e.dev.Bytes()[flashdev.SectorSize:flashdev.SectorSize+BlobSize]...)
	if err := e.st.PersistActive(); err != nil {
		t.Fatal(err)
	}
	if e.st.ActiveSlot() != 0 {
		t.Fatalf("slot = %d, want 0", e.st.ActiveSlot())
	}
	if !bytes.Equal(e.dev.Bytes()[flashdev.SectorSize:flashdev.SectorSize+BlobSize], slot1) {
		t.Fatal("slot 1 changed while writing slot 0")
	}
}

func TestLoadPrefersHigherSeq(t *testing.T) {
	e := newEnv(t)
	e.st.PersistActive() // slot 1, seq 2

	st2 := New(e.dev, Config{SlotBase: 0, SlotStride: flashdev.SectorSize, NowMs: func() uint32 { return 0 }})
	if err := st2.LoadActive(); err != nil {
		t.Fatal(err)
	}
	if st2.ActiveSlot() != 1 || st2.Active().Seq != 2 {
		t.Fatalf("adopted slot %d seq %d, want slot 1 seq 2", st2.ActiveSlot(), st2.Active().Seq)
	}
}

func TestStageCommitHappyPath(t *testing.T) {
	e := newEnv(t)
	b := e.st.Active()
	b.ProfileID = 2
	b.Theme = 1
	raw := seal(b)

	if code := e.st.Stage(raw); code != errcode.OK {
		t.Fatalf("stage: %v", code)
	}
	staged, ok := e.st.Staged()
	if !ok || staged.Seq != e.st.Active().Seq+1 {
		t.Fatalf("staged seq = %d, want active+1", staged.Seq)
	}
	if code := e.st.Commit(raw); code != errcode.OK {
		t.Fatalf("commit: %v", code)
	}
	if a := e.st.Active(); a.ProfileID != 2 || a.Seq != 2 {
		t.Fatalf("active after commit: %+v", a)
	}
	if e.commits != 1 {
		t.Fatalf("commit events = %d, want 1", e.commits)
	}
	// Staged is consumed.
	if code := e.st.Commit(nil); code != errcode.CfgNotStaged {
		t.Fatalf("second commit: %v", code)
	}
}

func TestStageRejectsTransportCorruption(t *testing.T) {
	e := newEnv(t)
	before := e.st.Active()
	b := before
	b.Theme = 2
	raw := seal(b)
	raw[14] ^= 0x01 // damage after sealing

	if code := e.st.Stage(raw); code != errcode.CfgUnsupported {
		t.Fatalf("stage of corrupt blob: %v", code)
	}
	if e.st.Active() != before {
		t.Fatal("active mutated by rejected stage")
	}
	if _, ok := e.st.Staged(); ok {
		t.Fatal("corrupt blob reached the staging buffer")
	}
}

func TestStageRejectsRangeAndCurve(t *testing.T) {
	e := newEnv(t)

	b := e.st.Active()
	b.MaxSpeed_dmph = MaxSpeedCap_dmph + 1
	if code := e.st.Stage(seal(b)); code != errcode.CfgRange {
		t.Fatalf("over-cap speed: %v", code)
	}

	b = e.st.Active()
	b.CurveCount = 3
	b.Curve = [CurveMax]CurvePoint{{0, 0}, {100, 50}, {100, 80}}
	if code := e.st.Stage(seal(b)); code != errcode.CfgMonotonic {
		t.Fatalf("non-monotonic curve: %v", code)
	}

	b = e.st.Active()
	b.ButtonFlags = 0x80
	if code := e.st.Stage(seal(b)); code != errcode.CfgPolicy {
		t.Fatalf("disallowed flag bits: %v", code)
	}
}

func TestCommitWithoutStageFails(t *testing.T) {
	e := newEnv(t)
	if code := e.st.Commit(nil); code != errcode.CfgNotStaged {
		t.Fatalf("commit without stage: %v", code)
	}
}

func TestPINGateAndRateLimit(t *testing.T) {
	e := newEnv(t)
	a := e.st.Active()
	a.PIN = 1234
	e.st.SetActive(a)
	e.now = 10000

	// Wrong PIN on the restricted -> unrestricted transition.
	b := e.st.Active()
	b.Mode = ModeUnrestricted
	b.PIN = 9999
	if code := e.st.Stage(seal(b)); code != errcode.CfgPIN {
		t.Fatalf("wrong PIN: %v", code)
	}
	if e.pinLog != 1 || e.pinOKs != 0 {
		t.Fatalf("pin log %d/%d, want 1 failed attempt", e.pinLog, e.pinOKs)
	}

	// Inside the cooldown the retry is rate-limited even with the
	// correct PIN.
	e.now += PinCooldown_ms / 2
	b.PIN = 1234
	if code := e.st.Stage(seal(b)); code != errcode.CfgRate {
		t.Fatalf("retry inside cooldown: %v", code)
	}
	if e.pinLog != 2 {
		t.Fatalf("rate-limited attempt not logged (%d)", e.pinLog)
	}

	// After the window the correct PIN goes through.
	e.now += PinCooldown_ms
	if code := e.st.Stage(seal(b)); code != errcode.OK {
		t.Fatalf("correct PIN after cooldown: %v", code)
	}
	if e.pinOKs != 1 {
		t.Fatalf("successful attempt not logged ok (%d)", e.pinOKs)
	}
	if code := e.st.Commit(seal(b)); code != errcode.OK {
		t.Fatalf("commit: %v", code)
	}
	if e.st.Active().Mode != ModeUnrestricted {
		t.Fatal("mode change not applied")
	}
}

func TestCommitPinRecheckIsLogged(t *testing.T) {
	e := newEnv(t)
	a := e.st.Active()
	a.PIN = 1234
	e.st.SetActive(a)
	e.now = 10000

	b := e.st.Active()
	b.Mode = ModeUnrestricted
	if code := e.st.Stage(seal(b)); code != errcode.OK {
		t.Fatalf("stage: %v", code)
	}
	logged := e.pinLog

	// A local PIN change between stage and commit invalidates the gate;
	// the commit-time re-check must refuse and log the attempt.
	a.PIN = 5678
	e.st.SetActive(a)
	if code := e.st.Commit(seal(b)); code != errcode.CfgPIN {
		t.Fatalf("commit after PIN change: %v", code)
	}
	if e.pinLog != logged+1 || e.pinOKs != 1 {
		t.Fatalf("pin log %d/%d, want the refused commit attempt logged",
			e.pinLog, e.pinOKs)
	}
}

func TestMovingVehicleRefusal(t *testing.T) {
	e := newEnv(t)
	b := e.st.Active()
	b.Theme = 1
	raw := seal(b)

	e.speed = 100 // 10 mph
	if code := e.st.Stage(raw); code != errcode.CfgMoving {
		t.Fatalf("stage while moving: %v", code)
	}
	e.speed = 0
	if code := e.st.Stage(raw); code != errcode.OK {
		t.Fatalf("stage at standstill: %v", code)
	}
	e.speed = 100
	if code := e.st.Commit(raw); code != errcode.CfgMoving {
		t.Fatalf("commit while moving: %v", code)
	}
}

func TestCommitRejectsDifferentBlob(t *testing.T) {
	e := newEnv(t)
	b := e.st.Active()
	b.Theme = 1
	if code := e.st.Stage(seal(b)); code != errcode.OK {
		t.Fatal("stage failed")
	}
	other := e.st.Active()
	other.Theme = 3
	if code := e.st.Commit(seal(other)); code != errcode.CfgUnsupported {
		t.Fatalf("commit of different blob: %v", code)
	}
}

func TestPowerLossDuringPersistKeepsOldSlot(t *testing.T) {
	e := newEnv(t)
	oldActive := e.st.Active()

	// The erase of the target slot fails; the previously active slot
	// was never touched, so the next boot recovers it.
	e.dev.FailAfter = 1
	e.dev.PartialWrite = true
	_ = e.st.PersistActive()

	st2 := New(e.dev, Config{SlotBase: 0, SlotStride: flashdev.SectorSize, NowMs: func() uint32 { return 0 }})
	if err := st2.LoadActive(); err != nil {
		t.Fatal(err)
	}
	if st2.Active() != oldActive || st2.ActiveSlot() != 0 {
		t.Fatalf("recovered %+v from slot %d, want the pre-write config in slot 0",
			st2.Active().Seq, st2.ActiveSlot())
	}
}
