package abmeta

import (
	"testing"

	"ebikecode-go/errcode"
	"ebikecode-go/storage/flashdev"
	"ebikecode-go/storage/memflash"
	"ebikecode-go/x/crc"
)

// Test geometry: meta copies in two sectors, two small image slots.
const (
	metaBase   = 0
	metaStride = flashdev.SectorSize
	slotBase   = 2 * flashdev.SectorSize
	slotStride = 2 * flashdev.SectorSize
	devSize    = 6 * flashdev.SectorSize
)

type promoteEvent struct {
	slot uint8
	ok   bool
}

func newStore(dev flashdev.Device, events *[]promoteEvent) *Store {
	return New(dev, Config{
		MetaBase:   metaBase,
		MetaStride: metaStride,
		SlotBase:   slotBase,
		SlotStride: slotStride,
		LogPromote: func(slot uint8, ok bool) {
			if events != nil {
				*events = append(*events, promoteEvent{slot, ok})
			}
		},
	})
}

// writeImage programs a slot header plus payload into the sim.
func writeImage(t *testing.T, dev flashdev.Device, slot uint8, payload []byte, buildID uint32) {
	t.Helper()
	h := SlotHeader{
		Version:    SlotHeaderVersion,
		HeaderSize: SlotHeaderSize,
		ImageSize:  uint32(len(payload)),
		CRC32:      crc.Sum32(payload),
		BuildID:    buildID,
	}
	var hdr [SlotHeaderSize]byte
	EncodeSlotHeader(&h, hdr[:])
	base := uint32(slotBase) + uint32(slot)*slotStride
	if err := flashdev.ProgramChunks(dev, base, hdr[:]); err != nil {
		t.Fatal(err)
	}
	if err := flashdev.ProgramChunks(dev, base+SlotHeaderSize, payload); err != nil {
		t.Fatal(err)
	}
}

func testPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestLoadSynthesizesDefault(t *testing.T) {
	dev := memflash.New(devSize)
	s := newStore(dev, nil)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	m := s.Meta()
	if m.Seq != 1 || m.Active != 0 || m.Pending != SlotNone || m.LastGood != 0 {
		t.Fatalf("synthesized meta wrong: %+v", m)
	}
	// It must have been persisted: a fresh store recovers it.
	s2 := newStore(dev, nil)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.Meta() != m {
		t.Fatalf("persisted meta not recovered: %+v", s2.Meta())
	}
}

func TestMetaWritesAlternateCopies(t *testing.T) {
	dev := memflash.New(devSize)
	s := newStore(dev, nil)
	s.Load() // seq 1 -> copy 1

	var m Meta
	raw := make([]byte, MetaSize)
	dev.ReadAt(raw, metaBase+metaStride)
	if !DecodeMeta(raw, &m) || m.Seq != 1 {
		t.Fatalf("seq 1 not at copy 1: %+v", m)
	}

	s.SetPending(1) // seq 2 -> copy 0
	dev.ReadAt(raw, metaBase)
	if !DecodeMeta(raw, &m) || m.Seq != 2 || m.Pending != 1 {
		t.Fatalf("seq 2 not at copy 0: %+v", m)
	}
	// The seq-1 copy survived the write.
	dev.ReadAt(raw, metaBase+metaStride)
	if !DecodeMeta(raw, &m) || m.Seq != 1 {
		t.Fatal("previous copy destroyed by meta write")
	}
}

func TestSetPendingValidation(t *testing.T) {
	dev := memflash.New(devSize)
	s := newStore(dev, nil)
	s.Load()

	if code := s.SetPending(2); code != errcode.BadSlot {
		t.Fatalf("slot 2: %v", code)
	}
	// Pending equal to active silently downgrades to none.
	if code := s.SetPending(0); code != errcode.OK {
		t.Fatalf("set pending active: %v", code)
	}
	if m := s.Meta(); m.Pending != SlotNone {
		t.Fatalf("pending = %02x, want none", m.Pending)
	}
}

func TestPromotionHappyPath(t *testing.T) {
	dev := memflash.New(devSize)
	writeImage(t, dev, 1, testPayload(1000), 0xB001D)

	var events []promoteEvent
	s := newStore(dev, &events)
	s.Load()
	if code := s.SetPending(1); code != errcode.OK {
		t.Fatal("set pending")
	}
	seq := s.Meta().Seq

	// Reboot: a fresh store sees the pending slot and promotes it.
	s2 := newStore(dev, &events)
	s2.Load()
	if err := s2.Init(); err != nil {
		t.Fatal(err)
	}
	m := s2.Meta()
	if m.Active != 1 || m.LastGood != 0 || m.Pending != SlotNone || m.Seq != seq+1 {
		t.Fatalf("after promotion: %+v", m)
	}
	if len(events) != 1 || !events[0].ok || events[0].slot != 1 {
		t.Fatalf("promotion events: %+v", events)
	}
}

func TestInitIdempotentWithoutPending(t *testing.T) {
	dev := memflash.New(devSize)
	writeImage(t, dev, 1, testPayload(500), 1)
	s := newStore(dev, nil)
	s.Load()
	s.SetPending(1)
	s.Init()

	before := s.Meta()
	erases := dev.Erases
	// Two more Inits with no new pending: complete no-ops.
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if s.Meta() != before {
		t.Fatalf("meta changed by no-op Init: %+v", s.Meta())
	}
	if dev.Erases != erases {
		t.Fatal("no-op Init touched flash")
	}
}

func TestPromotionRejectsCorruptImage(t *testing.T) {
	dev := memflash.New(devSize)
	payload := testPayload(800)
	writeImage(t, dev, 1, payload, 2)
	// Damage one payload byte after the header was sealed.
	dev.Bytes()[slotBase+slotStride+SlotHeaderSize+100] &= 0x0F

	var events []promoteEvent
	s := newStore(dev, &events)
	s.Load()
	s.SetPending(1)
	seq := s.Meta().Seq

	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	m := s.Meta()
	if m.Active != 0 || m.LastGood != 0 {
		t.Fatalf("failed promotion touched active/last-good: %+v", m)
	}
	if m.Pending != SlotNone {
		t.Fatal("pending not cleared after failed promotion")
	}
	if m.Seq != seq+1 {
		t.Fatalf("seq = %d, want %d", m.Seq, seq+1)
	}
	if len(events) != 1 || events[0].ok {
		t.Fatalf("promotion events: %+v", events)
	}
}

func TestValidateSlotBounds(t *testing.T) {
	dev := memflash.New(devSize)
	s := newStore(dev, nil)
	s.Load()

	// Header claiming an image larger than the slot stride.
	h := SlotHeader{
		Version:    SlotHeaderVersion,
		HeaderSize: SlotHeaderSize,
		ImageSize:  slotStride,
		CRC32:      0,
	}
	var hdr [SlotHeaderSize]byte
	EncodeSlotHeader(&h, hdr[:])
	flashdev.ProgramChunks(dev, slotBase, hdr[:])
	if s.ValidateSlot(0) {
		t.Fatal("oversized image accepted")
	}
	if s.ValidateSlot(SlotNone) {
		t.Fatal("slot none validated")
	}
}

func TestLoadPicksHigherSeqCopy(t *testing.T) {
	dev := memflash.New(devSize)
	s := newStore(dev, nil)
	s.Load()        // seq 1
	s.SetPending(1) // seq 2
	s.SetPending(SlotNone)

	s2 := newStore(dev, nil)
	s2.Load()
	if s2.Meta().Seq != 3 {
		t.Fatalf("seq = %d, want 3 (higher copy)", s2.Meta().Seq)
	}
}
