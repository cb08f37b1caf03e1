// Package abmeta keeps the A/B firmware-update state: a small,
// sequence-numbered pointer record selecting which of two large image
// slots is active/pending, held in two redundant copies so one always
// survives an interrupted write, plus the per-slot image headers and
// their streamed payload CRC validation.
package abmeta

import (
	"encoding/binary"

	"ebikecode-go/errcode"
	"ebikecode-go/storage/flashdev"
	"ebikecode-go/x/crc"
)

const (
	MetaSize    = 24
	MetaVersion = 1

	SlotHeaderSize    = 32
	SlotHeaderVersion = 1

	// SlotNone marks "no pending slot".
	SlotNone uint8 = 0xFF

	metaCRCOffset = 20
	slotCRCOffset = 12

	// crcChunk bounds RAM use while streaming an image payload CRC.
	crcChunk = 256
)

// ASCII region tags.
var (
	MetaMagic = [4]byte{'A', 'B', 'M', 'T'}
	SlotMagic = [4]byte{'A', 'B', 'S', 'L'}
)

// Meta is the decoded pointer record.
type Meta struct {
	Seq      uint32
	Active   uint8
	Pending  uint8 // SlotNone when no update is staged
	LastGood uint8
	Flags    uint8
}

// SlotHeader prefixes each image slot. CRC32 covers the payload that
// follows the header, not the header itself.
type SlotHeader struct {
	Version    uint8
	HeaderSize uint8
	ImageSize  uint32
	CRC32      uint32
	BuildID    uint32
	Flags      uint32
}

// EncodeMeta writes the 24-byte big-endian form with CRC computed.
func EncodeMeta(m *Meta, out []byte) {
	for i := 0; i < MetaSize; i++ {
		out[i] = 0
	}
	copy(out[0:4], MetaMagic[:])
	out[4] = MetaVersion
	out[5] = MetaSize
	binary.BigEndian.PutUint32(out[8:], m.Seq)
	out[12] = m.Active
	out[13] = m.Pending
	out[14] = m.LastGood
	out[15] = m.Flags
	binary.BigEndian.PutUint32(out[metaCRCOffset:], crc.Sum32(out[:metaCRCOffset]))
}

// DecodeMeta validates magic/version/size/CRC and decodes on success.
func DecodeMeta(raw []byte, m *Meta) bool {
	if len(raw) < MetaSize {
		return false
	}
	if [4]byte(raw[0:4]) != MetaMagic || raw[4] != MetaVersion || raw[5] != MetaSize {
		return false
	}
	if binary.BigEndian.Uint32(raw[metaCRCOffset:]) != crc.Sum32(raw[:metaCRCOffset]) {
		return false
	}
	m.Seq = binary.BigEndian.Uint32(raw[8:])
	m.Active = raw[12]
	m.Pending = raw[13]
	m.LastGood = raw[14]
	m.Flags = raw[15]
	return true
}

// EncodeSlotHeader writes the 32-byte big-endian header.
func EncodeSlotHeader(h *SlotHeader, out []byte) {
	for i := 0; i < SlotHeaderSize; i++ {
		out[i] = 0
	}
	copy(out[0:4], SlotMagic[:])
	out[4] = h.Version
	out[5] = h.HeaderSize
	binary.BigEndian.PutUint32(out[8:], h.ImageSize)
	binary.BigEndian.PutUint32(out[slotCRCOffset:], h.CRC32)
	binary.BigEndian.PutUint32(out[16:], h.BuildID)
	binary.BigEndian.PutUint32(out[20:], h.Flags)
}

// DecodeSlotHeader checks magic/version and decodes on success. The
// payload CRC is not verified here; see Store.ValidateSlot.
func DecodeSlotHeader(raw []byte, h *SlotHeader) bool {
	if len(raw) < SlotHeaderSize {
		return false
	}
	if [4]byte(raw[0:4]) != SlotMagic || raw[4] != SlotHeaderVersion {
		return false
	}
	h.Version = raw[4]
	h.HeaderSize = raw[5]
	h.ImageSize = binary.BigEndian.Uint32(raw[8:])
	h.CRC32 = binary.BigEndian.Uint32(raw[slotCRCOffset:])
	h.BuildID = binary.BigEndian.Uint32(raw[16:])
	h.Flags = binary.BigEndian.Uint32(raw[20:])
	return true
}

// Config fixes the store to its flash regions. Each meta copy owns a
// whole sector so the copy not being rewritten is never disturbed.
type Config struct {
	MetaBase   uint32 // copy 0; copy 1 at MetaBase+MetaStride
	MetaStride uint32 // sector multiple
	SlotBase   uint32 // image slot 0; slot 1 at SlotBase+SlotStride
	SlotStride uint32

	// LogPromote records promotion outcomes to the event log.
	LogPromote func(slot uint8, ok bool)
}

// Store is the A/B metadata manager. Not reentrant.
type Store struct {
	dev  flashdev.Device
	cfg  Config
	meta Meta

	buf   [MetaSize]byte
	hdr   [SlotHeaderSize]byte
	chunk [crcChunk]byte
}

func New(dev flashdev.Device, cfg Config) *Store {
	return &Store{dev: dev, cfg: cfg}
}

// Meta returns a copy of the current pointer record.
func (s *Store) Meta() Meta { return s.meta }

// SlotAddr returns the flash address of an image slot.
func (s *Store) SlotAddr(slot uint8) uint32 {
	return s.cfg.SlotBase + uint32(slot)*s.cfg.SlotStride
}

// Load reads both meta copies and keeps the valid one with the higher
// seq. With neither valid a default pointing at slot 0 is synthesized
// and persisted. A pending equal to active violates the invariant and
// is cleared on the spot.
func (s *Store) Load() error {
	got := false
	for copyIdx := uint32(0); copyIdx < 2; copyIdx++ {
		if err := s.dev.ReadAt(s.buf[:], s.cfg.MetaBase+copyIdx*s.cfg.MetaStride); err != nil {
			continue
		}
		var m Meta
		if !DecodeMeta(s.buf[:], &m) {
			continue
		}
		if !got || m.Seq > s.meta.Seq {
			s.meta = m
			got = true
		}
	}
	if !got {
		s.meta = Meta{Seq: 1, Active: 0, Pending: SlotNone, LastGood: 0}
		return s.persist()
	}
	if s.meta.Pending == s.meta.Active {
		s.meta.Pending = SlotNone
	}
	return nil
}

// Init runs the boot-time promotion check. A set pending slot is
// validated (header plus streamed payload CRC); on success it becomes
// active with the old active retained as last-good, on failure only
// the pending mark is dropped. The active slot is never touched by a
// failed promotion, and Init without a pending slot is a no-op.
func (s *Store) Init() error {
	if s.meta.Pending == SlotNone || s.meta.Pending == s.meta.Active {
		return nil
	}
	slot := s.meta.Pending
	ok := s.ValidateSlot(slot)
	if ok {
		s.meta.LastGood = s.meta.Active
		s.meta.Active = slot
	}
	s.meta.Pending = SlotNone
	s.meta.Seq++
	err := s.persist()
	if s.cfg.LogPromote != nil {
		s.cfg.LogPromote(slot, ok)
	}
	return err
}

// SetPending stages a slot for promotion at the next Init. The image
// itself is not validated here. Pending equal to the active slot is
// silently downgraded to "none".
func (s *Store) SetPending(slot uint8) errcode.Code {
	if slot != 0 && slot != 1 && slot != SlotNone {
		return errcode.BadSlot
	}
	if slot == s.meta.Active {
		slot = SlotNone
	}
	s.meta.Pending = slot
	s.meta.Seq++
	if err := s.persist(); err != nil {
		return errcode.Timeout
	}
	return errcode.OK
}

// ValidateSlot checks a slot's header and streams the CRC-32 over its
// full payload in bounded chunks; the image is never held in RAM
// whole.
func (s *Store) ValidateSlot(slot uint8) bool {
	if slot != 0 && slot != 1 {
		return false
	}
	base := s.SlotAddr(slot)
	if err := s.dev.ReadAt(s.hdr[:], base); err != nil {
		return false
	}
	var h SlotHeader
	if !DecodeSlotHeader(s.hdr[:], &h) {
		return false
	}
	if h.HeaderSize != SlotHeaderSize ||
		uint32(h.HeaderSize)+h.ImageSize > s.cfg.SlotStride {
		return false
	}
	var sum uint32
	addr := base + uint32(h.HeaderSize)
	left := h.ImageSize
	for left > 0 {
		n := uint32(crcChunk)
		if n > left {
			n = left
		}
		if err := s.dev.ReadAt(s.chunk[:n], addr); err != nil {
			return false
		}
		sum = crc.Update32(sum, s.chunk[:n])
		addr += n
		left -= n
	}
	return sum == h.CRC32
}

// persist writes the meta at MetaBase + (seq&1)*MetaStride, so the two
// copies alternate and the previous one survives an interrupted write.
func (s *Store) persist() error {
	EncodeMeta(&s.meta, s.buf[:])
	addr := s.cfg.MetaBase + (s.meta.Seq&1)*s.cfg.MetaStride
	if err := s.dev.EraseSector(addr); err != nil {
		return err
	}
	return flashdev.ProgramChunks(s.dev, addr, s.buf[:])
}
