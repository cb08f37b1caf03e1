// Package crashdump persists one fixed-size fault snapshot: CPU fault
// state plus the tail of the event log at capture time. The capture
// path runs from fault-handler context with interrupts masked, so it
// allocates nothing, never recurses, and touches flash exactly twice
// (one erase, one program).
package crashdump

import (
	"encoding/binary"

	"ebikecode-go/storage/flashdev"
	"ebikecode-go/storage/reclog"
	"ebikecode-go/x/crc"
)

const (
	HeaderSize = 72
	MaxEvents  = 4
	// RecordSize is the full on-flash record: header plus the embedded
	// event-record area, present even when fewer events were captured.
	RecordSize = HeaderSize + MaxEvents*reclog.EventRecordSize

	Version = 1

	crcOffset = 12
)

// Magic is the region's ASCII tag.
var Magic = [4]byte{'C', 'R', 'S', 'H'}

// FaultRegs carries the six Cortex-M fault/status registers. On
// hardware these are read straight from the memory-mapped SCB block;
// hosts and tests inject stub values.
type FaultRegs struct {
	CFSR  uint32
	HFSR  uint32
	DFSR  uint32
	MMFAR uint32
	BFAR  uint32
	AFSR  uint32
}

// Dump is the decoded snapshot.
type Dump struct {
	Flags uint8
	Seq   uint32
	Ms    uint32

	SP  uint32
	LR  uint32
	PC  uint32
	PSR uint32

	Regs FaultRegs

	EventCount      uint8
	EventRecordSize uint8
	EventSeq        uint32
	Events          [MaxEvents]reclog.EventRecord
}

// Config binds the store to its single-sector region and collaborators.
type Config struct {
	Base uint32 // sector-aligned; the region is always overwritten whole

	NowMs     func() uint32
	FaultRegs func() FaultRegs

	// Events is read (via its flash-only Copy path) to embed recent
	// context; it is never written during capture.
	Events *reclog.Log
}

// Store manages the crash-dump region. Capture is the only storage
// call allowed with interrupts disabled.
type Store struct {
	dev flashdev.Device
	cfg Config

	rec  [RecordSize]byte // capture build buffer; static, no heap
	read [RecordSize]byte // load scratch
}

func New(dev flashdev.Device, cfg Config) *Store {
	return &Store{dev: dev, cfg: cfg}
}

// Capture snapshots the fault state and overwrites the region. Called
// from fault-handler context: interrupts are masked, so the flash
// driver's wait loops must poll the timer flag rather than rely on the
// tick interrupt. Returns the flash error, which the handler can only
// ignore.
func (s *Store) Capture(sp, lr, pc, psr uint32) error {
	// Chain the capture counter off whatever is in the region now.
	var prev Dump
	seq := uint32(1)
	if s.Load(&prev) {
		seq = prev.Seq + 1
	}

	for i := range s.rec {
		s.rec[i] = 0
	}
	n := uint32(0)
	var evSeq uint32
	if s.cfg.Events != nil {
		meta := s.cfg.Events.Meta()
		off := uint32(0)
		if meta.Count > MaxEvents {
			off = meta.Count - MaxEvents
		}
		n, _ = s.cfg.Events.Copy(off, MaxEvents, s.rec[HeaderSize:])
		evSeq = meta.Seq
	}

	copy(s.rec[0:4], Magic[:])
	s.rec[4] = Version
	s.rec[5] = HeaderSize
	s.rec[6] = 0 // flags
	s.rec[7] = uint8(n)
	binary.BigEndian.PutUint32(s.rec[8:], seq)
	// crc at 12, zero while hashing
	if s.cfg.NowMs != nil {
		binary.BigEndian.PutUint32(s.rec[16:], s.cfg.NowMs())
	}
	binary.BigEndian.PutUint32(s.rec[20:], sp)
	binary.BigEndian.PutUint32(s.rec[24:], lr)
	binary.BigEndian.PutUint32(s.rec[28:], pc)
	binary.BigEndian.PutUint32(s.rec[32:], psr)
	var fr FaultRegs
	if s.cfg.FaultRegs != nil {
		fr = s.cfg.FaultRegs()
	}
	binary.BigEndian.PutUint32(s.rec[36:], fr.CFSR)
	binary.BigEndian.PutUint32(s.rec[40:], fr.HFSR)
	binary.BigEndian.PutUint32(s.rec[44:], fr.DFSR)
	binary.BigEndian.PutUint32(s.rec[48:], fr.MMFAR)
	binary.BigEndian.PutUint32(s.rec[52:], fr.BFAR)
	binary.BigEndian.PutUint32(s.rec[56:], fr.AFSR)
	s.rec[60] = reclog.EventRecordSize
	binary.BigEndian.PutUint32(s.rec[64:], evSeq)
	binary.BigEndian.PutUint32(s.rec[crcOffset:], crc.Sum32(s.rec[:]))

	if err := s.dev.EraseSector(s.cfg.Base); err != nil {
		return err
	}
	return flashdev.ProgramChunks(s.dev, s.cfg.Base, s.rec[:])
}

// Load reads the region into out and reports validity. An erased or
// corrupt region loads as all-zero with false.
func (s *Store) Load(out *Dump) bool {
	*out = Dump{}
	if err := s.dev.ReadAt(s.read[:], s.cfg.Base); err != nil {
		return false
	}
	raw := s.read[:]
	if [4]byte(raw[0:4]) != Magic || raw[4] != Version || raw[5] != HeaderSize {
		return false
	}
	stored := binary.BigEndian.Uint32(raw[crcOffset:])
	binary.BigEndian.PutUint32(raw[crcOffset:], 0)
	sum := crc.Sum32(raw)
	binary.BigEndian.PutUint32(raw[crcOffset:], stored)
	if sum != stored {
		return false
	}

	out.Flags = raw[6]
	out.EventCount = raw[7]
	out.Seq = binary.BigEndian.Uint32(raw[8:])
	out.Ms = binary.BigEndian.Uint32(raw[16:])
	out.SP = binary.BigEndian.Uint32(raw[20:])
	out.LR = binary.BigEndian.Uint32(raw[24:])
	out.PC = binary.BigEndian.Uint32(raw[28:])
	out.PSR = binary.BigEndian.Uint32(raw[32:])
	out.Regs.CFSR = binary.BigEndian.Uint32(raw[36:])
	out.Regs.HFSR = binary.BigEndian.Uint32(raw[40:])
	out.Regs.DFSR = binary.BigEndian.Uint32(raw[44:])
	out.Regs.MMFAR = binary.BigEndian.Uint32(raw[48:])
	out.Regs.BFAR = binary.BigEndian.Uint32(raw[52:])
	out.Regs.AFSR = binary.BigEndian.Uint32(raw[56:])
	out.EventRecordSize = raw[60]
	out.EventSeq = binary.BigEndian.Uint32(raw[64:])
	if out.EventCount > MaxEvents {
		out.EventCount = MaxEvents
	}
	for i := 0; i < int(out.EventCount); i++ {
		off := HeaderSize + i*reclog.EventRecordSize
		out.Events[i].DecodeFrom(raw[off : off+reclog.EventRecordSize])
	}
	return true
}

// ClearStorage zero-fills and rewrites the region, dropping any stored
// dump. Operator command, not part of the fault path.
func (s *Store) ClearStorage() error {
	if err := s.dev.EraseSector(s.cfg.Base); err != nil {
		return err
	}
	for i := range s.rec {
		s.rec[i] = 0
	}
	return flashdev.ProgramChunks(s.dev, s.cfg.Base, s.rec[:])
}
