// Package memflash simulates a NOR flash part in RAM: byte-addressed
// reads, 4 KiB sector erase, page-bounded programming with AND
// semantics (bits only clear), plus fault injection for power-loss
// tests. It backs package tests, the host tool's image files, and the
// demo binary.
package memflash

import "ebikecode-go/storage/flashdev"

// Sim is a simulated NOR part. Not safe for concurrent use, matching
// the single-writer contract of the real device.
type Sim struct {
	mem []byte

	// FailAfter, when > 0, counts down per erase/program; the op that
	// decrements it to 0 fails with ErrDeviceTimeout. With PartialWrite
	// set, a failing program applies roughly half its payload first,
	// modeling power loss mid-write.
	FailAfter    int
	PartialWrite bool

	// Op counters for tests.
	Reads    int
	Erases   int
	Programs int
}

// New returns an erased (all 0xFF) part of the given size.
// Size must be a sector multiple.
func New(size int) *Sim {
	if size <= 0 || size%flashdev.SectorSize != 0 {
		panic("memflash: size must be a positive sector multiple")
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Sim{mem: mem}
}

// NewFromBytes wraps an existing device dump. The slice is used
// directly, so Bytes() aliases it. Length must be a sector multiple.
func NewFromBytes(buf []byte) *Sim {
	if len(buf) == 0 || len(buf)%flashdev.SectorSize != 0 {
		panic("memflash: dump length must be a positive sector multiple")
	}
	return &Sim{mem: buf}
}

// Bytes exposes the raw array, e.g. for byte-identical region checks
// or writing a device dump back to disk.
func (s *Sim) Bytes() []byte { return s.mem }

// Size returns the part size in bytes.
func (s *Sim) Size() int { return len(s.mem) }

func (s *Sim) ReadAt(p []byte, addr uint32) error {
	s.Reads++
	if int(addr)+len(p) > len(s.mem) {
		return flashdev.ErrOutOfRange
	}
	copy(p, s.mem[addr:int(addr)+len(p)])
	return nil
}

func (s *Sim) EraseSector(addr uint32) error {
	if addr%flashdev.SectorSize != 0 {
		return flashdev.ErrUnaligned
	}
	if int(addr)+flashdev.SectorSize > len(s.mem) {
		return flashdev.ErrOutOfRange
	}
	if s.failStep() {
		return flashdev.ErrDeviceTimeout
	}
	s.Erases++
	for i := 0; i < flashdev.SectorSize; i++ {
		s.mem[int(addr)+i] = 0xFF
	}
	return nil
}

func (s *Sim) Program(addr uint32, p []byte) error {
	if len(p) > flashdev.PageSize {
		return flashdev.ErrPageOverflow
	}
	if int(addr%flashdev.PageSize)+len(p) > flashdev.PageSize {
		return flashdev.ErrPageOverflow
	}
	if int(addr)+len(p) > len(s.mem) {
		return flashdev.ErrOutOfRange
	}
	if s.failStep() {
		if s.PartialWrite {
			s.apply(addr, p[:len(p)/2])
		}
		return flashdev.ErrDeviceTimeout
	}
	s.Programs++
	s.apply(addr, p)
	return nil
}

func (s *Sim) Patch(addr uint32, p []byte) error {
	if int(addr)+len(p) > len(s.mem) {
		return flashdev.ErrOutOfRange
	}
	first := addr / flashdev.SectorSize * flashdev.SectorSize
	last := (addr + uint32(len(p)) - 1) / flashdev.SectorSize * flashdev.SectorSize
	for sec := first; sec <= last; sec += flashdev.SectorSize {
		var buf [flashdev.SectorSize]byte
		if err := s.ReadAt(buf[:], sec); err != nil {
			return err
		}
		lo := 0
		if addr > sec {
			lo = int(addr - sec)
		}
		hi := flashdev.SectorSize
		if end := addr + uint32(len(p)); end < sec+flashdev.SectorSize {
			hi = int(end - sec)
		}
		copy(buf[lo:hi], p[sec+uint32(lo)-addr:])
		if err := s.EraseSector(sec); err != nil {
			return err
		}
		if err := flashdev.ProgramChunks(s, sec, buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// apply performs the NOR cell update: programming can only clear bits.
func (s *Sim) apply(addr uint32, p []byte) {
	for i, b := range p {
		s.mem[int(addr)+i] &= b
	}
}

func (s *Sim) failStep() bool {
	if s.FailAfter > 0 {
		s.FailAfter--
		if s.FailAfter == 0 {
			return true
		}
	}
	return false
}
