// Package flashdev defines the minimal contract the persistent-state
// structures require from a raw NOR flash part. The physical driver
// (SPI/QSPI transport, chip-select, busy polling) lives behind this
// interface; drivers/norflash adapts tinygo.org/x/drivers/flash parts,
// storage/memflash provides a simulated part for tests and host tools.
package flashdev

import "errors"

const (
	// SectorSize is the fixed erase granule of the supported parts.
	SectorSize = 4096
	// PageSize bounds a single Program call.
	PageSize = 256
)

var (
	ErrOutOfRange    = errors.New("flash address out of range")
	ErrUnaligned     = errors.New("erase address not sector-aligned")
	ErrPageOverflow  = errors.New("program crosses a page boundary")
	ErrNotErased     = errors.New("program target not erased")
	ErrDeviceTimeout = errors.New("flash device timeout")
)

// Device is a raw NOR flash part. All calls are synchronous and block
// until the part reports completion or a bounded timeout elapses. A
// timeout is a soft failure: the operation may have partially applied,
// and callers recover through CRC validation on the next load, not
// through the returned error.
type Device interface {
	// ReadAt fills p starting at addr.
	ReadAt(p []byte, addr uint32) error
	// EraseSector erases the 4 KiB sector at addr (sector-aligned).
	EraseSector(addr uint32) error
	// Program writes p at addr. len(p) <= PageSize and the write must
	// not cross a page boundary; programming only clears bits.
	Program(addr uint32, p []byte) error
	// Patch performs a read-modify-erase-write of p at addr, for
	// updates that straddle sector boundaries or flip 0 bits back to 1.
	Patch(addr uint32, p []byte) error
}

// IsErased reports whether p is all 0xFF (NOR erased state).
func IsErased(p []byte) bool {
	for _, b := range p {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// ProgramChunks splits p into page-bounded Program calls starting at
// addr. The first chunk is trimmed to the page boundary so no call
// crosses a page.
func ProgramChunks(d Device, addr uint32, p []byte) error {
	for len(p) > 0 {
		n := PageSize - int(addr%PageSize)
		if n > len(p) {
			n = len(p)
		}
		if err := d.Program(addr, p[:n]); err != nil {
			return err
		}
		addr += uint32(n)
		p = p[n:]
	}
	return nil
}
