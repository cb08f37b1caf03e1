// Package norflash adapts a tinygo.org/x/drivers/flash part (SPI/QSPI
// NOR chips such as the W25Q and GD25Q series) to the storage
// subsystem's flashdev.Device contract.
package norflash

import (
	tinyflash "tinygo.org/x/drivers/flash"

	"ebikecode-go/storage/flashdev"
)

// Adapter wraps a configured *flash.Device. Not reentrant; the storage
// subsystem is the sole owner of its address ranges.
type Adapter struct {
	dev *tinyflash.Device

	// One sector of scratch for Patch; static so the adapter never
	// allocates after construction.
	sector [flashdev.SectorSize]byte
}

// New wraps an already-configured part. The part's geometry must match
// the subsystem's fixed 4 KiB / 256 B granules.
func New(dev *tinyflash.Device) *Adapter {
	if tinyflash.SectorSize != flashdev.SectorSize || tinyflash.PageSize != flashdev.PageSize {
		panic("norflash: part geometry mismatch")
	}
	return &Adapter{dev: dev}
}

func (a *Adapter) ReadAt(p []byte, addr uint32) error {
	_, err := a.dev.ReadAt(p, int64(addr))
	return err
}

func (a *Adapter) EraseSector(addr uint32) error {
	if addr%flashdev.SectorSize != 0 {
		return flashdev.ErrUnaligned
	}
	return a.dev.EraseSector(addr / flashdev.SectorSize)
}

func (a *Adapter) Program(addr uint32, p []byte) error {
	if len(p) > flashdev.PageSize ||
		int(addr%flashdev.PageSize)+len(p) > flashdev.PageSize {
		return flashdev.ErrPageOverflow
	}
	_, err := a.dev.WriteAt(p, int64(addr))
	return err
}

// Patch performs the read-modify-erase-write cycle for updates that
// need to flip bits back to 1 or straddle sector boundaries.
func (a *Adapter) Patch(addr uint32, p []byte) error {
	first := addr / flashdev.SectorSize * flashdev.SectorSize
	last := (addr + uint32(len(p)) - 1) / flashdev.SectorSize * flashdev.SectorSize
	for sec := first; sec <= last; sec += flashdev.SectorSize {
		if err := a.ReadAt(a.sector[:], sec); err != nil {
			return err
		}
		lo := uint32(0)
		if addr > sec {
			lo = addr - sec
		}
		hi := uint32(flashdev.SectorSize)
		if end := addr + uint32(len(p)); end < sec+flashdev.SectorSize {
			hi = end - sec
		}
		copy(a.sector[lo:hi], p[sec+lo-addr:])
		if err := a.EraseSector(sec); err != nil {
			return err
		}
		if err := flashdev.ProgramChunks(a, sec, a.sector[:]); err != nil {
			return err
		}
	}
	return nil
}
