// Package storage ties the persistent-state structures together: the
// flash region layout, and the Store context that owns the config
// store, the two logs, the A/B update metadata and the crash dump.
//
// Nothing here is reentrant. The Store is built once at boot and then
// driven by a single logical caller: the main control loop, or the
// fault handler through CrashCapture (a fault handler never returns to
// the loop it interrupted, so the two never overlap).
package storage

import (
	"errors"

	"ebikecode-go/storage/abmeta"
	"ebikecode-go/storage/flashdev"
	"ebikecode-go/storage/reclog"
)

var (
	ErrLayoutAlign   = errors.New("region not sector-aligned")
	ErrLayoutOverlap = errors.New("flash regions overlap")
	ErrLayoutSize    = errors.New("region contents exceed region size")
)

// Layout assigns every structure its fixed, disjoint flash region.
// All offsets are relative to the device start and sector-aligned.
type Layout struct {
	ConfigBase   uint32 // slot 0; slot 1 at ConfigBase+ConfigStride
	ConfigStride uint32 // one sector per slot

	EventBase    uint32
	EventSectors uint32
	EventCap     uint32 // records

	StreamBase    uint32
	StreamSectors uint32
	StreamCap     uint32 // records

	CrashBase uint32 // one sector

	ABMetaBase   uint32 // meta copy 0; copy 1 at ABMetaBase+ABMetaStride
	ABMetaStride uint32 // one sector per copy

	ABSlotBase   uint32 // image slot 0; slot 1 at ABSlotBase+ABSlotStride
	ABSlotStride uint32
}

// DefaultLayout is the production map for a 512 KiB part.
func DefaultLayout() Layout {
	return Layout{
		ConfigBase:   0x00000,
		ConfigStride: 0x01000,

		EventBase:    0x02000,
		EventSectors: 2,
		EventCap:     256,

		StreamBase:    0x04000,
		StreamSectors: 3,
		StreamCap:     512,

		CrashBase: 0x07000,

		ABMetaBase:   0x08000,
		ABMetaStride: 0x01000,

		ABSlotBase:   0x10000,
		ABSlotStride: 0x38000,
	}
}

type region struct {
	base uint32
	size uint32
}

func (l Layout) regions() []region {
	return []region{
		{l.ConfigBase, 2 * l.ConfigStride},
		{l.EventBase, l.EventSectors * flashdev.SectorSize},
		{l.StreamBase, l.StreamSectors * flashdev.SectorSize},
		{l.CrashBase, flashdev.SectorSize},
		{l.ABMetaBase, 2 * l.ABMetaStride},
		{l.ABSlotBase, 2 * l.ABSlotStride},
	}
}

// Validate checks alignment, record capacities against region sizes,
// and pairwise region disjointness.
func (l Layout) Validate() error {
	for _, r := range l.regions() {
		if r.base%flashdev.SectorSize != 0 || r.size == 0 || r.size%flashdev.SectorSize != 0 {
			return ErrLayoutAlign
		}
	}
	if l.EventCap*reclog.EventRecordSize > l.EventSectors*flashdev.SectorSize ||
		l.StreamCap*reclog.StreamRecordSize > l.StreamSectors*flashdev.SectorSize {
		return ErrLayoutSize
	}
	if l.ABSlotStride < abmeta.SlotHeaderSize+flashdev.SectorSize {
		return ErrLayoutSize
	}
	rs := l.regions()
	for i := range rs {
		for j := i + 1; j < len(rs); j++ {
			a, b := rs[i], rs[j]
			if a.base < b.base+b.size && b.base < a.base+a.size {
				return ErrLayoutOverlap
			}
		}
	}
	return nil
}

// End returns the first byte past the last region, i.e. the minimum
// device size the layout needs.
func (l Layout) End() uint32 {
	var end uint32
	for _, r := range l.regions() {
		if r.base+r.size > end {
			end = r.base + r.size
		}
	}
	return end
}
