// Package reclog implements the append-only, fixed-record-size,
// erase-on-wrap log engine underneath the event and telemetry stream
// logs. A log owns a run of whole sectors; records are scanned back at
// boot, appended one at a time, and the entire region is erased and
// restarted when capacity is reached. Corruption found during the boot
// scan discards the whole region rather than a single record, so bad
// state never survives a reboot.
package reclog

import (
	"errors"

	"ebikecode-go/storage/flashdev"
)

// MaxRecordSize bounds the scratch buffers; both instantiations use
// 20-byte records.
const MaxRecordSize = 64

var (
	ErrRecordSize = errors.New("record length does not match the log record size")
	ErrLayout     = errors.New("log capacity does not fit its flash region")
)

// Codec describes one record type to the engine: its fixed size and
// how to check a stored record's CRC.
type Codec interface {
	RecordSize() int
	Validate(rec []byte) bool
}

// Meta is the RAM-only state of one log, rebuilt by Load. head == count
// always holds (records are never overwritten in place before a wrap),
// and count <= capacity.
type Meta struct {
	RecordSize uint32
	Capacity   uint32
	Head       uint32 // next write index
	Count      uint32 // valid records
	Seq        uint32 // appends since boot-time load; diagnostics only
}

// Config fixes one log instance to a flash region and a record type.
type Config struct {
	Base     uint32 // sector-aligned region start
	Sectors  uint32 // whole sectors owned by this log
	Capacity uint32 // records; capacity*recordsize must fit the region
	Tag      [4]byte
	Codec    Codec
}

// Log is one append-only log instance. Not reentrant: a single logical
// caller at a time (main loop, or the fault handler via Copy).
type Log struct {
	dev  flashdev.Device
	cfg  Config
	meta Meta

	buf [MaxRecordSize]byte // scratch; avoids per-call allocation
}

// New binds a log to its region. The region is not touched; call Load
// (or Reset) before appending.
func New(dev flashdev.Device, cfg Config) (*Log, error) {
	rs := cfg.Codec.RecordSize()
	if rs <= 0 || rs > MaxRecordSize {
		return nil, ErrRecordSize
	}
	if cfg.Base%flashdev.SectorSize != 0 ||
		cfg.Capacity*uint32(rs) > cfg.Sectors*flashdev.SectorSize {
		return nil, ErrLayout
	}
	l := &Log{dev: dev, cfg: cfg}
	l.meta.RecordSize = uint32(rs)
	l.meta.Capacity = cfg.Capacity
	return l, nil
}

// Meta returns a copy of the RAM meta.
func (l *Log) Meta() Meta { return l.meta }

// Tag returns the region's diagnostic tag ("EVLG", "STLG").
func (l *Log) Tag() [4]byte { return l.cfg.Tag }

// Reset erases the whole region and zeroes the RAM meta.
func (l *Log) Reset() error {
	for s := uint32(0); s < l.cfg.Sectors; s++ {
		if err := l.dev.EraseSector(l.cfg.Base + s*flashdev.SectorSize); err != nil {
			return err
		}
	}
	l.meta.Head = 0
	l.meta.Count = 0
	l.meta.Seq = 0
	return nil
}

// Load rebuilds the meta by scanning records from the region start.
// The scan stops at the first all-0xFF (never written) record, which
// becomes head/count. A non-erased record that fails its CRC resets
// the entire region: corruption is made non-persistent at the cost of
// everything stored in the region.
func (l *Log) Load() error {
	l.meta.Head = 0
	l.meta.Count = 0
	l.meta.Seq = 0
	rec := l.buf[:l.meta.RecordSize]
	for i := uint32(0); i < l.meta.Capacity; i++ {
		if err := l.dev.ReadAt(rec, l.recAddr(i)); err != nil {
			return err
		}
		if flashdev.IsErased(rec) {
			break
		}
		if !l.cfg.Codec.Validate(rec) {
			return l.Reset()
		}
		l.meta.Head = i + 1
		l.meta.Count = i + 1
	}
	// Seq restarts from the surviving record count; it only has to be
	// monotonic within one power cycle.
	l.meta.Seq = l.meta.Count
	return nil
}

// Append writes one encoded record at head. Reaching capacity does not
// overwrite the oldest record: the whole region is erased first and the
// record lands at index 0. Downstream diagnostics rely on resets being
// rare and total, so this must not be "fixed" into ring semantics.
func (l *Log) Append(rec []byte) error {
	if uint32(len(rec)) != l.meta.RecordSize {
		return ErrRecordSize
	}
	if l.meta.Head >= l.meta.Capacity {
		if err := l.Reset(); err != nil {
			return err
		}
	}
	if err := flashdev.ProgramChunks(l.dev, l.recAddr(l.meta.Head), rec); err != nil {
		return err
	}
	l.meta.Head++
	l.meta.Count++
	l.meta.Seq++
	return nil
}

// Copy reads up to max records starting at offset (relative to the
// oldest surviving record) straight from flash into out, returning the
// number of records copied. It validates as it goes and stops at the
// first erased or invalid record. The write-state meta (head, count)
// is neither consulted nor touched, so Copy is safe from fault-handler
// context even when that state is suspect.
func (l *Log) Copy(offset, max uint32, out []byte) (uint32, error) {
	rs := l.meta.RecordSize
	// Clamp by division: multiplying max*rs can wrap uint32 for a
	// hostile max and defeat the bound.
	if avail := uint32(len(out)) / rs; max > avail {
		max = avail
	}
	n := uint32(0)
	for ; n < max; n++ {
		i := offset + n
		if i >= l.meta.Capacity {
			break
		}
		rec := out[n*rs : (n+1)*rs]
		if err := l.dev.ReadAt(rec, l.recAddr(i)); err != nil {
			return n, err
		}
		if flashdev.IsErased(rec) || !l.cfg.Codec.Validate(rec) {
			break
		}
	}
	return n, nil
}

func (l *Log) recAddr(i uint32) uint32 {
	return l.cfg.Base + i*l.meta.RecordSize
}
