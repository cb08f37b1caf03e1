// Package cfgstore implements the double-buffered configuration store:
// a fixed 128-byte, CRC-32-sealed blob kept in two alternating flash
// slots, with a staged two-phase commit path gated by range, curve,
// mode/PIN and rate policies.
package cfgstore

import (
	"encoding/binary"

	"ebikecode-go/errcode"
	"ebikecode-go/x/crc"
)

const (
	// BlobSize is the fixed on-flash size of one config blob.
	BlobSize = 128
	// BlobVersion is the current layout version.
	BlobVersion = 1
	// CurveMax is the maximum number of assist curve points.
	CurveMax = 8

	crcOffset = 8 // crc32 field position; zeroed while hashing
)

// Operating ("safety") modes. Leaving Restricted is the gated,
// PIN-protected transition.
const (
	ModeUnrestricted uint8 = 0
	ModeRestricted   uint8 = 1
)

// Units selectors.
const (
	UnitsMetric   uint8 = 0
	UnitsImperial uint8 = 1
)

// ButtonFlagsMask is the set of button flag bits a client may set.
const ButtonFlagsMask uint8 = 0x0F

// CurvePoint is one assist curve knot; x-values must be strictly
// increasing across the blob's curve.
type CurvePoint struct {
	X uint16
	Y uint16
}

// Blob is the decoded configuration. The on-flash form is big-endian,
// BlobSize bytes, CRC-32 over the whole blob with the CRC field zeroed.
type Blob struct {
	Version uint8
	Size    uint8
	Seq     uint32
	CRC32   uint32

	Wheel_mm    uint16
	Units       uint8
	ProfileID   uint8
	Theme       uint8
	ButtonMap   uint8
	ButtonFlags uint8
	Mode        uint8
	PIN         uint16

	MaxCurrent_dA uint16
	MaxSpeed_dmph uint16
	LogPeriod_ms  uint16
	SoftStart_ms  uint16
	BoostPower_W  uint16
	BoostTime_ms  uint16
	DriveMode     uint8

	ManualAssist     uint8
	ManualPower_W    uint16
	ManualCurrent_dA uint16

	CurveCount uint8
	Curve      [CurveMax]CurvePoint
}

// StoreBE encodes the blob into out (>= BlobSize bytes), recomputing
// and storing CRC32.
func (b *Blob) StoreBE(out []byte) {
	b.storeBE(out)
	b.CRC32 = crc.Sum32(out[:BlobSize])
	binary.BigEndian.PutUint32(out[crcOffset:], b.CRC32)
}

// ExpectedCRC returns the CRC-32 of an encoded blob computed with its
// CRC field zeroed, i.e. the value a valid blob carries at crcOffset.
func ExpectedCRC(raw []byte) uint32 {
	var tmp [BlobSize]byte
	copy(tmp[:], raw[:BlobSize])
	binary.BigEndian.PutUint32(tmp[crcOffset:], 0)
	return crc.Sum32(tmp[:])
}

// storeBE writes all fields with the CRC field zeroed.
func (b *Blob) storeBE(out []byte) {
	for i := 0; i < BlobSize; i++ {
		out[i] = 0
	}
	out[0] = b.Version
	out[1] = b.Size
	// out[2:4] reserved
	binary.BigEndian.PutUint32(out[4:], b.Seq)
	// out[8:12] crc32, zero while hashing
	binary.BigEndian.PutUint16(out[12:], b.Wheel_mm)
	out[14] = b.Units
	out[15] = b.ProfileID
	out[16] = b.Theme
	out[17] = b.ButtonMap
	out[18] = b.ButtonFlags
	out[19] = b.Mode
	binary.BigEndian.PutUint16(out[20:], b.PIN)
	binary.BigEndian.PutUint16(out[22:], b.MaxCurrent_dA)
	binary.BigEndian.PutUint16(out[24:], b.MaxSpeed_dmph)
	binary.BigEndian.PutUint16(out[26:], b.LogPeriod_ms)
	binary.BigEndian.PutUint16(out[28:], b.SoftStart_ms)
	binary.BigEndian.PutUint16(out[30:], b.BoostPower_W)
	binary.BigEndian.PutUint16(out[32:], b.BoostTime_ms)
	out[34] = b.DriveMode
	out[35] = b.ManualAssist
	binary.BigEndian.PutUint16(out[36:], b.ManualPower_W)
	binary.BigEndian.PutUint16(out[38:], b.ManualCurrent_dA)
	out[40] = b.CurveCount
	for i := 0; i < int(b.CurveCount) && i < CurveMax; i++ {
		binary.BigEndian.PutUint16(out[42+4*i:], b.Curve[i].X)
		binary.BigEndian.PutUint16(out[44+4*i:], b.Curve[i].Y)
	}
}

// LoadFromBE decodes raw (>= BlobSize bytes) without validating; use
// ValidRaw or the store's checks first.
func (b *Blob) LoadFromBE(raw []byte) {
	b.Version = raw[0]
	b.Size = raw[1]
	b.Seq = binary.BigEndian.Uint32(raw[4:])
	b.CRC32 = binary.BigEndian.Uint32(raw[8:])
	b.Wheel_mm = binary.BigEndian.Uint16(raw[12:])
	b.Units = raw[14]
	b.ProfileID = raw[15]
	b.Theme = raw[16]
	b.ButtonMap = raw[17]
	b.ButtonFlags = raw[18]
	b.Mode = raw[19]
	b.PIN = binary.BigEndian.Uint16(raw[20:])
	b.MaxCurrent_dA = binary.BigEndian.Uint16(raw[22:])
	b.MaxSpeed_dmph = binary.BigEndian.Uint16(raw[24:])
	b.LogPeriod_ms = binary.BigEndian.Uint16(raw[26:])
	b.SoftStart_ms = binary.BigEndian.Uint16(raw[28:])
	b.BoostPower_W = binary.BigEndian.Uint16(raw[30:])
	b.BoostTime_ms = binary.BigEndian.Uint16(raw[32:])
	b.DriveMode = raw[34]
	b.ManualAssist = raw[35]
	b.ManualPower_W = binary.BigEndian.Uint16(raw[36:])
	b.ManualCurrent_dA = binary.BigEndian.Uint16(raw[38:])
	b.CurveCount = raw[40]
	b.Curve = [CurveMax]CurvePoint{}
	for i := 0; i < int(b.CurveCount) && i < CurveMax; i++ {
		b.Curve[i].X = binary.BigEndian.Uint16(raw[42+4*i:])
		b.Curve[i].Y = binary.BigEndian.Uint16(raw[44+4*i:])
	}
}

// ValidRaw reports whether raw carries the current version/size and a
// matching CRC-32.
func ValidRaw(raw []byte) bool {
	if len(raw) < BlobSize {
		return false
	}
	if raw[0] != BlobVersion || raw[1] != BlobSize {
		return false
	}
	return binary.BigEndian.Uint32(raw[crcOffset:]) == ExpectedCRC(raw)
}

// Field ranges enforced on staged blobs.
const (
	WheelMin_mm = 100
	WheelMax_mm = 3000

	PINMax = 9999

	MaxCurrentCap_dA = 500 // 50 A
	MaxSpeedCap_dmph = 600 // 60 mph

	LogPeriodMin_ms = 20
	LogPeriodMax_ms = 60000

	SoftStartMax_ms = 5000
	BoostPowerMax_W = 2000
	BoostTimeMax_ms = 30000

	ProfileMax      = 3
	ThemeMax        = 3
	DriveModeMax    = 2
	ManualAssistMax = 5
	CurveYMax       = 1000
)

// validateFields runs the range and curve checks shared by Stage and
// Commit. It does not evaluate mode/PIN policy.
func validateFields(b *Blob) errcode.Code {
	if b.Version != BlobVersion || b.Size != BlobSize {
		return errcode.CfgUnsupported
	}
	switch {
	case b.Wheel_mm < WheelMin_mm || b.Wheel_mm > WheelMax_mm,
		b.Units > UnitsImperial,
		b.ProfileID > ProfileMax,
		b.Theme > ThemeMax,
		b.Mode > ModeRestricted,
		b.PIN > PINMax,
		b.MaxCurrent_dA > MaxCurrentCap_dA,
		b.MaxSpeed_dmph > MaxSpeedCap_dmph,
		b.LogPeriod_ms < LogPeriodMin_ms || b.LogPeriod_ms > LogPeriodMax_ms,
		b.SoftStart_ms > SoftStartMax_ms,
		b.BoostPower_W > BoostPowerMax_W,
		b.BoostTime_ms > BoostTimeMax_ms,
		b.DriveMode > DriveModeMax,
		b.ManualAssist > ManualAssistMax,
		b.CurveCount > CurveMax:
		return errcode.CfgRange
	}
	for i := 0; i < int(b.CurveCount); i++ {
		if b.Curve[i].Y > CurveYMax {
			return errcode.CfgRange
		}
		if i > 0 && b.Curve[i].X <= b.Curve[i-1].X {
			return errcode.CfgMonotonic
		}
	}
	if b.ButtonFlags&^ButtonFlagsMask != 0 {
		return errcode.CfgPolicy
	}
	return errcode.OK
}
