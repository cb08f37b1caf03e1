package reclog

import (
	"encoding/binary"

	"ebikecode-go/x/crc"
)

// Both record types are 20 bytes, big-endian, closed by a 16-bit CRC
// over the preceding 18 bytes.
const (
	EventRecordSize  = 20
	StreamRecordSize = 20

	crcOffset = 18
)

// Event types stored in EventRecord.Type.
const (
	EvBoot          uint8 = 1
	EvFault         uint8 = 2
	EvConfigCommit  uint8 = 3
	EvConfigReject  uint8 = 4
	EvPinAttempt    uint8 = 5
	EvSlotPromote   uint8 = 6
	EvSlotRejected  uint8 = 7
	EvPendingSet    uint8 = 8
	EvCrashCaptured uint8 = 9
)

// EventRecord flag bits.
const (
	EvfOK uint8 = 1 << 0 // outcome bit for attempt-style events
)

// EventRecord is one diagnostic event plus the vehicle state at the
// moment it was recorded.
type EventRecord struct {
	Ms    uint32
	Type  uint8
	Flags uint8

	Speed_dmph    int16
	Batt_dV       int16
	Batt_dA       int16
	Temp_dC       int16
	CmdPower_W    uint16
	CmdCurrent_dA uint16

	CRC16 uint16
}

// EncodeTo writes the big-endian wire form into rec (>= 20 bytes),
// computing and storing CRC16.
func (r *EventRecord) EncodeTo(rec []byte) {
	binary.BigEndian.PutUint32(rec[0:], r.Ms)
	rec[4] = r.Type
	rec[5] = r.Flags
	binary.BigEndian.PutUint16(rec[6:], uint16(r.Speed_dmph))
	binary.BigEndian.PutUint16(rec[8:], uint16(r.Batt_dV))
	binary.BigEndian.PutUint16(rec[10:], uint16(r.Batt_dA))
	binary.BigEndian.PutUint16(rec[12:], uint16(r.Temp_dC))
	binary.BigEndian.PutUint16(rec[14:], r.CmdPower_W)
	binary.BigEndian.PutUint16(rec[16:], r.CmdCurrent_dA)
	r.CRC16 = crc.Sum16(rec[:crcOffset])
	binary.BigEndian.PutUint16(rec[crcOffset:], r.CRC16)
}

// DecodeFrom parses rec without validating; use EventCodec.Validate first.
func (r *EventRecord) DecodeFrom(rec []byte) {
	r.Ms = binary.BigEndian.Uint32(rec[0:])
	r.Type = rec[4]
	r.Flags = rec[5]
	r.Speed_dmph = int16(binary.BigEndian.Uint16(rec[6:]))
	r.Batt_dV = int16(binary.BigEndian.Uint16(rec[8:]))
	r.Batt_dA = int16(binary.BigEndian.Uint16(rec[10:]))
	r.Temp_dC = int16(binary.BigEndian.Uint16(rec[12:]))
	r.CmdPower_W = binary.BigEndian.Uint16(rec[14:])
	r.CmdCurrent_dA = binary.BigEndian.Uint16(rec[16:])
	r.CRC16 = binary.BigEndian.Uint16(rec[crcOffset:])
}

// StreamRecord is one fixed-period telemetry sample of the stream log.
type StreamRecord struct {
	Version uint8
	Flags   uint8
	Dt_ms   uint16

	Speed_dmph  uint16
	Cadence_rpm uint16
	Power_W     uint16
	Batt_dV     int16
	Batt_dA     int16
	Temp_dC     int16
	AssistMode  uint8
	ProfileID   uint8

	CRC16 uint16
}

// StreamRecordVersion is the current StreamRecord.Version value.
const StreamRecordVersion = 1

func (r *StreamRecord) EncodeTo(rec []byte) {
	rec[0] = r.Version
	rec[1] = r.Flags
	binary.BigEndian.PutUint16(rec[2:], r.Dt_ms)
	binary.BigEndian.PutUint16(rec[4:], r.Speed_dmph)
	binary.BigEndian.PutUint16(rec[6:], r.Cadence_rpm)
	binary.BigEndian.PutUint16(rec[8:], r.Power_W)
	binary.BigEndian.PutUint16(rec[10:], uint16(r.Batt_dV))
	binary.BigEndian.PutUint16(rec[12:], uint16(r.Batt_dA))
	binary.BigEndian.PutUint16(rec[14:], uint16(r.Temp_dC))
	rec[16] = r.AssistMode
	rec[17] = r.ProfileID
	r.CRC16 = crc.Sum16(rec[:crcOffset])
	binary.BigEndian.PutUint16(rec[crcOffset:], r.CRC16)
}

func (r *StreamRecord) DecodeFrom(rec []byte) {
	r.Version = rec[0]
	r.Flags = rec[1]
	r.Dt_ms = binary.BigEndian.Uint16(rec[2:])
	r.Speed_dmph = binary.BigEndian.Uint16(rec[4:])
	r.Cadence_rpm = binary.BigEndian.Uint16(rec[6:])
	r.Power_W = binary.BigEndian.Uint16(rec[8:])
	r.Batt_dV = int16(binary.BigEndian.Uint16(rec[10:]))
	r.Batt_dA = int16(binary.BigEndian.Uint16(rec[12:]))
	r.Temp_dC = int16(binary.BigEndian.Uint16(rec[14:]))
	r.AssistMode = rec[16]
	r.ProfileID = rec[17]
	r.CRC16 = binary.BigEndian.Uint16(rec[crcOffset:])
}

// EventCodec instantiates the engine for 20-byte event records.
type EventCodec struct{}

func (EventCodec) RecordSize() int { return EventRecordSize }
func (EventCodec) Validate(rec []byte) bool {
	return binary.BigEndian.Uint16(rec[crcOffset:]) == crc.Sum16(rec[:crcOffset])
}

// StreamCodec instantiates the engine for 20-byte stream records.
type StreamCodec struct{}

func (StreamCodec) RecordSize() int { return StreamRecordSize }
func (StreamCodec) Validate(rec []byte) bool {
	return binary.BigEndian.Uint16(rec[crcOffset:]) == crc.Sum16(rec[:crcOffset])
}
