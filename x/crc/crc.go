// Package crc provides the two checksums used by the on-flash structures:
// a CRC-32 in the Ethernet/PKZip convention (reflected poly 0xEDB88320,
// init/final 0xFFFFFFFF) and a folded 16-bit derivative for small records.
package crc

import "hash/crc32"

// Sum32 computes the CRC-32 of p in one shot.
func Sum32(p []byte) uint32 { return crc32.ChecksumIEEE(p) }

// Update32 extends crc with p. Chain from a zero seed; the usual
// pre/post-complement is handled internally, so
// Update32(Update32(0, a), b) == Sum32(a||b).
func Update32(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, p)
}

// Sum16 folds the CRC-32 of p into 16 bits. Used by the fixed 20-byte
// log records where a full CRC-32 would not fit.
func Sum16(p []byte) uint16 {
	c := crc32.ChecksumIEEE(p)
	return uint16(c ^ (c >> 16))
}
