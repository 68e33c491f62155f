// Package checksum provides the hash functions behind tidekv's integrity
// checks: CRC-32 (IEEE polynomial) with a masking scheme for checksums that
// are stored next to the bytes they cover, and XXH3-128 for Bloom filter
// probing.
//
// Sorted table footers store the raw CRC-32 of the file contents; WAL
// entries store the masked CRC-32 of their payload.
package checksum

import "hash/crc32"

// maskDelta is the constant added during masking.
const maskDelta = 0xa282ead8

// Value computes the CRC-32 (IEEE polynomial) of data.
func Value(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Extend computes the CRC-32 of concat(A, data) where initCRC is the
// CRC-32 of A.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, crc32.IEEETable, data)
}

// Mask returns a masked representation of crc.
//
// It is problematic to compute the CRC of a string that contains an embedded
// CRC, so CRCs stored inside checksummed regions (the WAL entry header) are
// masked before being written.
func Mask(crc uint32) uint32 {
	// Rotate right by 15 bits and add a constant.
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask returns the crc whose masked representation is maskedCRC.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue computes the CRC-32 of data and masks it in one call.
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}
