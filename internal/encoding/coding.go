// Package encoding provides the fixed-width binary primitives shared by
// tidekv's on-disk formats.
//
// Every multi-byte integer written by the engine — record length prefixes,
// WAL entry headers, sparse index entries, table footers — is a fixed-width
// little-endian value. Keeping the primitives here keeps the format code
// free of raw binary.* calls and makes the byte layouts greppable.
package encoding

import "encoding/binary"

// Sizes of the fixed-width encodings, in bytes.
const (
	Fixed32Size = 4
	Fixed64Size = 8
)

// -----------------------------------------------------------------------------
// Fixed-width encoding (little-endian)
// -----------------------------------------------------------------------------

// EncodeFixed32 encodes a uint32 into a 4-byte little-endian buffer.
// REQUIRES: dst has at least 4 bytes.
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 encodes a uint64 into an 8-byte little-endian buffer.
// REQUIRES: dst has at least 8 bytes.
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends a little-endian uint32 to dst and returns the extended slice.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst and returns the extended slice.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// -----------------------------------------------------------------------------
// Sequential decoding
// -----------------------------------------------------------------------------

// Slice is a cursor over a byte slice for decoding formats sequentially.
// The Get* methods consume bytes and report whether enough input remained;
// on a short read the cursor is left unchanged.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice creates a new Slice positioned at the start of data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Remaining returns the number of unconsumed bytes.
func (s *Slice) Remaining() int {
	return len(s.data) - s.pos
}

// Offset returns the number of bytes consumed so far.
func (s *Slice) Offset() int {
	return s.pos
}

// Data returns the unconsumed portion of the underlying slice.
func (s *Slice) Data() []byte {
	return s.data[s.pos:]
}

// GetFixed32 reads a little-endian uint32.
func (s *Slice) GetFixed32() (uint32, bool) {
	if s.Remaining() < Fixed32Size {
		return 0, false
	}
	v := DecodeFixed32(s.data[s.pos:])
	s.pos += Fixed32Size
	return v, true
}

// GetFixed64 reads a little-endian uint64.
func (s *Slice) GetFixed64() (uint64, bool) {
	if s.Remaining() < Fixed64Size {
		return 0, false
	}
	v := DecodeFixed64(s.data[s.pos:])
	s.pos += Fixed64Size
	return v, true
}

// GetBytes reads exactly n bytes. The returned slice aliases the input.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if n < 0 || s.Remaining() < n {
		return nil, false
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, true
}
