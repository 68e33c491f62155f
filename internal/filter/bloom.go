// Package filter implements the Bloom filter embedded in every sorted table.
//
// The filter answers "might this table contain the key?" with no false
// negatives. Point reads consult it before touching the sparse index, so a
// miss costs one hash instead of a data-section scan.
//
// Serialized form:
//
//	u32 numHashes (LE) | u32 numBits (LE) | bit bytes (ceil(numBits/8))
//
// An empty filter serializes with zero hashes and zero bits and answers
// false for every key.
package filter

import (
	"errors"
	"math"

	"github.com/aalhour/tidekv/internal/checksum"
	"github.com/aalhour/tidekv/internal/encoding"
)

// HeaderLen is the serialized header size: numHashes plus numBits.
const HeaderLen = 2 * encoding.Fixed32Size

// DefaultFalsePositiveRate is used when a builder is given a rate outside
// the open interval (0, 1).
const DefaultFalsePositiveRate = 0.01

// ErrInvalid is returned by Load when the buffer does not hold a
// well-formed filter.
var ErrInvalid = errors.New("filter: invalid bloom filter encoding")

// Builder accumulates key hashes and sizes the filter when finished, so the
// bit array is computed from the exact element count rather than a guess.
type Builder struct {
	fpRate float64
	hashes [][2]uint64
}

// NewBuilder creates a builder targeting the given false-positive rate.
// Rates outside (0, 1), NaN included, fall back to DefaultFalsePositiveRate.
func NewBuilder(falsePositiveRate float64) *Builder {
	if !(falsePositiveRate > 0 && falsePositiveRate < 1) {
		falsePositiveRate = DefaultFalsePositiveRate
	}
	return &Builder{
		fpRate: falsePositiveRate,
		hashes: make([][2]uint64, 0, 256),
	}
}

// Add adds a key to the filter.
func (b *Builder) Add(key []byte) {
	lo, hi := checksum.XXH3_128(key)
	b.hashes = append(b.hashes, [2]uint64{lo, hi})
}

// NumKeys returns the number of keys added.
func (b *Builder) NumKeys() int {
	return len(b.hashes)
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.hashes = b.hashes[:0]
}

// Finish sizes and builds the filter, returning its serialized form.
// The builder is reset afterwards.
func (b *Builder) Finish() []byte {
	n := len(b.hashes)
	if n == 0 {
		out := encoding.AppendFixed32(nil, 0)
		return encoding.AppendFixed32(out, 0)
	}

	numBits := optimalBits(n, b.fpRate)
	numHashes := optimalHashes(n, numBits)

	bits := make([]byte, (numBits+7)/8)
	for _, h := range b.hashes {
		setPositions(h[0], h[1], numHashes, numBits, bits)
	}
	b.hashes = b.hashes[:0]

	out := make([]byte, 0, HeaderLen+len(bits))
	out = encoding.AppendFixed32(out, uint32(numHashes))
	out = encoding.AppendFixed32(out, uint32(numBits))
	return append(out, bits...)
}

// Filter is the read side of a serialized Bloom filter.
type Filter struct {
	numHashes uint32
	numBits   uint32
	bits      []byte
}

// Load parses a serialized filter. The bits slice aliases data.
// It returns ErrInvalid when the buffer is too short for the header, the bit
// bytes do not match numBits, or exactly one of numHashes and numBits is
// zero.
func Load(data []byte) (*Filter, error) {
	s := encoding.NewSlice(data)
	numHashes, ok := s.GetFixed32()
	if !ok {
		return nil, ErrInvalid
	}
	numBits, ok := s.GetFixed32()
	if !ok {
		return nil, ErrInvalid
	}
	if (numHashes == 0) != (numBits == 0) {
		return nil, ErrInvalid
	}

	wantBytes := (int(numBits) + 7) / 8
	bits, ok := s.GetBytes(wantBytes)
	if !ok || s.Remaining() != 0 {
		return nil, ErrInvalid
	}

	return &Filter{
		numHashes: numHashes,
		numBits:   numBits,
		bits:      bits,
	}, nil
}

// MayContain returns true if the key may be in the set.
// A false return means the key is definitely not in the set; a true return
// means it might be (false positives possible). An empty filter returns
// false for every key.
func (f *Filter) MayContain(key []byte) bool {
	if f == nil || f.numBits == 0 {
		return false
	}

	h1, h2 := checksum.XXH3_128(key)
	numBits := uint64(f.numBits)
	h := h1
	for i := uint32(0); i < f.numHashes; i++ {
		pos := h % numBits
		if f.bits[pos>>3]&(1<<(pos&7)) == 0 {
			return false
		}
		h += h2
	}
	return true
}

// NumBits returns the size of the bit array.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of probes per key.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// optimalBits returns the bit count for n elements at false-positive rate p:
// ceil(-n*ln(p) / (ln 2)^2).
func optimalBits(n int, p float64) int {
	ln2 := math.Ln2
	bits := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	if bits < 1 {
		return 1
	}
	return int(bits)
}

// optimalHashes returns the probe count for n elements in m bits:
// max(1, round(m/n * ln 2)).
func optimalHashes(n, m int) int {
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		return 1
	}
	return k
}

// setPositions sets the k probe positions for one key, derived from the
// 128-bit hash by double hashing: (h1 + i*h2) mod numBits.
func setPositions(h1, h2 uint64, numHashes, numBits int, bits []byte) {
	m := uint64(numBits)
	h := h1
	for i := 0; i < numHashes; i++ {
		pos := h % m
		bits[pos>>3] |= 1 << (pos & 7)
		h += h2
	}
}
