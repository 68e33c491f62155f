// Package table reads and writes Sorted Tables, the immutable on-disk
// files produced by MemTable flushes and compactions.
//
// A table holds four sections, back to back:
//
//	Data:   records in strictly increasing key order, canonical encoding
//	Bloom:  serialized Bloom filter over every key in the table
//	Index:  u32 interval | u32 entryCount |
//	        entries: u32 keyLen | key | u64 dataOffset
//	Footer: u64 bloomOffset | u64 bloomSize |
//	        u64 indexOffset | u64 indexSize | u32 checksum
//
// All integers are little-endian. The index samples every interval-th
// record and always covers the first and last record, so a reader can
// bracket any key to at most interval records of the data section. The
// footer checksum is the raw CRC-32 (IEEE) over every byte before the
// footer; a table that fails verification never serves reads.
package table

import (
	"errors"

	"github.com/aalhour/tidekv/internal/encoding"
	"github.com/aalhour/tidekv/internal/filter"
)

// FooterSize is the fixed size of the table footer in bytes.
const FooterSize = 4*encoding.Fixed64Size + encoding.Fixed32Size

// DefaultIndexInterval is the default number of records between sparse
// index samples.
const DefaultIndexInterval = 16

var (
	// ErrCorrupted is returned when a table file fails structural or
	// checksum verification.
	ErrCorrupted = errors.New("table: corrupted table file")

	// ErrNoRecords is returned by WriteFile when the source iterator
	// yields nothing; no file is created.
	ErrNoRecords = errors.New("table: no records to write")

	// ErrOutOfOrder is returned by Builder.Add when a key is not
	// strictly greater than the previously added key.
	ErrOutOfOrder = errors.New("table: keys must be added in strictly increasing order")
)

// Options configures table construction.
type Options struct {
	// IndexInterval is the number of records between sparse index
	// samples. Zero or negative selects DefaultIndexInterval.
	IndexInterval int

	// BloomFalsePositiveRate is the target false positive rate for the
	// table's Bloom filter. Out-of-range values select the filter
	// package default.
	BloomFalsePositiveRate float64
}

// DefaultOptions returns the default table options.
func DefaultOptions() Options {
	return Options{
		IndexInterval:          DefaultIndexInterval,
		BloomFalsePositiveRate: filter.DefaultFalsePositiveRate,
	}
}

// Footer locates the Bloom and index sections and carries the file
// checksum.
type Footer struct {
	BloomOffset uint64
	BloomSize   uint64
	IndexOffset uint64
	IndexSize   uint64
	Checksum    uint32
}

func (f Footer) encode(dst []byte) []byte {
	dst = encoding.AppendFixed64(dst, f.BloomOffset)
	dst = encoding.AppendFixed64(dst, f.BloomSize)
	dst = encoding.AppendFixed64(dst, f.IndexOffset)
	dst = encoding.AppendFixed64(dst, f.IndexSize)
	dst = encoding.AppendFixed32(dst, f.Checksum)
	return dst
}

func decodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, ErrCorrupted
	}
	s := encoding.NewSlice(buf)
	var f Footer
	var ok bool
	if f.BloomOffset, ok = s.GetFixed64(); !ok {
		return Footer{}, ErrCorrupted
	}
	if f.BloomSize, ok = s.GetFixed64(); !ok {
		return Footer{}, ErrCorrupted
	}
	if f.IndexOffset, ok = s.GetFixed64(); !ok {
		return Footer{}, ErrCorrupted
	}
	if f.IndexSize, ok = s.GetFixed64(); !ok {
		return Footer{}, ErrCorrupted
	}
	if f.Checksum, ok = s.GetFixed32(); !ok {
		return Footer{}, ErrCorrupted
	}
	return f, nil
}
