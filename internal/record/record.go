// Package record defines the engine's record vocabulary: a key/value pair
// tagged as a live value or a tombstone, the canonical length-prefixed
// encoding shared by the WAL payload and the sorted table data section, and
// the iterator interface the flush and merge machinery consume.
//
// Canonical encoding (all integers little-endian):
//
//	u32 keyLen | key | u32 valueLen | value
//
// A tombstone is marked by the TombstoneLen sentinel in the value-length
// field and carries zero value bytes. The kind is never serialized as its
// own byte.
package record

import (
	"errors"

	"github.com/aalhour/tidekv/internal/encoding"
)

// Kind distinguishes live values from tombstones.
type Kind uint8

const (
	// KindValue is a live key/value pair.
	KindValue Kind = iota

	// KindTombstone marks a deleted key. A tombstone shadows every older
	// record for its key until a full-merge compaction drops both.
	KindTombstone
)

// String returns "value" or "tombstone".
func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// TombstoneLen is the value-length sentinel that marks a tombstone on disk.
const TombstoneLen = ^uint32(0)

// Write limits enforced at the engine boundary. MaxValueLen is far below
// TombstoneLen, so a legitimate value length can never collide with the
// sentinel.
const (
	MaxKeyLen   = 1 << 20  // 1 MiB
	MaxValueLen = 64 << 20 // 64 MiB
)

// ErrInvalid is returned by Decode when the buffer does not hold a
// well-formed record.
var ErrInvalid = errors.New("record: invalid encoding")

// Record is one key/value pair with its kind. A tombstone's Value is
// ignored on encode and always decodes as nil.
type Record struct {
	Key   []byte
	Value []byte
	Kind  Kind
}

// Tombstone reports whether the record is a tombstone.
func (r Record) Tombstone() bool {
	return r.Kind == KindTombstone
}

// EncodedLen returns the number of bytes AppendEncoded writes for r.
func EncodedLen(r Record) int {
	n := 2*encoding.Fixed32Size + len(r.Key)
	if r.Kind != KindTombstone {
		n += len(r.Value)
	}
	return n
}

// AppendEncoded appends the canonical encoding of r to dst and returns the
// extended slice.
func AppendEncoded(dst []byte, r Record) []byte {
	dst = encoding.AppendFixed32(dst, uint32(len(r.Key)))
	dst = append(dst, r.Key...)
	if r.Kind == KindTombstone {
		return encoding.AppendFixed32(dst, TombstoneLen)
	}
	dst = encoding.AppendFixed32(dst, uint32(len(r.Value)))
	return append(dst, r.Value...)
}

// Decode decodes one record from the front of buf and returns the number of
// bytes consumed. Any overrun — a short header, or a key or value length
// exceeding the remainder of buf — returns ErrInvalid. The returned Key and
// Value are fresh copies, safe to retain after buf is reused.
func Decode(buf []byte) (Record, int, error) {
	s := encoding.NewSlice(buf)

	keyLen, ok := s.GetFixed32()
	if !ok || uint64(keyLen) > uint64(s.Remaining()) {
		return Record{}, 0, ErrInvalid
	}
	key, _ := s.GetBytes(int(keyLen))

	valueLen, ok := s.GetFixed32()
	if !ok {
		return Record{}, 0, ErrInvalid
	}

	r := Record{Key: make([]byte, keyLen)}
	copy(r.Key, key)

	if valueLen == TombstoneLen {
		r.Kind = KindTombstone
		return r, s.Offset(), nil
	}
	if uint64(valueLen) > uint64(s.Remaining()) {
		return Record{}, 0, ErrInvalid
	}
	value, _ := s.GetBytes(int(valueLen))
	r.Value = make([]byte, valueLen)
	copy(r.Value, value)
	return r, s.Offset(), nil
}

// Iterator is an ordered forward cursor over records. Implementations yield
// entries in ascending key order with exactly one entry per key.
//
// Key, Value and Kind are only meaningful while Valid reports true, and the
// returned slices are only guaranteed stable until the next call to Next or
// SeekToFirst. Error reports the first failure encountered; once it returns
// non-nil the iterator is permanently invalid.
type Iterator interface {
	// Valid reports whether the iterator is positioned on an entry.
	Valid() bool

	// SeekToFirst positions the iterator on the first entry.
	SeekToFirst()

	// Next advances to the next entry.
	Next()

	// Key returns the current entry's key.
	Key() []byte

	// Value returns the current entry's value. Tombstones return nil.
	Value() []byte

	// Kind returns the current entry's kind.
	Kind() Kind

	// Error returns the first error the iterator encountered, if any.
	Error() error
}
