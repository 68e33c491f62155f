// Package wal implements the write-ahead log that makes writes durable
// before they reach a sorted table.
//
// A segment file is a sequence of self-describing entries:
//
//	+----------------+------------------+---------+
//	| payloadLen(4B) | maskedCRC32 (4B) | payload |
//	+----------------+------------------+---------+
//
//	payload = compressionType (1B) | body
//	body    = one record in canonical encoding, possibly compressed
//
// All integers are little-endian. The CRC covers the payload bytes (type
// byte included) and is stored masked; see the checksum package.
//
// Replay tolerates a torn tail: a clean end-of-file between entries is a
// normal end, and any malformed tail terminates replay at the last good
// entry without error. Nothing after a damaged entry is ever surfaced.
package wal

import (
	"errors"

	"github.com/aalhour/tidekv/internal/record"
)

// EntryHeaderSize is the fixed per-entry header: payloadLen + maskedCRC32.
const EntryHeaderSize = 8

// MaxEntrySize is the largest payload a well-formed entry can carry: the
// type byte plus the canonical encoding of a record at the key and value
// limits. The writer refuses larger records and replay treats a larger
// payloadLen as a damaged tail.
const MaxEntrySize = 1 + 2*4 + record.MaxKeyLen + record.MaxValueLen

// ErrEntryTooLarge is returned by Append for a record whose encoding
// exceeds MaxEntrySize.
var ErrEntryTooLarge = errors.New("wal: entry exceeds maximum size")
