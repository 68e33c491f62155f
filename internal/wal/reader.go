// reader.go implements WAL segment replay.
//
// Reader surfaces entries one record at a time and stops at the first sign
// of damage. Damage at the tail is the expected shape after a crash, so it
// is reported through Truncated rather than as an error.
package wal

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/aalhour/tidekv/internal/checksum"
	"github.com/aalhour/tidekv/internal/compression"
	"github.com/aalhour/tidekv/internal/encoding"
	"github.com/aalhour/tidekv/internal/record"
)

// Reader replays records from a WAL segment file.
type Reader struct {
	file      *os.File
	r         *bufio.Reader
	path      string
	offset    int64 // end of the intact prefix
	truncated bool
	done      bool

	headerBuf  [EntryHeaderSize]byte
	payloadBuf []byte
}

// Open opens a segment file for replay.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file: f,
		r:    bufio.NewReader(f),
		path: path,
	}, nil
}

// Next returns the next record. It returns io.EOF at the end of the
// segment, whether the end is clean or damaged; after a damaged tail,
// Truncated reports true and Offset reports where the intact prefix ended.
func (r *Reader) Next() (record.Record, error) {
	if r.done {
		return record.Record{}, io.EOF
	}

	if _, err := io.ReadFull(r.r, r.headerBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			// Clean end between entries.
			r.done = true
			return record.Record{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return record.Record{}, r.stopTruncated()
		}
		return record.Record{}, err
	}

	payloadLen := encoding.DecodeFixed32(r.headerBuf[0:4])
	storedCRC := encoding.DecodeFixed32(r.headerBuf[4:8])
	if payloadLen == 0 || payloadLen > MaxEntrySize {
		return record.Record{}, r.stopTruncated()
	}

	if cap(r.payloadBuf) < int(payloadLen) {
		r.payloadBuf = make([]byte, payloadLen)
	}
	payload := r.payloadBuf[:payloadLen]
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return record.Record{}, r.stopTruncated()
		}
		return record.Record{}, err
	}

	if checksum.MaskedValue(payload) != storedCRC {
		return record.Record{}, r.stopTruncated()
	}

	ctype := compression.Type(payload[0])
	if !ctype.Valid() {
		return record.Record{}, r.stopTruncated()
	}
	body, err := compression.Decompress(ctype, payload[1:])
	if err != nil {
		return record.Record{}, r.stopTruncated()
	}

	rec, n, err := record.Decode(body)
	if err != nil || n != len(body) {
		return record.Record{}, r.stopTruncated()
	}

	r.offset += int64(EntryHeaderSize) + int64(payloadLen)
	return rec, nil
}

// stopTruncated marks the segment as damaged past the intact prefix.
func (r *Reader) stopTruncated() error {
	r.truncated = true
	r.done = true
	return io.EOF
}

// Truncated reports whether replay ended at a damaged tail instead of a
// clean end-of-file.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Offset returns the byte offset after the last intact entry.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Reset rewinds the reader to the first entry for another replay pass.
func (r *Reader) Reset() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.r.Reset(r.file)
	r.offset = 0
	r.truncated = false
	r.done = false
	return nil
}

// Path returns the segment file path.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the segment file.
func (r *Reader) Close() error {
	return r.file.Close()
}
