// writer.go implements WAL segment writing.
//
// Writer appends whole records as single entries. There is no fragmenting:
// an entry either fits or the record was over the engine's write limits.
package wal

import (
	"bufio"
	"os"

	"github.com/aalhour/tidekv/internal/checksum"
	"github.com/aalhour/tidekv/internal/compression"
	"github.com/aalhour/tidekv/internal/encoding"
	"github.com/aalhour/tidekv/internal/record"
)

// Writer appends records to a WAL segment file.
//
// Not safe for concurrent use; the engine serializes appends under its
// write lock.
type Writer struct {
	file         *os.File
	w            *bufio.Writer
	path         string
	syncOnAppend bool
	compression  compression.Type

	// Reusable buffers
	headerBuf  [EntryHeaderSize]byte
	bodyBuf    []byte
	payloadBuf []byte
}

// Create creates a fresh segment file at path and returns a writer for it.
// The path must not already exist; segment names come from the engine's
// generation counter and are never reused.
//
// With syncOnAppend, every Append flushes and fsyncs before returning.
// Otherwise appends are buffered and the durability points are Sync and
// Close.
func Create(path string, syncOnAppend bool, comp compression.Type) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:         f,
		w:            bufio.NewWriter(f),
		path:         path,
		syncOnAppend: syncOnAppend,
		compression:  comp,
	}, nil
}

// Append writes one record as a single entry.
func (w *Writer) Append(rec record.Record) error {
	if record.EncodedLen(rec) > MaxEntrySize-1 {
		return ErrEntryTooLarge
	}
	w.bodyBuf = record.AppendEncoded(w.bodyBuf[:0], rec)

	// Compress when configured, but store the entry uncompressed whenever
	// the compressed body would not be smaller.
	body := w.bodyBuf
	ctype := compression.NoCompression
	if w.compression != compression.NoCompression {
		compressed, err := compression.Compress(w.compression, w.bodyBuf)
		if err != nil {
			return err
		}
		if len(compressed) < len(body) {
			body = compressed
			ctype = w.compression
		}
	}

	w.payloadBuf = append(w.payloadBuf[:0], byte(ctype))
	w.payloadBuf = append(w.payloadBuf, body...)

	encoding.EncodeFixed32(w.headerBuf[0:4], uint32(len(w.payloadBuf)))
	encoding.EncodeFixed32(w.headerBuf[4:8], checksum.MaskedValue(w.payloadBuf))

	if _, err := w.w.Write(w.headerBuf[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(w.payloadBuf); err != nil {
		return err
	}

	if w.syncOnAppend {
		return w.Sync()
	}
	return nil
}

// Sync flushes buffered entries and fsyncs the segment file.
func (w *Writer) Sync() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes, fsyncs and closes the segment file.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// Path returns the segment file path.
func (w *Writer) Path() string {
	return w.path
}
