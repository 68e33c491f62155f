package table

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aalhour/tidekv/internal/checksum"
	"github.com/aalhour/tidekv/internal/encoding"
	"github.com/aalhour/tidekv/internal/filter"
	"github.com/aalhour/tidekv/internal/record"
)

// Builder writes a Sorted Table to an io.Writer. Records must be added
// in strictly increasing key order; Finish appends the Bloom filter, the
// sparse index, and the footer. A Builder is not safe for concurrent use.
type Builder struct {
	w        io.Writer
	interval uint32
	filter   *filter.Builder

	offset  uint64 // total bytes handed to w
	count   uint64 // records added
	lastKey []byte
	lastOff uint64 // data offset of the most recent record

	indexKeys [][]byte
	indexOffs []uint64

	crc      uint32 // running checksum over the data, Bloom, and index sections
	buf      []byte // record encode scratch
	err      error
	finished bool
}

// NewBuilder returns a Builder that writes a table to w. Out-of-range
// option fields fall back to their defaults.
func NewBuilder(w io.Writer, opts Options) *Builder {
	interval := opts.IndexInterval
	if interval <= 0 {
		interval = DefaultIndexInterval
	}
	return &Builder{
		w:        w,
		interval: uint32(interval),
		filter:   filter.NewBuilder(opts.BloomFalsePositiveRate),
	}
}

// Add appends a record to the data section. Keys must arrive in strictly
// increasing order; ties and regressions are rejected with ErrOutOfOrder.
func (b *Builder) Add(key, value []byte, kind record.Kind) error {
	if b.err != nil {
		return b.err
	}
	if b.finished {
		return errors.New("table: add after finish")
	}
	if b.count > 0 && bytes.Compare(key, b.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, b.lastKey)
	}

	b.buf = record.AppendEncoded(b.buf[:0], record.Record{Key: key, Value: value, Kind: kind})

	b.lastOff = b.offset
	if b.count%uint64(b.interval) == 0 {
		b.indexKeys = append(b.indexKeys, bytes.Clone(key))
		b.indexOffs = append(b.indexOffs, b.offset)
	}
	b.filter.Add(key)

	if err := b.write(b.buf); err != nil {
		return err
	}
	b.lastKey = append(b.lastKey[:0], key...)
	b.count++
	return nil
}

// Finish writes the Bloom filter, the sparse index, and the footer.
// A builder with no records returns ErrNoRecords and writes nothing.
func (b *Builder) Finish() error {
	if b.err != nil {
		return b.err
	}
	if b.finished {
		return errors.New("table: finish called twice")
	}
	if b.count == 0 {
		return ErrNoRecords
	}
	b.finished = true

	// The last record is always reachable through the index, so a
	// reader's final bracket never extends past the sampled keys.
	if (b.count-1)%uint64(b.interval) != 0 {
		b.indexKeys = append(b.indexKeys, bytes.Clone(b.lastKey))
		b.indexOffs = append(b.indexOffs, b.lastOff)
	}

	footer := Footer{BloomOffset: b.offset}
	if err := b.write(b.filter.Finish()); err != nil {
		return err
	}
	footer.BloomSize = b.offset - footer.BloomOffset

	footer.IndexOffset = b.offset
	if err := b.write(b.encodeIndex()); err != nil {
		return err
	}
	footer.IndexSize = b.offset - footer.IndexOffset

	// The checksum covers everything before the footer; the footer
	// bytes bypass the running CRC.
	footer.Checksum = b.crc
	fb := footer.encode(make([]byte, 0, FooterSize))
	if _, err := b.w.Write(fb); err != nil {
		b.err = fmt.Errorf("table: write footer: %w", err)
		return b.err
	}
	b.offset += FooterSize
	return nil
}

// NumRecords reports how many records have been added.
func (b *Builder) NumRecords() uint64 { return b.count }

// FileSize reports the total bytes written so far, including the footer
// once Finish has run.
func (b *Builder) FileSize() uint64 { return b.offset }

func (b *Builder) write(p []byte) error {
	if _, err := b.w.Write(p); err != nil {
		b.err = fmt.Errorf("table: write: %w", err)
		return b.err
	}
	b.crc = checksum.Extend(b.crc, p)
	b.offset += uint64(len(p))
	return nil
}

func (b *Builder) encodeIndex() []byte {
	n := 2 * encoding.Fixed32Size
	for _, k := range b.indexKeys {
		n += encoding.Fixed32Size + len(k) + encoding.Fixed64Size
	}
	out := make([]byte, 0, n)
	out = encoding.AppendFixed32(out, b.interval)
	out = encoding.AppendFixed32(out, uint32(len(b.indexKeys)))
	for i, k := range b.indexKeys {
		out = encoding.AppendFixed32(out, uint32(len(k)))
		out = append(out, k...)
		out = encoding.AppendFixed64(out, b.indexOffs[i])
	}
	return out
}

// WriteInfo describes a table produced by WriteFile.
type WriteInfo struct {
	Path       string
	NumRecords uint64
	FileSize   uint64
}

// WriteFile drains it into a new table at path. The table is built under
// path+".tmp", fsynced, atomically renamed into place, and the directory
// entry made durable. An empty iterator creates nothing and returns
// ErrNoRecords; on any failure the temp file is removed and path is
// never created.
func WriteFile(path string, it record.Iterator, opts Options) (WriteInfo, error) {
	it.SeekToFirst()
	if !it.Valid() {
		if err := it.Error(); err != nil {
			return WriteInfo{}, fmt.Errorf("table: source iterator: %w", err)
		}
		return WriteInfo{}, ErrNoRecords
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return WriteInfo{}, fmt.Errorf("table: create %s: %w", tmp, err)
	}
	abort := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	w := bufio.NewWriterSize(f, 1<<16)
	b := NewBuilder(w, opts)
	for ; it.Valid(); it.Next() {
		if err := b.Add(it.Key(), it.Value(), it.Kind()); err != nil {
			abort()
			return WriteInfo{}, err
		}
	}
	if err := it.Error(); err != nil {
		abort()
		return WriteInfo{}, fmt.Errorf("table: source iterator: %w", err)
	}
	if err := b.Finish(); err != nil {
		abort()
		return WriteInfo{}, err
	}
	if err := w.Flush(); err != nil {
		abort()
		return WriteInfo{}, fmt.Errorf("table: flush %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		abort()
		return WriteInfo{}, fmt.Errorf("table: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return WriteInfo{}, fmt.Errorf("table: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return WriteInfo{}, fmt.Errorf("table: rename %s: %w", tmp, err)
	}
	if err := SyncDir(filepath.Dir(path)); err != nil {
		return WriteInfo{}, err
	}
	return WriteInfo{Path: path, NumRecords: b.NumRecords(), FileSize: b.FileSize()}, nil
}

// SyncDir fsyncs a directory so a preceding rename or remove is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("table: open dir %s: %w", dir, err)
	}
	syncErr := d.Sync()
	closeErr := d.Close()
	if syncErr != nil {
		return fmt.Errorf("table: sync dir %s: %w", dir, syncErr)
	}
	return closeErr
}
