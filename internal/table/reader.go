package table

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aalhour/tidekv/internal/checksum"
	"github.com/aalhour/tidekv/internal/encoding"
	"github.com/aalhour/tidekv/internal/filter"
	"github.com/aalhour/tidekv/internal/record"
)

// Reader serves lookups and scans from a verified table file. The Bloom
// filter and the sparse index are held in memory; records are fetched
// with positional reads, so one Reader serves concurrent Gets. Close is
// explicit.
type Reader struct {
	file *os.File
	path string

	dataSize  uint64 // length of the data section
	interval  uint32
	filter    *filter.Filter
	indexKeys [][]byte
	indexOffs []uint64
}

// Open opens and fully verifies a table file: footer geometry, the
// checksum over the covered sections, the Bloom filter, and the sparse
// index. Structural damage of any kind surfaces as ErrCorrupted; a table
// that fails verification never serves reads.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open %s: %w", path, err)
	}
	r, err := load(file, path)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

func load(file *os.File, path string) (*Reader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("table: stat %s: %w", path, err)
	}
	size := info.Size()
	if size < FooterSize {
		return nil, fmt.Errorf("%w: %s: %d bytes is smaller than the footer", ErrCorrupted, path, size)
	}

	var fb [FooterSize]byte
	if _, err := file.ReadAt(fb[:], size-FooterSize); err != nil {
		return nil, fmt.Errorf("table: read footer of %s: %w", path, err)
	}
	footer, err := decodeFooter(fb[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad footer", ErrCorrupted, path)
	}

	// The three sections must tile [0, covered) exactly, with a
	// non-empty data section.
	covered := uint64(size) - FooterSize
	switch {
	case footer.BloomOffset == 0,
		footer.BloomOffset > covered,
		footer.BloomSize > covered-footer.BloomOffset,
		footer.IndexOffset != footer.BloomOffset+footer.BloomSize,
		footer.IndexSize != covered-footer.IndexOffset:
		return nil, fmt.Errorf("%w: %s: inconsistent section geometry", ErrCorrupted, path)
	}

	var crc uint32
	sr := io.NewSectionReader(file, 0, int64(covered))
	buf := make([]byte, 1<<16)
	for {
		n, err := sr.Read(buf)
		crc = checksum.Extend(crc, buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: verify %s: %w", path, err)
		}
	}
	if crc != footer.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch (computed 0x%08x, stored 0x%08x)",
			ErrCorrupted, path, crc, footer.Checksum)
	}

	bloomBuf := make([]byte, footer.BloomSize)
	if _, err := file.ReadAt(bloomBuf, int64(footer.BloomOffset)); err != nil {
		return nil, fmt.Errorf("table: read bloom of %s: %w", path, err)
	}
	flt, err := filter.Load(bloomBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, path, err)
	}

	r := &Reader{
		file:     file,
		path:     path,
		dataSize: footer.BloomOffset,
		filter:   flt,
	}

	indexBuf := make([]byte, footer.IndexSize)
	if _, err := file.ReadAt(indexBuf, int64(footer.IndexOffset)); err != nil {
		return nil, fmt.Errorf("table: read index of %s: %w", path, err)
	}
	if err := r.parseIndex(indexBuf); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseIndex(buf []byte) error {
	s := encoding.NewSlice(buf)
	interval, ok := s.GetFixed32()
	if !ok || interval == 0 {
		return fmt.Errorf("%w: %s: bad index interval", ErrCorrupted, r.path)
	}
	entryCount, ok := s.GetFixed32()
	if !ok || entryCount == 0 {
		return fmt.Errorf("%w: %s: empty index", ErrCorrupted, r.path)
	}

	keys := make([][]byte, 0, entryCount)
	offs := make([]uint64, 0, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		keyLen, ok := s.GetFixed32()
		if !ok {
			return fmt.Errorf("%w: %s: short index entry", ErrCorrupted, r.path)
		}
		key, ok := s.GetBytes(int(keyLen))
		if !ok {
			return fmt.Errorf("%w: %s: short index entry", ErrCorrupted, r.path)
		}
		off, ok := s.GetFixed64()
		if !ok {
			return fmt.Errorf("%w: %s: short index entry", ErrCorrupted, r.path)
		}
		if i == 0 && off != 0 {
			return fmt.Errorf("%w: %s: first index entry not at offset 0", ErrCorrupted, r.path)
		}
		if i > 0 && (bytes.Compare(key, keys[i-1]) <= 0 || off <= offs[i-1]) {
			return fmt.Errorf("%w: %s: index entries out of order", ErrCorrupted, r.path)
		}
		if off >= r.dataSize {
			return fmt.Errorf("%w: %s: index offset %d beyond data section", ErrCorrupted, r.path, off)
		}
		keys = append(keys, key)
		offs = append(offs, off)
	}
	if s.Remaining() != 0 {
		return fmt.Errorf("%w: %s: trailing bytes after index", ErrCorrupted, r.path)
	}

	r.interval = interval
	r.indexKeys = keys
	r.indexOffs = offs
	return nil
}

// Get looks up key. found reports whether the table contains a record
// for the key; deleted reports that the record is a tombstone. At most
// one index bracket of records is read from disk, and none at all when
// the Bloom filter or the key range rules the key out.
func (r *Reader) Get(key []byte) (value []byte, found, deleted bool, err error) {
	if !r.filter.MayContain(key) {
		return nil, false, false, nil
	}
	if bytes.Compare(key, r.FirstKey()) < 0 || bytes.Compare(key, r.LastKey()) > 0 {
		return nil, false, false, nil
	}

	// Greatest sampled key <= key; the range check guarantees i >= 1.
	i := sort.Search(len(r.indexKeys), func(i int) bool {
		return bytes.Compare(r.indexKeys[i], key) > 0
	})
	bracket := i - 1

	buf, start, err := r.readBracket(bracket)
	if err != nil {
		return nil, false, false, err
	}
	for len(buf) > 0 {
		rec, n, derr := record.Decode(buf)
		if derr != nil {
			return nil, false, false, fmt.Errorf("%w: %s: undecodable record at offset %d",
				ErrCorrupted, r.path, start)
		}
		switch cmp := bytes.Compare(rec.Key, key); {
		case cmp == 0:
			if rec.Kind == record.KindTombstone {
				return nil, true, true, nil
			}
			return rec.Value, true, false, nil
		case cmp > 0:
			return nil, false, false, nil
		}
		buf = buf[n:]
		start += uint64(n)
	}
	return nil, false, false, nil
}

// readBracket reads the records between index entry i and the next
// sampled offset (or the end of the data section).
func (r *Reader) readBracket(i int) ([]byte, uint64, error) {
	start := r.indexOffs[i]
	end := r.dataSize
	if i+1 < len(r.indexOffs) {
		end = r.indexOffs[i+1]
	}
	buf := make([]byte, end-start)
	if _, err := r.file.ReadAt(buf, int64(start)); err != nil {
		return nil, 0, fmt.Errorf("table: read %s: %w", r.path, err)
	}
	return buf, start, nil
}

// MayContain reports whether the Bloom filter admits the key. False
// means definitely absent.
func (r *Reader) MayContain(key []byte) bool {
	return r.filter.MayContain(key)
}

// FirstKey returns the smallest key in the table. The slice is owned by
// the Reader and must not be modified.
func (r *Reader) FirstKey() []byte { return r.indexKeys[0] }

// LastKey returns the largest key in the table. The slice is owned by
// the Reader and must not be modified.
func (r *Reader) LastKey() []byte { return r.indexKeys[len(r.indexKeys)-1] }

// Interval returns the index sampling interval recorded in the file.
func (r *Reader) Interval() int { return int(r.interval) }

// NumIndexEntries returns the number of sparse index entries.
func (r *Reader) NumIndexEntries() int { return len(r.indexKeys) }

// DataSize returns the length of the data section in bytes.
func (r *Reader) DataSize() uint64 { return r.dataSize }

// Path returns the file path the Reader was opened with.
func (r *Reader) Path() string { return r.path }

// Close releases the underlying file. In-flight reads must have
// completed.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Iterator scans the data section in key order, tombstones included.
// Brackets are loaded one at a time, so memory stays bounded by the
// largest bracket. Not safe for concurrent use; independent Iterators
// over one Reader are.
type Iterator struct {
	r       *Reader
	bracket int
	buf     []byte // undecoded remainder of the current bracket
	rec     record.Record
	valid   bool
	err     error
}

// NewIterator returns an iterator positioned before the first record.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

// SeekToFirst positions the iterator on the first record.
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.buf = nil
	it.bracket = -1
	it.advance()
}

// Next advances to the next record. No-op when the iterator is invalid.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	it.advance()
}

func (it *Iterator) advance() {
	it.valid = false
	if it.err != nil {
		return
	}
	if len(it.buf) == 0 {
		if it.bracket+1 >= len(it.r.indexOffs) {
			return
		}
		it.bracket++
		buf, _, err := it.r.readBracket(it.bracket)
		if err != nil {
			it.err = err
			return
		}
		it.buf = buf
	}
	rec, n, err := record.Decode(it.buf)
	if err != nil {
		it.err = fmt.Errorf("%w: %s: undecodable record", ErrCorrupted, it.r.path)
		return
	}
	it.buf = it.buf[n:]
	it.rec = rec
	it.valid = true
}

// Valid reports whether the iterator is positioned on a record.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current record's key. Valid only when Valid().
func (it *Iterator) Key() []byte { return it.rec.Key }

// Value returns the current record's value; nil for tombstones.
func (it *Iterator) Value() []byte { return it.rec.Value }

// Kind returns the current record's kind.
func (it *Iterator) Kind() record.Kind { return it.rec.Kind }

// Error returns the first error the iterator encountered.
func (it *Iterator) Error() error { return it.err }
