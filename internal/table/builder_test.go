package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aalhour/tidekv/internal/checksum"
	"github.com/aalhour/tidekv/internal/encoding"
	"github.com/aalhour/tidekv/internal/record"
)

// sliceIter adapts a record slice to record.Iterator for building test
// tables.
type sliceIter struct {
	recs []record.Record
	pos  int
}

func (it *sliceIter) SeekToFirst()      { it.pos = 0 }
func (it *sliceIter) Valid() bool       { return it.pos < len(it.recs) }
func (it *sliceIter) Next()             { it.pos++ }
func (it *sliceIter) Key() []byte       { return it.recs[it.pos].Key }
func (it *sliceIter) Value() []byte     { return it.recs[it.pos].Value }
func (it *sliceIter) Kind() record.Kind { return it.recs[it.pos].Kind }
func (it *sliceIter) Error() error      { return nil }

// erroringIter yields a few records and then fails.
type erroringIter struct {
	sliceIter
	failAfter int
	err       error
}

func (it *erroringIter) Valid() bool {
	return it.pos < it.failAfter && it.pos < len(it.recs)
}

func (it *erroringIter) Error() error {
	if it.pos >= it.failAfter {
		return it.err
	}
	return nil
}

func seqRecords(n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.Record{
			Key:   []byte(fmt.Sprintf("key-%05d", i)),
			Value: []byte(fmt.Sprintf("value-%05d", i)),
		}
	}
	return recs
}

func buildTable(t *testing.T, path string, recs []record.Record, opts Options) WriteInfo {
	t.Helper()
	info, err := WriteFile(path, &sliceIter{recs: recs}, opts)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return info
}

func TestBuilderFileLayout(t *testing.T) {
	recs := []record.Record{
		{Key: []byte("aaa"), Value: []byte("1")},
		{Key: []byte("bbb"), Kind: record.KindTombstone},
		{Key: []byte("ccc"), Value: []byte("33")},
	}
	path := filepath.Join(t.TempDir(), "000.sst")
	buildTable(t, path, recs, Options{IndexInterval: 2})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Data section: records back to back in canonical encoding.
	var want []byte
	for _, rec := range recs {
		want = record.AppendEncoded(want, rec)
	}
	if len(data) < len(want) || !bytes.Equal(data[:len(want)], want) {
		t.Fatal("data section does not match canonical record encoding")
	}

	footer, err := decodeFooter(data[len(data)-FooterSize:])
	if err != nil {
		t.Fatalf("decodeFooter: %v", err)
	}
	if footer.BloomOffset != uint64(len(want)) {
		t.Errorf("BloomOffset = %d, want %d", footer.BloomOffset, len(want))
	}
	if footer.IndexOffset != footer.BloomOffset+footer.BloomSize {
		t.Errorf("IndexOffset = %d, want %d", footer.IndexOffset, footer.BloomOffset+footer.BloomSize)
	}
	if got := footer.IndexOffset + footer.IndexSize + FooterSize; got != uint64(len(data)) {
		t.Errorf("sections cover %d bytes, file has %d", got, len(data))
	}
	if got := checksum.Value(data[:len(data)-FooterSize]); got != footer.Checksum {
		t.Errorf("footer checksum = 0x%08x, computed 0x%08x", footer.Checksum, got)
	}

	// Index section: interval, entry count, then sampled keys. With
	// interval 2 and three records the samples are aaa, ccc.
	index := data[footer.IndexOffset : footer.IndexOffset+footer.IndexSize]
	s := encoding.NewSlice(index)
	if interval, _ := s.GetFixed32(); interval != 2 {
		t.Errorf("stored interval = %d, want 2", interval)
	}
	count, _ := s.GetFixed32()
	if count != 2 {
		t.Fatalf("index entry count = %d, want 2", count)
	}
	wantIndex := []struct {
		key string
		off uint64
	}{
		{"aaa", 0},
		{"ccc", uint64(record.EncodedLen(recs[0]) + record.EncodedLen(recs[1]))},
	}
	for _, w := range wantIndex {
		keyLen, _ := s.GetFixed32()
		key, _ := s.GetBytes(int(keyLen))
		off, _ := s.GetFixed64()
		if string(key) != w.key || off != w.off {
			t.Errorf("index entry = (%q, %d), want (%q, %d)", key, off, w.key, w.off)
		}
	}
	if s.Remaining() != 0 {
		t.Errorf("%d trailing bytes after index entries", s.Remaining())
	}
}

func TestBuilderRejectsOutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(&buf, DefaultOptions())
	if err := b.Add([]byte("mmm"), []byte("1"), record.KindValue); err != nil {
		t.Fatal(err)
	}

	if err := b.Add([]byte("aaa"), []byte("2"), record.KindValue); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("regressing key: err = %v, want ErrOutOfOrder", err)
	}
	if err := b.Add([]byte("mmm"), []byte("3"), record.KindValue); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("duplicate key: err = %v, want ErrOutOfOrder", err)
	}

	// A greater key is still accepted after rejections.
	if err := b.Add([]byte("zzz"), []byte("4"), record.KindValue); err != nil {
		t.Errorf("Add after rejection: %v", err)
	}
}

func TestFinishWithoutRecords(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(&buf, DefaultOptions())
	if err := b.Finish(); !errors.Is(err, ErrNoRecords) {
		t.Errorf("Finish on empty builder = %v, want ErrNoRecords", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty builder wrote %d bytes", buf.Len())
	}
}

func TestAddAfterFinish(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(&buf, DefaultOptions())
	if err := b.Add([]byte("k"), []byte("v"), record.KindValue); err != nil {
		t.Fatal(err)
	}
	if err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := b.Add([]byte("l"), []byte("w"), record.KindValue); err == nil {
		t.Error("Add after Finish succeeded")
	}
	if err := b.Finish(); err == nil {
		t.Error("second Finish succeeded")
	}
}

func TestIndexSampling(t *testing.T) {
	tests := []struct {
		records     int
		interval    int
		wantEntries int
	}{
		{1, 4, 1},   // single record, sampled as first
		{4, 4, 2},   // record 0 plus the forced last entry
		{5, 4, 2},   // records 0 and 4; 4 is also the last
		{9, 4, 3},   // 0, 4, 8 (8 is the last)
		{10, 4, 4},  // 0, 4, 8 plus the forced last entry
		{100, 1, 100},
		{10, 100, 2}, // interval larger than the table
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d_interval=%d", tt.records, tt.interval), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "000.sst")
			buildTable(t, path, seqRecords(tt.records), Options{IndexInterval: tt.interval})

			r, err := Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if got := r.NumIndexEntries(); got != tt.wantEntries {
				t.Errorf("NumIndexEntries() = %d, want %d", got, tt.wantEntries)
			}
			if got := r.Interval(); got != tt.interval {
				t.Errorf("Interval() = %d, want %d", got, tt.interval)
			}
		})
	}
}

func TestWriteFileEmptyIterator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000.sst")
	if _, err := WriteFile(path, &sliceIter{}, DefaultOptions()); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("WriteFile = %v, want ErrNoRecords", err)
	}
	assertDirEmpty(t, dir)
}

func TestWriteFileUnsortedIterator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000.sst")
	recs := []record.Record{
		{Key: []byte("b"), Value: []byte("1")},
		{Key: []byte("a"), Value: []byte("2")},
	}
	if _, err := WriteFile(path, &sliceIter{recs: recs}, DefaultOptions()); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("WriteFile = %v, want ErrOutOfOrder", err)
	}
	assertDirEmpty(t, dir)
}

func TestWriteFileIteratorError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000.sst")
	boom := errors.New("source failed")
	it := &erroringIter{sliceIter: sliceIter{recs: seqRecords(10)}, failAfter: 5, err: boom}
	if _, err := WriteFile(path, it, DefaultOptions()); !errors.Is(err, boom) {
		t.Fatalf("WriteFile = %v, want wrapped source error", err)
	}
	assertDirEmpty(t, dir)
}

func TestWriteFileInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000.sst")
	info := buildTable(t, path, seqRecords(50), DefaultOptions())

	if info.Path != path {
		t.Errorf("Path = %q, want %q", info.Path, path)
	}
	if info.NumRecords != 50 {
		t.Errorf("NumRecords = %d, want 50", info.NumRecords)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.FileSize != uint64(st.Size()) {
		t.Errorf("FileSize = %d, stat says %d", info.FileSize, st.Size())
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file left behind after a successful write")
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("unexpected file %s left in directory", e.Name())
	}
}

func BenchmarkBuilderAdd(b *testing.B) {
	builder := NewBuilder(io.Discard, DefaultOptions())
	value := make([]byte, 256)
	var key [16]byte
	var n uint64
	b.SetBytes(int64(len(key) + len(value)))
	for b.Loop() {
		binary.BigEndian.PutUint64(key[8:], n)
		n++
		if err := builder.Add(key[:], value, record.KindValue); err != nil {
			b.Fatal(err)
		}
	}
}
