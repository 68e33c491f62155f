// Package compaction merges the records of several tables and MemTables
// into one sorted, deduplicated stream.
//
// MergingIterator takes the union of its sources via a min-heap ordered
// by (key ascending, generation descending). When a key appears in more
// than one source, only the record from the highest generation survives;
// older records are consumed silently. Under the full-merge policy a
// surviving tombstone is dropped together with everything it shadows, so
// the output contains no trace of deleted keys.
package compaction

import (
	"bytes"
	"container/heap"

	"github.com/aalhour/tidekv/internal/record"
)

// Source is one input to a merge: an iterator over a table or MemTable
// and the generation it came from. Higher generations are newer and win
// key conflicts.
type Source struct {
	Gen  uint64
	Iter record.Iterator
}

// MergingIterator implements record.Iterator over the union of its
// sources. Output keys are strictly increasing and unique, directly
// consumable by the table builder.
type MergingIterator struct {
	sources        []Source
	h              *sourceHeap
	dropTombstones bool
	keyBuf         []byte // scratch for the key being consumed
	valid          bool
	err            error
}

// NewMergingIterator returns a merging iterator over sources. With
// dropTombstones set, tombstones and the older records they shadow are
// removed from the output; with it clear, the winning tombstone is
// emitted.
func NewMergingIterator(sources []Source, dropTombstones bool) *MergingIterator {
	return &MergingIterator{
		sources:        sources,
		dropTombstones: dropTombstones,
		h:              &sourceHeap{items: make([]heapItem, 0, len(sources))},
	}
}

// SeekToFirst rewinds every source and positions on the first surviving
// record.
func (mi *MergingIterator) SeekToFirst() {
	mi.err = nil
	mi.valid = false
	mi.h.items = mi.h.items[:0]

	for i, src := range mi.sources {
		src.Iter.SeekToFirst()
		if err := src.Iter.Error(); err != nil {
			mi.err = err
			return
		}
		if src.Iter.Valid() {
			mi.h.items = append(mi.h.items, heapItem{
				index: i,
				key:   src.Iter.Key(),
				gen:   src.Gen,
			})
		}
	}
	heap.Init(mi.h)
	mi.position()
}

// Next consumes the current key from every source holding it, then
// settles on the next surviving record.
func (mi *MergingIterator) Next() {
	if !mi.valid {
		return
	}
	mi.valid = false
	// Copy the key first: consuming a child invalidates its slices.
	mi.keyBuf = append(mi.keyBuf[:0], mi.h.items[0].key...)
	mi.skipKey(mi.keyBuf)
	mi.position()
}

// Valid reports whether the iterator is positioned on a record.
func (mi *MergingIterator) Valid() bool { return mi.valid }

// Key returns the current record's key. Valid only when Valid().
func (mi *MergingIterator) Key() []byte {
	return mi.sources[mi.h.items[0].index].Iter.Key()
}

// Value returns the current record's value; nil for tombstones.
func (mi *MergingIterator) Value() []byte {
	return mi.sources[mi.h.items[0].index].Iter.Value()
}

// Kind returns the current record's kind.
func (mi *MergingIterator) Kind() record.Kind {
	return mi.sources[mi.h.items[0].index].Iter.Kind()
}

// Error returns the first error surfaced by any source.
func (mi *MergingIterator) Error() error { return mi.err }

// position settles on the heap top, applying the tombstone policy.
func (mi *MergingIterator) position() {
	for mi.err == nil && mi.h.Len() > 0 {
		top := mi.h.items[0]
		if mi.dropTombstones && mi.sources[top.index].Iter.Kind() == record.KindTombstone {
			mi.keyBuf = append(mi.keyBuf[:0], top.key...)
			mi.skipKey(mi.keyBuf)
			continue
		}
		mi.valid = true
		return
	}
}

// skipKey consumes key from every source positioned on it.
func (mi *MergingIterator) skipKey(key []byte) {
	for mi.err == nil && mi.h.Len() > 0 && bytes.Equal(mi.h.items[0].key, key) {
		mi.advanceTop()
	}
}

// advanceTop steps the source at the heap top and restores heap order.
func (mi *MergingIterator) advanceTop() {
	it := mi.sources[mi.h.items[0].index].Iter
	it.Next()
	if err := it.Error(); err != nil {
		mi.err = err
		return
	}
	if it.Valid() {
		mi.h.items[0].key = it.Key()
		heap.Fix(mi.h, 0)
	} else {
		heap.Pop(mi.h)
	}
}

type heapItem struct {
	index int    // index into sources
	key   []byte // current key of that source
	gen   uint64
}

// sourceHeap is a min-heap over the positioned sources: smallest key
// first, newest generation first among equal keys.
type sourceHeap struct {
	items []heapItem
}

func (h *sourceHeap) Len() int { return len(h.items) }

func (h *sourceHeap) Less(i, j int) bool {
	if c := bytes.Compare(h.items[i].key, h.items[j].key); c != 0 {
		return c < 0
	}
	return h.items[i].gen > h.items[j].gen
}

func (h *sourceHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *sourceHeap) Push(x any) {
	item, ok := x.(heapItem)
	if !ok {
		return
	}
	h.items = append(h.items, item)
}

func (h *sourceHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
