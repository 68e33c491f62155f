package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/aalhour/tidekv/internal/record"
)

// MemTable is the mutable in-memory buffer that absorbs writes before they
// are flushed to a sorted table. It maps keys to values or tombstones.
//
// Concurrency: Get and iteration are safe from any goroutine without
// locking. Put, Delete and Freeze require external serialization (the
// engine's write lock). After Freeze, reads and iteration remain valid
// forever; any further mutation panics.
type MemTable struct {
	list   *skipList
	size   atomic.Int64
	count  atomic.Int64
	frozen atomic.Bool
}

// New creates an empty MemTable.
func New() *MemTable {
	return &MemTable{list: newSkipList()}
}

// Put inserts or replaces the value for key. Key and value bytes are copied.
// REQUIRES: external write serialization; panics if the table is frozen.
func (mt *MemTable) Put(key, value []byte) {
	mt.mustMutable()
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	mt.set(key, &payload{value: v, kind: record.KindValue})
}

// Delete inserts or replaces a tombstone for key. The key bytes are copied.
// REQUIRES: external write serialization; panics if the table is frozen.
func (mt *MemTable) Delete(key []byte) {
	mt.mustMutable()
	mt.set(key, &payload{kind: record.KindTombstone})
}

// set inserts a node for key or swaps the payload of the existing one,
// adjusting the size accounting by the value-length delta.
func (mt *MemTable) set(key []byte, pl *payload) {
	prev := make([]*node, maxHeight)
	x := mt.list.findGreaterOrEqual(key, prev)
	if x != nil && bytes.Equal(x.key, key) {
		old := x.pl.Swap(pl)
		mt.size.Add(pl.valueLen() - old.valueLen())
		return
	}
	mt.list.insert(bytes.Clone(key), pl, prev)
	mt.size.Add(int64(len(key)) + pl.valueLen())
	mt.count.Add(1)
}

// Get looks up key. It returns (value, true, false) for a live entry,
// (nil, true, true) for a tombstone, and (nil, false, false) when the key
// has never been written. The returned slice must not be modified.
func (mt *MemTable) Get(key []byte) (value []byte, found, deleted bool) {
	x := mt.list.findGreaterOrEqual(key, nil)
	if x == nil || !bytes.Equal(x.key, key) {
		return nil, false, false
	}
	pl := x.pl.Load()
	if pl.kind == record.KindTombstone {
		return nil, true, true
	}
	return pl.value, true, false
}

// ApproximateSize returns the cumulative len(key)+len(value) over live
// entries, with tombstones counted as zero-length values. The engine
// compares this figure against the flush threshold.
func (mt *MemTable) ApproximateSize() int64 {
	return mt.size.Load()
}

// Len returns the number of entries, tombstones included.
func (mt *MemTable) Len() int {
	return int(mt.count.Load())
}

// Freeze marks the table immutable. Any later Put or Delete panics.
func (mt *MemTable) Freeze() {
	mt.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (mt *MemTable) Frozen() bool {
	return mt.frozen.Load()
}

func (mt *MemTable) mustMutable() {
	if mt.frozen.Load() {
		panic("memtable: write after freeze")
	}
}

// NewIterator returns an iterator over the table in ascending key order,
// tombstones included. It implements record.Iterator and is positioned
// before the first entry; call SeekToFirst before use.
func (mt *MemTable) NewIterator() *Iterator {
	return &Iterator{list: mt.list}
}

// Iterator walks the skiplist at level 0. The payload is captured once per
// position, so Key, Value and Kind stay mutually consistent even if the
// entry is concurrently replaced.
type Iterator struct {
	list *skipList
	node *node
	pl   *payload
}

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// SeekToFirst positions the iterator on the first entry.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
	it.capture()
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	if it.node == nil {
		return
	}
	it.node = it.node.getNext(0)
	it.capture()
}

// Key returns the current entry's key.
func (it *Iterator) Key() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.key
}

// Value returns the current entry's value, or nil for a tombstone.
func (it *Iterator) Value() []byte {
	if it.pl == nil || it.pl.kind == record.KindTombstone {
		return nil
	}
	return it.pl.value
}

// Kind returns the current entry's kind.
func (it *Iterator) Kind() record.Kind {
	if it.pl == nil {
		return record.KindValue
	}
	return it.pl.kind
}

// Error always returns nil; memtable iteration cannot fail.
func (it *Iterator) Error() error {
	return nil
}

func (it *Iterator) capture() {
	if it.node != nil {
		it.pl = it.node.pl.Load()
	} else {
		it.pl = nil
	}
}
