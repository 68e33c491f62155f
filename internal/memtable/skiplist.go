// Package memtable implements the engine's in-memory ordered write buffer.
//
// The buffer is a skiplist keyed by user key with these properties:
//   - Lock-free reads: concurrent readers need no locking.
//   - Writes require external synchronization (the engine's write lock).
//   - Nodes are never unlinked; a write to an existing key swaps the node's
//     payload through an atomic pointer, so the list holds exactly one node
//     per key at all times.
package memtable

import (
	"bytes"
	"math/rand"
	"sync/atomic"

	"github.com/aalhour/tidekv/internal/record"
)

const (
	// maxHeight is the maximum height for skiplist nodes.
	maxHeight = 12

	// branchingFactor controls promotion: on average 1/branchingFactor of
	// the nodes at level i also appear at level i+1.
	branchingFactor = 4
)

// payload is a node's value state. A write to an existing key builds a new
// payload and swaps it in atomically, so readers always observe a complete
// (value, kind) pair.
type payload struct {
	value []byte
	kind  record.Kind
}

// valueLen returns the number of value bytes the payload contributes to the
// size accounting. Tombstones count as zero-length values.
func (p *payload) valueLen() int64 {
	if p.kind == record.KindTombstone {
		return 0
	}
	return int64(len(p.value))
}

// node is a skiplist node. key is immutable after construction; pl and the
// next pointers are accessed atomically.
type node struct {
	key  []byte
	pl   atomic.Pointer[payload]
	next []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{
		key:  key,
		next: make([]atomic.Pointer[node], height),
	}
}

// getNext returns the next node at the given level.
func (n *node) getNext(level int) *node {
	return n.next[level].Load()
}

// setNext sets the next node at the given level.
func (n *node) setNext(level int, x *node) {
	n.next[level].Store(x)
}

// skipList is the ordered node store. Keys are compared bytewise.
type skipList struct {
	head      *node
	maxHeight int32 // current max height, accessed atomically
	rng       *rand.Rand

	// scaledInvB = (1 << 32) / branchingFactor, for the height coin flip.
	scaledInvB uint32
}

func newSkipList() *skipList {
	return &skipList{
		head:       newNode(nil, maxHeight),
		maxHeight:  1,
		rng:        rand.New(rand.NewSource(0xDEADBEEF)),
		scaledInvB: uint32(0xFFFFFFFF) / branchingFactor,
	}
}

// findGreaterOrEqual finds the first node with key >= the given key.
// If prev is not nil it must have length maxHeight; prev[level] is filled
// with the predecessor at each level at or below the current max height.
func (sl *skipList) findGreaterOrEqual(key []byte, prev []*node) *node {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && bytes.Compare(key, next.key) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

// insert links a new node for key with the given payload.
// REQUIRES: external write serialization.
// REQUIRES: no node equal to key is in the list, and prev was filled by
// findGreaterOrEqual(key, prev) with no intervening mutation.
func (sl *skipList) insert(key []byte, pl *payload, prev []*node) {
	height := sl.randomHeight()

	maxH := int(atomic.LoadInt32(&sl.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	// Publish the payload before linking so a reader that finds the node
	// through a next pointer always sees it complete.
	x := newNode(key, height)
	x.pl.Store(pl)
	for i := range height {
		x.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, x)
	}
}

// randomHeight generates a height for a new node.
func (sl *skipList) randomHeight() int {
	height := 1
	for height < maxHeight && sl.rng.Uint32() < sl.scaledInvB {
		height++
	}
	return height
}
