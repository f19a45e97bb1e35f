// Package engine implements the in-memory, multi-versioned key/value engine
// that backs the rockbind handle layer.
//
// The engine plays the role of the native storage engine: it hands out a
// primary database handle plus derived sub-handles (column families,
// snapshots, iterators, transaction log iterators, backup engines) whose
// lifetimes are managed by the rockbind package. Data never touches disk
// except through the backup engine.
package engine

import (
	"bytes"
	"math/rand"
	"sync/atomic"
)

const (
	// maxHeight is the maximum height for skip list nodes.
	maxHeight = 12

	// branching is the branching factor. On average 1/branching nodes are
	// promoted to the next level.
	branching = 4
)

// entryComparator orders the raw entries stored in the skip list.
type entryComparator func(a, b []byte) int

// node is a single skip list node holding one encoded entry.
type node struct {
	entry []byte
	// next[i] is the successor at level i. Atomic pointers give lock-free
	// reads; writers are serialized externally.
	next []atomic.Pointer[node]
}

func newNode(entry []byte, height int) *node {
	return &node{
		entry: entry,
		next:  make([]atomic.Pointer[node], height),
	}
}

// skipList is an ordered collection of encoded entries. Reads are lock-free;
// Insert requires external synchronization.
type skipList struct {
	head    *node
	height  atomic.Int32
	compare entryComparator
	rng     *rand.Rand
	count   atomic.Int64
}

func newSkipList(cmp entryComparator) *skipList {
	if cmp == nil {
		cmp = func(a, b []byte) int { return bytes.Compare(a, b) }
	}
	sl := &skipList{
		head:    newNode(nil, maxHeight),
		compare: cmp,
		rng:     rand.New(rand.NewSource(0x9E3779B9)),
	}
	sl.height.Store(1)
	return sl
}

// insert adds an entry to the list.
// REQUIRES: external synchronization.
// REQUIRES: no equal entry is currently in the list.
func (sl *skipList) insert(entry []byte) {
	prev := make([]*node, maxHeight)
	x := sl.findGreaterOrEqual(entry, prev)
	if x != nil && sl.compare(entry, x.entry) == 0 {
		return // duplicate; contract violation upstream
	}

	height := sl.randomHeight()
	if h := int(sl.height.Load()); height > h {
		for i := h; i < height; i++ {
			prev[i] = sl.head
		}
		sl.height.Store(int32(height))
	}

	n := newNode(entry, height)
	for i := 0; i < height; i++ {
		n.next[i].Store(prev[i].next[i].Load())
		prev[i].next[i].Store(n)
	}
	sl.count.Add(1)
}

func (sl *skipList) len() int64 {
	return sl.count.Load()
}

// findGreaterOrEqual returns the first node with entry >= target, filling
// prev (when non-nil) with the predecessor at each level.
func (sl *skipList) findGreaterOrEqual(target []byte, prev []*node) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.compare(target, next.entry) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with entry < target, or nil.
func (sl *skipList) findLessThan(target []byte) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.compare(next.entry, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// findLast returns the last node, or nil when the list is empty.
func (sl *skipList) findLast() *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *skipList) randomHeight() int {
	height := 1
	for height < maxHeight && sl.rng.Intn(branching) == 0 {
		height++
	}
	return height
}

// listIterator walks the skip list at level 0.
type listIterator struct {
	list *skipList
	node *node
}

func (sl *skipList) iterator() *listIterator {
	return &listIterator{list: sl}
}

func (it *listIterator) valid() bool {
	return it.node != nil
}

// entry returns the encoded entry at the current position.
// REQUIRES: valid()
func (it *listIterator) entry() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.entry
}

func (it *listIterator) next() {
	if it.node != nil {
		it.node = it.node.next[0].Load()
	}
}

func (it *listIterator) prev() {
	if it.node != nil {
		it.node = it.list.findLessThan(it.node.entry)
	}
}

// seek positions at the first entry >= target.
func (it *listIterator) seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

func (it *listIterator) seekToFirst() {
	it.node = it.list.head.next[0].Load()
}

func (it *listIterator) seekToLast() {
	it.node = it.list.findLast()
}
