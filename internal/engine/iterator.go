package engine

// iterator.go implements the point-lookup iterator.
//
// The iterator walks one column family's entry list at a fixed read sequence,
// resolving each user key to its newest visible version, skipping deletions,
// and honoring an optional [lower, upper) key range. Direction changes
// re-seek internally, so next-then-prev returns to the previously visited
// pair unchanged.

import (
	"bytes"
	"sync/atomic"
)

// maxSequence is the largest representable sequence number.
const maxSequence = ^uint64(0) >> 8

const (
	dirForward  = 1
	dirBackward = -1
)

// Iterator iterates over the visible user keys of one column family.
//
// An Iterator is not safe for concurrent use. It holds an engine-level
// reference on its column family, so the data stays readable even after the
// column family is dropped.
type Iterator struct {
	cf      *ColumnFamily
	data    *skipList
	readSeq uint64

	// Iteration bounds, owned exclusively by this iterator.
	// lower is inclusive, upper is exclusive.
	lower []byte
	upper []byte

	lit   *listIterator
	key   []byte
	value []byte
	valid bool
	dir   int

	closed atomic.Bool
}

// NewIterator opens an iterator over cf at sequence readSeq (0 = latest).
// The bounds are copied; the iterator owns its copies.
func (db *DB) NewIterator(cf *ColumnFamily, readSeq uint64, lower, upper []byte) (*Iterator, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if cf == nil {
		cf = db.defaultCF
	}
	if cf.Dropped() {
		return nil, ErrColumnFamilyDropped
	}
	data := cf.data.Load()
	if data == nil {
		return nil, ErrColumnFamilyDropped
	}
	if readSeq == 0 {
		readSeq = db.seq.Load()
	}
	cf.Ref()
	it := &Iterator{
		cf:      cf,
		data:    data,
		readSeq: readSeq,
		lit:     data.iterator(),
	}
	if lower != nil {
		it.lower = append([]byte(nil), lower...)
	}
	if upper != nil {
		it.upper = append([]byte(nil), upper...)
	}
	return it, nil
}

// Valid returns true if the iterator is positioned at a visible entry.
func (it *Iterator) Valid() bool {
	return it.valid && !it.closed.Load()
}

// Key returns the user key at the current position.
// REQUIRES: Valid()
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value at the current position.
// REQUIRES: Valid()
func (it *Iterator) Value() []byte { return it.value }

// SeekToFirst positions at the first visible key within bounds.
func (it *Iterator) SeekToFirst() {
	if it.closed.Load() {
		return
	}
	if it.lower != nil {
		it.Seek(it.lower)
		return
	}
	it.lit.seekToFirst()
	it.findNextUserEntry(nil)
}

// SeekToLast positions at the last visible key within bounds.
func (it *Iterator) SeekToLast() {
	if it.closed.Load() {
		return
	}
	if it.upper != nil {
		it.findPrevUserEntry(it.upper)
		return
	}
	it.lit.seekToLast()
	if !it.lit.valid() {
		it.valid = false
		return
	}
	ukey, _, _, _ := parseEntry(it.lit.entry())
	if it.lower != nil && bytes.Compare(ukey, it.lower) < 0 {
		it.valid = false
		return
	}
	if it.emitIfLive(ukey) {
		it.dir = dirBackward
		return
	}
	it.findPrevUserEntry(ukey)
}

// Seek positions at the first visible key >= target (clamped to the lower
// bound).
func (it *Iterator) Seek(target []byte) {
	if it.closed.Load() {
		return
	}
	if it.lower != nil && bytes.Compare(target, it.lower) < 0 {
		target = it.lower
	}
	it.lit.seek(lookupEntry(target, it.readSeq))
	it.findNextUserEntry(nil)
}

// SeekForPrev positions at the last visible key <= target (clamped to the
// upper bound).
func (it *Iterator) SeekForPrev(target []byte) {
	if it.closed.Load() {
		return
	}
	if it.upper != nil && bytes.Compare(target, it.upper) >= 0 {
		it.findPrevUserEntry(it.upper)
		return
	}
	it.Seek(target)
	if !it.valid {
		it.SeekToLast()
		return
	}
	if !bytes.Equal(it.key, target) {
		it.Prev()
	}
}

// Next moves to the next visible key.
// REQUIRES: Valid()
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	cur := it.key
	if it.dir == dirBackward {
		// The list position was left behind by the backward walk;
		// restore it to the emitted entry before advancing.
		it.lit.seek(lookupEntry(cur, it.readSeq))
	}
	it.findNextUserEntry(cur)
}

// Prev moves to the previous visible key.
// REQUIRES: Valid()
func (it *Iterator) Prev() {
	if !it.Valid() {
		return
	}
	it.findPrevUserEntry(it.key)
}

// Close releases the iterator's column family reference. Closing twice is
// a no-op.
func (it *Iterator) Close() error {
	if !it.closed.CompareAndSwap(false, true) {
		return nil
	}
	it.valid = false
	it.cf.Unref()
	return nil
}

// findNextUserEntry scans forward from the current list position to the
// next user key that is visible at readSeq and not equal to skipKey,
// skipping versions newer than readSeq and deleted keys.
func (it *Iterator) findNextUserEntry(skipKey []byte) {
	it.valid = false
	for it.lit.valid() {
		ukey, seq, kind, value := parseEntry(it.lit.entry())
		switch {
		case seq > it.readSeq:
			it.lit.next()
		case skipKey != nil && bytes.Equal(ukey, skipKey):
			it.lit.next()
		case kind == kindDeletion:
			skipKey = append([]byte(nil), ukey...)
			it.lit.next()
		default:
			if it.upper != nil && bytes.Compare(ukey, it.upper) >= 0 {
				return
			}
			it.key = append([]byte(nil), ukey...)
			it.value = append([]byte(nil), value...)
			it.valid = true
			it.dir = dirForward
			return
		}
	}
}

// findPrevUserEntry walks backward to the greatest visible user key
// strictly less than fromKey, respecting the lower bound.
func (it *Iterator) findPrevUserEntry(fromKey []byte) {
	it.valid = false
	cur := fromKey
	for {
		// Position just before the first entry of cur, then step back to
		// the predecessor user key. A seek past the end means every entry
		// sorts below cur, so the predecessor is the last node.
		it.lit.seek(encodeEntry(cur, maxSequence, kindSeek, nil))
		if it.lit.valid() {
			it.lit.prev()
		} else {
			it.lit.seekToLast()
		}
		if !it.lit.valid() {
			return
		}
		ukey, _, _, _ := parseEntry(it.lit.entry())
		if it.lower != nil && bytes.Compare(ukey, it.lower) < 0 {
			return
		}
		if it.emitIfLive(ukey) {
			it.dir = dirBackward
			return
		}
		cur = append([]byte(nil), ukey...)
	}
}

// emitIfLive resolves ukey at readSeq; if its newest visible version is a
// value, records it as the current position and returns true.
func (it *Iterator) emitIfLive(ukey []byte) bool {
	it.lit.seek(lookupEntry(ukey, it.readSeq))
	if !it.lit.valid() {
		return false
	}
	k, _, kind, value := parseEntry(it.lit.entry())
	if !bytes.Equal(k, ukey) || kind == kindDeletion {
		return false
	}
	it.key = append([]byte(nil), ukey...)
	it.value = append([]byte(nil), value...)
	it.valid = true
	return true
}
