package memtable

import (
	"bytes"
	"iter"
	"slices"

	"github.com/navijation/mvstore/storage/entry"
)

// MemTable is a sorted in-memory staging area for recent writes. Entries are
// kept in internal key order: ascending by user key, descending by sequence
// number within a key, so the newest version of a key is found first.
//
// A MemTable is not internally synchronized. The owning engine serializes all
// mutations through its single writer path and excludes readers while a
// mutation is in flight; once frozen the table is immutable and may be shared
// freely.
type MemTable struct {
	entries []entry.Entry
	size    uint64
	maxSeq  uint64
	frozen  bool
}

func New() *MemTable {
	return &MemTable{}
}

func (me *MemTable) Put(key []byte, seq uint64, value []byte) {
	me.apply(entry.Entry{
		Key:   key,
		Seq:   seq,
		Op:    entry.OpPut,
		Value: value,
	})
}

func (me *MemTable) Delete(key []byte, seq uint64) {
	me.apply(entry.Entry{
		Key: key,
		Seq: seq,
		Op:  entry.OpDelete,
	})
}

// Apply inserts an already-formed entry, e.g. during WAL replay.
func (me *MemTable) Apply(e entry.Entry) {
	me.apply(e)
}

func (me *MemTable) apply(e entry.Entry) {
	if me.frozen {
		panic("memtable: mutation of a frozen table")
	}

	idx, exists := slices.BinarySearchFunc(me.entries, e, func(existing, target entry.Entry) int {
		return entry.Compare(&existing, &target)
	})
	if exists {
		// same key and sequence: identical logical write, keep the newer payload
		me.size += e.SizeOf() - me.entries[idx].SizeOf()
		me.entries[idx] = e
	} else {
		me.entries = slices.Insert(me.entries, idx, e)
		me.size += e.SizeOf()
	}

	me.maxSeq = max(me.maxSeq, e.Seq)
}

// Get returns the newest entry for key with sequence <= maxSeq. The entry may
// be a tombstone; interpreting it is the caller's concern.
func (me *MemTable) Get(key []byte, maxSeq uint64) (out entry.Entry, exists bool) {
	target := entry.Entry{Key: key, Seq: maxSeq}
	idx, _ := slices.BinarySearchFunc(me.entries, target, func(existing, t entry.Entry) int {
		return entry.Compare(&existing, &t)
	})
	if idx >= len(me.entries) {
		return out, false
	}
	if !bytes.Equal(me.entries[idx].Key, key) {
		return out, false
	}
	return me.entries[idx], true
}

// Scan yields all versions of all keys in [start, end) in internal key order.
// A nil end means unbounded. Callers that need a stable view of a live table
// must materialize the result while they exclude writers.
func (me *MemTable) Scan(start, end []byte) iter.Seq[entry.Entry] {
	from, _ := slices.BinarySearchFunc(me.entries, start, func(existing entry.Entry, target []byte) int {
		if cmp := bytes.Compare(existing.Key, target); cmp != 0 {
			return cmp
		}
		// position before every version of the start key
		return 1
	})

	return func(yield func(entry.Entry) bool) {
		for i := from; i < len(me.entries); i++ {
			if end != nil && bytes.Compare(me.entries[i].Key, end) >= 0 {
				return
			}
			if !yield(me.entries[i]) {
				return
			}
		}
	}
}

// Entries yields every entry in internal key order, for flushing.
func (me *MemTable) Entries() iter.Seq[entry.Entry] {
	return func(yield func(entry.Entry) bool) {
		for _, e := range me.entries {
			if !yield(e) {
				return
			}
		}
	}
}

func (me *MemTable) Len() int {
	return len(me.entries)
}

// ApproximateSize is the accumulated encoded size of all entries. Freeze
// policy is the caller's decision; the table itself never refuses writes.
func (me *MemTable) ApproximateSize() uint64 {
	return me.size
}

func (me *MemTable) MaxSeq() uint64 {
	return me.maxSeq
}

func (me *MemTable) Freeze() {
	me.frozen = true
}

func (me *MemTable) IsFrozen() bool {
	return me.frozen
}
