package engine

import (
	"bytes"
	"log"
	"os"
	"slices"
	"sync/atomic"

	"github.com/navijation/mvstore/storage/sstable"
)

// tableHandle wraps an open table reader with a reference count. The registry
// holds one reference; readers acquire additional ones for the duration of an
// operation. When the handle is retired by a flush or compaction swap, the
// file is closed and deleted only after the last reference drops, so in-use
// tables are removed lazily and never underneath a reader.
type tableHandle struct {
	reader     *sstable.Reader
	meta       sstable.TableMeta
	fileNumber uint64

	refs     atomic.Int32
	obsolete atomic.Bool
}

func newTableHandle(reader *sstable.Reader, fileNumber uint64) *tableHandle {
	handle := &tableHandle{
		reader:     reader,
		meta:       reader.Meta(),
		fileNumber: fileNumber,
	}
	handle.refs.Store(1)
	return handle
}

func (me *tableHandle) acquire() {
	me.refs.Add(1)
}

func (me *tableHandle) release() {
	if me.refs.Add(-1) > 0 {
		return
	}
	if err := me.reader.Close(); err != nil {
		log.Printf("Failed to close table %q: %s", me.meta.Path, err)
	}
	if me.obsolete.Load() {
		if err := os.Remove(me.meta.Path); err != nil {
			log.Printf("Failed to remove obsolete table %q: %s", me.meta.Path, err)
		}
	}
}

// retire drops the registry's reference and marks the file for deletion once
// every in-flight reader is done with it.
func (me *tableHandle) retire() {
	me.obsolete.Store(true)
	me.release()
}

// containsKey reports whether key falls inside the table's key range.
func (me *tableHandle) containsKey(key []byte) bool {
	return bytes.Compare(key, me.meta.MinKey) >= 0 &&
		bytes.Compare(key, me.meta.MaxKey) <= 0
}

// overlapsRange reports whether the table's key range intersects
// [minKey, maxKey].
func (me *tableHandle) overlapsRange(minKey, maxKey []byte) bool {
	return bytes.Compare(me.meta.MinKey, maxKey) <= 0 &&
		bytes.Compare(me.meta.MaxKey, minKey) >= 0
}

// tableRegistry is an immutable snapshot of the table set. Level 0 holds
// freshly flushed, possibly overlapping tables ordered newest first; levels
// >= 1 hold non-overlapping tables ordered by ascending key range. Flush and
// compaction never mutate a registry in place: they build a modified copy and
// swap the engine's pointer, so a reader that captured the old snapshot keeps
// a complete, consistent view.
type tableRegistry struct {
	levels [][]*tableHandle
}

func newTableRegistry(numLevels int) *tableRegistry {
	return &tableRegistry{
		levels: make([][]*tableHandle, numLevels),
	}
}

func (me *tableRegistry) clone() *tableRegistry {
	out := &tableRegistry{
		levels: make([][]*tableHandle, len(me.levels)),
	}
	for i := range me.levels {
		out.levels[i] = slices.Clone(me.levels[i])
	}
	return out
}

func (me *tableRegistry) acquireAll() {
	for _, level := range me.levels {
		for _, handle := range level {
			handle.acquire()
		}
	}
}

func (me *tableRegistry) releaseAll() {
	for _, level := range me.levels {
		for _, handle := range level {
			handle.release()
		}
	}
}

func (me *tableRegistry) levelSize(level int) (out uint64) {
	for _, handle := range me.levels[level] {
		out += handle.meta.Size
	}
	return out
}

func (me *tableRegistry) tableCount() (out int) {
	for _, level := range me.levels {
		out += len(level)
	}
	return out
}

// overlapping returns the tables of a level whose key ranges intersect
// [minKey, maxKey].
func (me *tableRegistry) overlapping(level int, minKey, maxKey []byte) (out []*tableHandle) {
	for _, handle := range me.levels[level] {
		if handle.overlapsRange(minKey, maxKey) {
			out = append(out, handle)
		}
	}
	return out
}

// insertLevel0 prepends a fresh flush output; level 0 is ordered newest
// first so point lookups hit the newest data first.
func (me *tableRegistry) insertLevel0(handle *tableHandle) {
	me.levels[0] = slices.Insert(me.levels[0], 0, handle)
}

// insertSorted places a compaction output into a level ordered by key range.
func (me *tableRegistry) insertSorted(level int, handle *tableHandle) {
	idx, _ := slices.BinarySearchFunc(me.levels[level], handle, func(a, b *tableHandle) int {
		return bytes.Compare(a.meta.MinKey, b.meta.MinKey)
	})
	me.levels[level] = slices.Insert(me.levels[level], idx, handle)
}

func (me *tableRegistry) remove(level int, handle *tableHandle) {
	me.levels[level] = slices.DeleteFunc(slices.Clone(me.levels[level]), func(h *tableHandle) bool {
		return h == handle
	})
}
