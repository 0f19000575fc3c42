package engine

import (
	"bytes"
	"math"
	"slices"

	"github.com/navijation/mvstore/storage/entry"
)

// Get returns the value of the newest committed version of key, or
// ErrNotFound if the key is absent or deleted.
func (me *Engine) Get(key []byte) ([]byte, error) {
	return me.getVisible(key, me.versions.VisibleSeq())
}

func (me *Engine) getVisible(key []byte, maxSeq uint64) ([]byte, error) {
	e, exists, err := me.getInternal(key, maxSeq)
	if err != nil {
		return nil, err
	}
	if !exists || e.IsTombstone() {
		return nil, ErrNotFound
	}
	// callers own the returned slice; it must not alias memtable storage
	return bytes.Clone(e.Value), nil
}

// getInternal returns the newest version of key with sequence number at most
// maxSeq, probing the active memtable, then frozen memtables newest first,
// then SSTables level by level. Tombstones are returned as-is so that callers
// can distinguish "deleted" from "never written".
func (me *Engine) getInternal(key []byte, maxSeq uint64) (out entry.Entry, exists bool, _ error) {
	me.lock.RLock()

	if me.closed {
		me.lock.RUnlock()
		return out, false, ErrClosed
	}

	if e, ok := me.probeMemtablesLocked(key, maxSeq); ok {
		me.lock.RUnlock()
		return e, true, nil
	}

	registry := me.registry
	registry.acquireAll()
	me.lock.RUnlock()
	defer registry.releaseAll()

	return probeTables(registry, key, maxSeq)
}

// probeLocked is getInternal for callers already holding the engine lock,
// such as commit validation. The registry cannot change underneath them, so
// no reference counting is needed.
func (me *Engine) probeLocked(key []byte, maxSeq uint64) (entry.Entry, bool, error) {
	if e, ok := me.probeMemtablesLocked(key, maxSeq); ok {
		return e, true, nil
	}
	return probeTables(me.registry, key, maxSeq)
}

func (me *Engine) probeMemtablesLocked(key []byte, maxSeq uint64) (entry.Entry, bool) {
	if e, ok := me.active.Get(key, maxSeq); ok {
		return e, true
	}
	for _, ft := range me.frozen {
		if e, ok := ft.mt.Get(key, maxSeq); ok {
			return e, true
		}
	}
	return entry.Entry{}, false
}

func probeTables(
	registry *tableRegistry, key []byte, maxSeq uint64,
) (out entry.Entry, exists bool, _ error) {
	// Level 0 tables may overlap, but newer tables hold strictly newer
	// sequence numbers for any given key, so the first visible hit walking
	// newest first is the newest visible version.
	for _, handle := range registry.levels[0] {
		if !handle.containsKey(key) {
			continue
		}
		e, ok, err := handle.reader.Get(key, maxSeq)
		if err != nil {
			return out, false, err
		}
		if ok {
			return e, true, nil
		}
	}

	for level := 1; level < len(registry.levels); level++ {
		handle := findTableForKey(registry.levels[level], key)
		if handle == nil {
			continue
		}
		e, ok, err := handle.reader.Get(key, maxSeq)
		if err != nil {
			return out, false, err
		}
		if ok {
			return e, true, nil
		}
	}

	return out, false, nil
}

// findTableForKey locates the unique table whose key range contains key in a
// level with disjoint ranges.
func findTableForKey(handles []*tableHandle, key []byte) *tableHandle {
	position, found := slices.BinarySearchFunc(handles, key, func(h *tableHandle, k []byte) int {
		return slices.Compare(h.meta.MinKey, k)
	})
	if found {
		return handles[position]
	}
	if position == 0 {
		return nil
	}
	if candidate := handles[position-1]; candidate.containsKey(key) {
		return candidate
	}
	return nil
}

// latestSeqLocked is used by commit validation: it returns the sequence
// number of the newest version of key regardless of visibility, or zero if
// the key has never been written.
func (me *Engine) latestSeqLocked(key []byte) (uint64, error) {
	e, exists, err := me.probeLocked(key, math.MaxUint64)
	if err != nil || !exists {
		return 0, err
	}
	return e.Seq, nil
}
