package engine

import (
	"bytes"
	"iter"
	"slices"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/storage/sstable"
)

// Pair is one key-value result of a scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Scan iterates the newest committed version of every live key in the
// half-open range [start, end) in ascending key order. A nil end means
// unbounded. The iteration sees a consistent snapshot taken when it begins.
func (me *Engine) Scan(start, end []byte) iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		me.scanAt(start, end, me.versions.VisibleSeq())(yield)
	}
}

// scanAt merges all storage layers and keeps, per key, only the newest
// version with sequence number at most maxSeq, dropping tombstones.
func (me *Engine) scanAt(start, end []byte, maxSeq uint64) iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		me.lock.RLock()
		if me.closed {
			me.lock.RUnlock()
			yield(Pair{}, ErrClosed)
			return
		}

		// The active memtable may be mutated after the lock is dropped, so
		// its matching entries are materialized up front. Frozen memtables
		// are immutable and can be read lazily.
		activeEntries := slices.Collect(me.active.Scan(start, end))
		frozenTables := slices.Clone(me.frozen)

		registry := me.registry
		registry.acquireAll()
		me.lock.RUnlock()
		defer registry.releaseAll()

		merged := sstable.NewMergeIterator()
		_ = merged.AddSource(entrySliceSource(activeEntries))

		for _, ft := range frozenTables {
			next, stop := iter.Pull(ft.mt.Scan(start, end))
			defer stop()
			_ = merged.AddSource(func() (entry.Entry, bool, error) {
				e, ok := next()
				return e, ok, nil
			})
		}

		for _, level := range registry.levels {
			for _, handle := range level {
				if !scanOverlapsTable(handle, start, end) {
					continue
				}
				stop, err := addReaderSource(merged, handle.reader, start, end)
				defer stop()
				if err != nil {
					yield(Pair{}, err)
					return
				}
			}
		}

		var (
			currentKey  []byte
			haveCurrent bool
			currentDone bool
		)
		for {
			e, exists, err := merged.Next()
			if err != nil {
				yield(Pair{}, err)
				return
			}
			if !exists {
				return
			}

			if haveCurrent && bytes.Equal(e.Key, currentKey) {
				if currentDone {
					continue
				}
			} else {
				currentKey = bytes.Clone(e.Key)
				haveCurrent = true
				currentDone = false
			}

			if e.Seq > maxSeq {
				continue
			}
			currentDone = true

			if e.IsTombstone() {
				continue
			}
			// yielded slices must not alias memtable storage
			if !yield(Pair{Key: bytes.Clone(e.Key), Value: bytes.Clone(e.Value)}, nil) {
				return
			}
		}
	}
}

func entrySliceSource(entries []entry.Entry) func() (entry.Entry, bool, error) {
	position := 0
	return func() (entry.Entry, bool, error) {
		if position >= len(entries) {
			return entry.Entry{}, false, nil
		}
		out := entries[position]
		position++
		return out, true, nil
	}
}

func addReaderSource(
	merged *sstable.MergeIterator, reader *sstable.Reader, start, end []byte,
) (stop func(), _ error) {
	next, stop := iter.Pull2(reader.Scan(start, end))
	return stop, merged.AddSource(func() (entry.Entry, bool, error) {
		e, err, ok := next()
		if !ok {
			return entry.Entry{}, false, nil
		}
		if err != nil {
			return entry.Entry{}, false, err
		}
		return e, true, nil
	})
}

func scanOverlapsTable(handle *tableHandle, start, end []byte) bool {
	if start != nil && bytes.Compare(handle.meta.MaxKey, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(handle.meta.MinKey, end) >= 0 {
		return false
	}
	return true
}
