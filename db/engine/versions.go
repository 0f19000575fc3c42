package engine

import (
	"sync"
	"sync/atomic"
)

// versionSet allocates commit sequence numbers and tracks the snapshots held
// by in-flight transactions. Allocation and publication are split: a sequence
// becomes visible to new snapshots only after the writes it stamps have been
// applied, so no snapshot can ever observe half a commit.
type versionSet struct {
	visible atomic.Uint64

	mu        sync.Mutex
	allocated uint64
	snapshots map[uint64]int
}

func newVersionSet() *versionSet {
	return &versionSet{
		snapshots: make(map[uint64]int),
	}
}

// Allocate returns the next sequence number. Callers publish it once the
// stamped writes are applied.
func (me *versionSet) Allocate() uint64 {
	me.mu.Lock()
	defer me.mu.Unlock()

	me.allocated++
	return me.allocated
}

// Publish makes seq visible to subsequently registered snapshots. Publishes
// arrive in allocation order because all writes serialize through the
// engine's writer path, but the floor guard keeps a stale publish harmless.
func (me *versionSet) Publish(seq uint64) {
	for {
		current := me.visible.Load()
		if seq <= current || me.visible.CompareAndSwap(current, seq) {
			return
		}
	}
}

// VisibleSeq is the newest fully-applied sequence number.
func (me *versionSet) VisibleSeq() uint64 {
	return me.visible.Load()
}

// Restore initializes the counters during recovery.
func (me *versionSet) Restore(seq uint64) {
	me.mu.Lock()
	defer me.mu.Unlock()

	me.allocated = max(me.allocated, seq)
	me.Publish(seq)
}

// RegisterSnapshot records a read snapshot at the current visible sequence
// and returns it.
func (me *versionSet) RegisterSnapshot() uint64 {
	me.mu.Lock()
	defer me.mu.Unlock()

	seq := me.visible.Load()
	me.snapshots[seq]++
	return seq
}

func (me *versionSet) ReleaseSnapshot(seq uint64) {
	me.mu.Lock()
	defer me.mu.Unlock()

	count, exists := me.snapshots[seq]
	if !exists {
		return
	}
	if count <= 1 {
		delete(me.snapshots, seq)
	} else {
		me.snapshots[seq] = count - 1
	}
}

// OldestActiveSnapshot bounds what compaction may discard: no version visible
// at or below it to a live transaction can be dropped. With no snapshots
// registered it is the current visible sequence.
func (me *versionSet) OldestActiveSnapshot() uint64 {
	me.mu.Lock()
	defer me.mu.Unlock()

	oldest := me.visible.Load()
	for seq := range me.snapshots {
		oldest = min(oldest, seq)
	}
	return oldest
}

func (me *versionSet) ActiveSnapshots() int {
	me.mu.Lock()
	defer me.mu.Unlock()

	var total int
	for _, count := range me.snapshots {
		total += count
	}
	return total
}
