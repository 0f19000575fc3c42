package engine

// Stats is a point-in-time snapshot of engine counters for diagnostics.
type Stats struct {
	VisibleSeq           uint64
	OldestActiveSnapshot uint64
	ActiveSnapshots      int
	ActiveTxns           int64

	MemTableBytes   uint64
	FrozenMemTables int
	TablesPerLevel  []int
	TableBytes      uint64

	FlushCount      uint64
	CompactionCount uint64
}

func (me *Engine) Stats() Stats {
	me.lock.RLock()
	defer me.lock.RUnlock()

	out := Stats{
		VisibleSeq:           me.versions.VisibleSeq(),
		OldestActiveSnapshot: me.versions.OldestActiveSnapshot(),
		ActiveSnapshots:      me.versions.ActiveSnapshots(),
		ActiveTxns:           me.activeTxns.Load(),

		MemTableBytes:   me.active.ApproximateSize(),
		FrozenMemTables: len(me.frozen),
		TablesPerLevel:  make([]int, len(me.registry.levels)),

		FlushCount:      me.flushCount.Load(),
		CompactionCount: me.compactionCount.Load(),
	}

	for level, handles := range me.registry.levels {
		out.TablesPerLevel[level] = len(handles)
		out.TableBytes += me.registry.levelSize(level)
	}
	for _, ft := range me.frozen {
		out.MemTableBytes += ft.mt.ApproximateSize()
	}

	return out
}
