package engine

import (
	"bytes"
	"cmp"
	"log"
	"path/filepath"
	"slices"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/storage/sstable"
)

type compactionTask struct {
	level    int
	inputs   []*tableHandle
	overlaps []*tableHandle
}

// runCompactions repeatedly picks and runs compactions until every level is
// within its size target.
func (me *Engine) runCompactions() {
	for {
		task := me.pickCompaction()
		if task == nil {
			return
		}
		if err := me.runCompaction(task); err != nil {
			log.Printf("Compaction of level %d failed: %s", task.level, err)
			me.lock.Lock()
			me.stateErr = err
			me.lock.Unlock()
			return
		}
		me.compactionCount.Add(1)
	}
}

// pickCompaction selects work: all of level 0 once it accumulates enough
// tables, otherwise the oldest table of the first level exceeding its size
// target. Handles are not reference-counted here because only this worker
// retires tables.
func (me *Engine) pickCompaction() *compactionTask {
	me.lock.RLock()
	defer me.lock.RUnlock()

	if me.closed || me.stateErr != nil {
		return nil
	}

	registry := me.registry

	if len(registry.levels[0]) >= me.level0Trigger {
		inputs := slices.Clone(registry.levels[0])
		minKey, maxKey := keyRangeOf(inputs)
		return &compactionTask{
			level:    0,
			inputs:   inputs,
			overlaps: registry.overlapping(1, minKey, maxKey),
		}
	}

	for level := 1; level < me.numLevels-1; level++ {
		if registry.levelSize(level) <= me.levelTargetSize(level) {
			continue
		}
		input := slices.MinFunc(registry.levels[level], func(a, b *tableHandle) int {
			return cmp.Compare(a.fileNumber, b.fileNumber)
		})
		return &compactionTask{
			level:    level,
			inputs:   []*tableHandle{input},
			overlaps: registry.overlapping(level+1, input.meta.MinKey, input.meta.MaxKey),
		}
	}

	return nil
}

// runCompaction merges the task's tables into the next level, discarding
// versions no live snapshot can observe. Output tables rotate at user-key
// boundaries so the level's ranges stay disjoint.
func (me *Engine) runCompaction(task *compactionTask) error {
	outLevel := task.level + 1

	me.lock.RLock()
	// Tombstones can only be dropped when nothing below the output level
	// could still hold an older version of the key.
	bottomMost := true
	for level := outLevel + 1; level < me.numLevels; level++ {
		if len(me.registry.levels[level]) > 0 {
			bottomMost = false
			break
		}
	}
	me.lock.RUnlock()

	merged := sstable.NewMergeIterator()
	for _, handle := range task.inputs {
		stop, err := addReaderSource(merged, handle.reader, nil, nil)
		defer stop()
		if err != nil {
			return err
		}
	}
	for _, handle := range task.overlaps {
		stop, err := addReaderSource(merged, handle.reader, nil, nil)
		defer stop()
		if err != nil {
			return err
		}
	}

	filter := gcFilter{
		oldestSnapshot: me.versions.OldestActiveSnapshot(),
		dropTombstones: bottomMost,
	}

	var (
		writer  *sstable.Writer
		outputs []*tableHandle
		lastKey []byte
	)
	abortAll := func() {
		if writer != nil {
			writer.Abort()
		}
		for _, handle := range outputs {
			handle.retire()
		}
	}

	for {
		e, exists, err := merged.Next()
		if err != nil {
			abortAll()
			return err
		}
		if !exists {
			break
		}
		if !filter.keep(e) {
			continue
		}

		if writer != nil && writer.SizeOf() >= me.targetTableSize &&
			!bytes.Equal(e.Key, lastKey) {
			handle, err := me.finishCompactionOutput(writer, outLevel)
			if err != nil {
				writer = nil
				abortAll()
				return err
			}
			outputs = append(outputs, handle)
			writer = nil
		}

		if writer == nil {
			writer, err = sstable.NewWriter(sstable.WriterArgs{
				Path:        me.tablePath(outLevel, me.takeFileNumber()),
				TempDir:     me.tmpPath(),
				BlockSize:   me.blockSize,
				Compression: me.compression,
			})
			if err != nil {
				abortAll()
				return err
			}
		}

		if err := writer.Append(e); err != nil {
			abortAll()
			return err
		}
		lastKey = bytes.Clone(e.Key)
	}

	if writer != nil {
		handle, err := me.finishCompactionOutput(writer, outLevel)
		if err != nil {
			writer = nil
			abortAll()
			return err
		}
		outputs = append(outputs, handle)
	}

	me.lock.Lock()
	registry := me.registry.clone()
	for _, handle := range task.inputs {
		registry.remove(task.level, handle)
	}
	for _, handle := range task.overlaps {
		registry.remove(outLevel, handle)
	}
	for _, handle := range outputs {
		registry.insertSorted(outLevel, handle)
	}
	me.registry = registry
	me.lock.Unlock()

	// inputs are superseded; their files disappear once all readers drop them
	for _, handle := range task.inputs {
		handle.retire()
	}
	for _, handle := range task.overlaps {
		handle.retire()
	}

	return nil
}

func (me *Engine) finishCompactionOutput(
	writer *sstable.Writer, level int,
) (*tableHandle, error) {
	meta, err := writer.Finish()
	if err != nil {
		return nil, err
	}
	reader, err := sstable.Open(sstable.OpenArgs{Path: meta.Path})
	if err != nil {
		return nil, err
	}
	_, fileNumber, _ := parseTableFileName(filepath.Base(meta.Path))
	return newTableHandle(reader, fileNumber), nil
}

// gcFilter decides which versions survive a compaction. For each key the
// newest version is kept unless it is a droppable tombstone; an older version
// is kept only while the previously kept newer version is still above the
// oldest active snapshot, since otherwise no snapshot can reach it.
type gcFilter struct {
	oldestSnapshot uint64
	dropTombstones bool

	lastKey     []byte
	haveKey     bool
	dropKeyRest bool
	prevKeptSeq uint64
}

func (me *gcFilter) keep(e entry.Entry) bool {
	if !me.haveKey || !bytes.Equal(e.Key, me.lastKey) {
		me.lastKey = bytes.Clone(e.Key)
		me.haveKey = true

		if e.IsTombstone() && me.dropTombstones && e.Seq <= me.oldestSnapshot {
			// every snapshot sees the deletion, so the whole key vanishes
			me.dropKeyRest = true
			return false
		}
		me.dropKeyRest = false
		me.prevKeptSeq = e.Seq
		return true
	}

	if me.dropKeyRest {
		return false
	}
	if me.prevKeptSeq <= me.oldestSnapshot {
		// the newer kept version is visible to every live snapshot, which
		// makes this one unreachable
		me.dropKeyRest = true
		return false
	}
	me.prevKeptSeq = e.Seq
	return true
}

func keyRangeOf(handles []*tableHandle) (minKey, maxKey []byte) {
	for _, handle := range handles {
		if minKey == nil || bytes.Compare(handle.meta.MinKey, minKey) < 0 {
			minKey = handle.meta.MinKey
		}
		if maxKey == nil || bytes.Compare(handle.meta.MaxKey, maxKey) > 0 {
			maxKey = handle.meta.MaxKey
		}
	}
	return minKey, maxKey
}
