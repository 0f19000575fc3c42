package engine

import (
	"log"
	"os"

	"github.com/navijation/mvstore/storage/sstable"
	"github.com/navijation/mvstore/util"
)

// flushOldestFrozen writes the oldest frozen memtable to a level-0 table and
// deletes the logs that covered it. Flushing oldest first keeps level 0
// ordered by recency. Returns whether a table was flushed.
func (me *Engine) flushOldestFrozen() bool {
	me.lock.RLock()
	if len(me.frozen) == 0 || me.stateErr != nil || me.closed {
		me.lock.RUnlock()
		return false
	}
	ft := me.frozen[len(me.frozen)-1]
	me.lock.RUnlock()

	handle, err := me.writeLevel0Table(ft)
	if err != nil {
		log.Printf("Failed to flush memtable to %q: %s", me.tablePath(0, ft.tableNumber), err)
		me.lock.Lock()
		me.stateErr = err
		me.lock.Unlock()
		return false
	}

	me.lock.Lock()
	registry := me.registry.clone()
	registry.insertLevel0(handle)
	me.registry = registry
	me.frozen = me.frozen[:len(me.frozen)-1]
	me.lock.Unlock()

	// the table now covers everything the logs did
	for _, logPath := range ft.logPaths {
		if err := os.Remove(logPath); err != nil {
			log.Printf("Failed to remove log file %q: %s", logPath, err)
		}
	}
	_ = util.SyncDir(me.path)

	me.flushCount.Add(1)
	return true
}

func (me *Engine) writeLevel0Table(ft *frozenTable) (*tableHandle, error) {
	writer, err := sstable.NewWriter(sstable.WriterArgs{
		Path:        me.tablePath(0, ft.tableNumber),
		TempDir:     me.tmpPath(),
		BlockSize:   me.blockSize,
		Compression: me.compression,
	})
	if err != nil {
		return nil, err
	}

	if err := writer.AppendAll(ft.mt.Entries()); err != nil {
		writer.Abort()
		return nil, err
	}
	if _, err := writer.Finish(); err != nil {
		return nil, err
	}

	reader, err := sstable.Open(sstable.OpenArgs{Path: me.tablePath(0, ft.tableNumber)})
	if err != nil {
		return nil, err
	}
	return newTableHandle(reader, ft.tableNumber), nil
}
