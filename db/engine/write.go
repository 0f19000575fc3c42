package engine

import (
	"bytes"
	"log"
	"slices"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/storage/memtable"
	"github.com/navijation/mvstore/storage/wal"
)

// Put writes key to value as a single auto-committed operation.
func (me *Engine) Put(key, value []byte) error {
	return me.applySingle(entry.OpPut, key, value)
}

// Delete removes key as a single auto-committed operation. Deleting an
// absent key succeeds.
func (me *Engine) Delete(key []byte) error {
	return me.applySingle(entry.OpDelete, key, nil)
}

func (me *Engine) applySingle(op entry.Op, key, value []byte) error {
	me.lock.Lock()

	if err := me.checkStateLocked(); err != nil {
		me.lock.Unlock()
		return err
	}

	seq := me.versions.Allocate()

	// the memtable holds onto the slices, so the caller must stay free to
	// reuse its buffers after we return
	record := wal.Record{Seq: seq, Op: op, Key: bytes.Clone(key), Value: bytes.Clone(value)}

	if err := me.activeLog.AppendRecord(record); err != nil {
		me.stateErr = err
		me.lock.Unlock()
		return err
	}

	me.active.Apply(record.Entry())
	me.versions.Publish(seq)

	froze := me.maybeFreezeLocked()
	me.lock.Unlock()

	if froze {
		me.notifyWorker()
	}
	return nil
}

func (me *Engine) maybeFreezeLocked() bool {
	if me.active.ApproximateSize() < me.freezeThreshold {
		return false
	}
	return me.freezeActiveLocked() == nil
}

// freezeActiveLocked retires the active memtable to the frozen queue and
// swaps in an empty one behind a fresh write-ahead log. The old logs stay on
// disk until the frozen table is flushed.
func (me *Engine) freezeActiveLocked() error {
	logNumber := me.nextFileNumber
	tableNumber := me.nextFileNumber + 1
	me.nextFileNumber += 2

	newLog, err := wal.Open(wal.OpenArgs{
		Path:   me.walPath(logNumber),
		Create: true,
	})
	if err != nil {
		me.stateErr = err
		return err
	}

	logPaths := append(slices.Clone(me.recoveredLogs), me.activeLog.Path())
	if err := me.activeLog.Close(); err != nil {
		log.Printf("Failed to close log file %q: %s", me.activeLog.Path(), err)
	}

	me.active.Freeze()
	me.frozen = slices.Insert(me.frozen, 0, &frozenTable{
		mt:          me.active,
		logPaths:    logPaths,
		tableNumber: tableNumber,
	})

	me.active = memtable.New()
	me.activeLog = &newLog
	me.recoveredLogs = nil
	return nil
}
