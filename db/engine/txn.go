package engine

import (
	"bytes"
	"iter"
	"slices"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/storage/wal"
)

type txnState uint8

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

// Txn is an optimistic snapshot-isolated transaction. Reads see the state
// committed before Begin plus the transaction's own writes; writes are
// buffered until Commit, which fails with ErrConflict if any written key was
// committed by another transaction in the meantime.
//
// A Txn is owned by a single goroutine and is not safe for concurrent use.
type Txn struct {
	engine      *Engine
	id          uint64
	snapshotSeq uint64
	state       txnState

	writes map[string]pendingWrite
	order  []string
}

type pendingWrite struct {
	op    entry.Op
	value []byte
}

// Begin starts a transaction whose snapshot is the newest committed state.
func (me *Engine) Begin() (*Txn, error) {
	me.lock.RLock()
	closed := me.closed
	me.lock.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	out := &Txn{
		engine:      me,
		id:          me.nextTxnID.Add(1),
		snapshotSeq: me.versions.RegisterSnapshot(),
		writes:      map[string]pendingWrite{},
	}
	me.activeTxns.Add(1)
	return out, nil
}

// ID identifies the transaction for diagnostics.
func (me *Txn) ID() uint64 {
	return me.id
}

func (me *Txn) Get(key []byte) ([]byte, error) {
	if me.state != txnActive {
		return nil, ErrTxnFinished
	}
	if w, exists := me.writes[string(key)]; exists {
		if w.op == entry.OpDelete {
			return nil, ErrNotFound
		}
		return bytes.Clone(w.value), nil
	}
	return me.engine.getVisible(key, me.snapshotSeq)
}

func (me *Txn) Put(key, value []byte) error {
	return me.buffer(entry.OpPut, key, value)
}

func (me *Txn) Delete(key []byte) error {
	return me.buffer(entry.OpDelete, key, nil)
}

func (me *Txn) buffer(op entry.Op, key, value []byte) error {
	if me.state != txnActive {
		return ErrTxnFinished
	}
	keyString := string(key)
	if _, exists := me.writes[keyString]; !exists {
		me.order = append(me.order, keyString)
	}
	me.writes[keyString] = pendingWrite{op: op, value: bytes.Clone(value)}
	return nil
}

// Scan iterates [start, end) as of the transaction's snapshot, with the
// transaction's own buffered writes layered on top.
func (me *Txn) Scan(start, end []byte) iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		if me.state != txnActive {
			yield(Pair{}, ErrTxnFinished)
			return
		}

		pending := me.pendingInRange(start, end)
		position := 0
		emitPending := func(w pendingKeyWrite) bool {
			if w.op == entry.OpDelete {
				return true
			}
			return yield(Pair{Key: []byte(w.key), Value: bytes.Clone(w.value)}, nil)
		}

		for pair, err := range me.engine.scanAt(start, end, me.snapshotSeq) {
			if err != nil {
				yield(Pair{}, err)
				return
			}
			for position < len(pending) && pending[position].key < string(pair.Key) {
				if !emitPending(pending[position]) {
					return
				}
				position++
			}
			if position < len(pending) && pending[position].key == string(pair.Key) {
				// the buffered write shadows the committed version
				if !emitPending(pending[position]) {
					return
				}
				position++
				continue
			}
			if !yield(pair, nil) {
				return
			}
		}
		for ; position < len(pending); position++ {
			if !emitPending(pending[position]) {
				return
			}
		}
	}
}

type pendingKeyWrite struct {
	key   string
	op    entry.Op
	value []byte
}

func (me *Txn) pendingInRange(start, end []byte) []pendingKeyWrite {
	out := make([]pendingKeyWrite, 0, len(me.writes))
	for key, w := range me.writes {
		if start != nil && key < string(start) {
			continue
		}
		if end != nil && key >= string(end) {
			continue
		}
		out = append(out, pendingKeyWrite{key: key, op: w.op, value: w.value})
	}
	slices.SortFunc(out, func(a, b pendingKeyWrite) int {
		return bytes.Compare([]byte(a.key), []byte(b.key))
	})
	return out
}

// Commit atomically publishes the transaction's writes. It fails with
// ErrConflict, aborting the transaction, if any buffered key has a committed
// version newer than the snapshot. A transaction with no writes commits
// without consuming a sequence number.
func (me *Txn) Commit() error {
	if me.state != txnActive {
		return ErrTxnFinished
	}
	return me.engine.commitTxn(me)
}

// Abort discards the transaction's buffered writes. Aborting an already
// aborted transaction is a no-op; aborting a committed one fails.
func (me *Txn) Abort() error {
	if me.state == txnCommitted {
		return ErrTxnFinished
	}
	me.finish(txnAborted)
	return nil
}

func (me *Txn) finish(state txnState) {
	if me.state != txnActive {
		return
	}
	me.state = state
	me.engine.versions.ReleaseSnapshot(me.snapshotSeq)
	me.engine.activeTxns.Add(-1)
	me.writes = nil
	me.order = nil
}

func (me *Engine) commitTxn(txn *Txn) error {
	me.lock.Lock()

	if err := me.checkStateLocked(); err != nil {
		me.lock.Unlock()
		return err
	}

	if len(txn.writes) == 0 {
		me.lock.Unlock()
		txn.finish(txnCommitted)
		return nil
	}

	// first committer wins: any key written after the snapshot was taken
	// dooms this transaction
	for _, key := range txn.order {
		latestSeq, err := me.latestSeqLocked([]byte(key))
		if err != nil {
			me.lock.Unlock()
			return err
		}
		if latestSeq > txn.snapshotSeq {
			me.lock.Unlock()
			txn.finish(txnAborted)
			return ErrConflict
		}
	}

	commitSeq := me.versions.Allocate()
	records := make([]wal.Record, 0, len(txn.order))
	for _, key := range txn.order {
		w := txn.writes[key]
		records = append(records, wal.Record{
			Seq:   commitSeq,
			Op:    w.op,
			Key:   []byte(key),
			Value: w.value,
		})
	}

	if err := me.activeLog.AppendRecords(records); err != nil {
		me.stateErr = err
		me.lock.Unlock()
		return err
	}

	for i := range records {
		me.active.Apply(records[i].Entry())
	}
	me.versions.Publish(commitSeq)

	froze := me.maybeFreezeLocked()
	me.lock.Unlock()

	txn.finish(txnCommitted)
	if froze {
		me.notifyWorker()
	}
	return nil
}
