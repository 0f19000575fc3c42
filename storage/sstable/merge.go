package sstable

import (
	"bytes"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/util/heap"
)

// MergeIterator combines several entry streams, each already in internal key
// order, into a single stream in internal key order. Exact (key, sequence)
// duplicates across streams are emitted once, with earlier-added streams
// taking precedence; callers add newer layers first.
type MergeIterator struct {
	heap        heap.Heap[mergeStream]
	streamCount int

	lastKey   []byte
	lastSeq   uint64
	lastIsSet bool
}

type mergeStream struct {
	current      entry.Entry
	streamNumber int
	next         func() (entry.Entry, bool, error)
}

func NewMergeIterator() *MergeIterator {
	return &MergeIterator{
		heap: heap.NewHeap(func(a, b mergeStream) int {
			// lower internal keys first; on exact ties the earlier stream wins
			if cmp := entry.Compare(&a.current, &b.current); cmp != 0 {
				return cmp
			}
			return a.streamNumber - b.streamNumber
		}),
	}
}

// AddSource registers a pull-style stream. Streams added earlier shadow later
// ones on exact (key, sequence) collisions.
func (me *MergeIterator) AddSource(next func() (entry.Entry, bool, error)) error {
	e, exists, err := next()
	if err != nil {
		return err
	}
	streamNumber := me.streamCount
	me.streamCount++
	if !exists {
		return nil
	}

	me.heap.Push(mergeStream{
		current:      e,
		streamNumber: streamNumber,
		next:         next,
	})
	return nil
}

// Next returns the next entry in internal key order.
func (me *MergeIterator) Next() (out entry.Entry, exists bool, _ error) {
	for me.heap.Size() > 0 {
		stream := me.heap.Pop()

		nextEntry, hasNext, err := stream.next()
		if err != nil {
			return out, false, err
		}
		if hasNext {
			me.heap.Push(mergeStream{
				current:      nextEntry,
				streamNumber: stream.streamNumber,
				next:         stream.next,
			})
		}

		// skip exact duplicates already emitted from a newer stream
		if me.lastIsSet && stream.current.Seq == me.lastSeq &&
			bytes.Equal(stream.current.Key, me.lastKey) {
			continue
		}

		me.lastKey = stream.current.Key
		me.lastSeq = stream.current.Seq
		me.lastIsSet = true
		return stream.current, true, nil
	}

	return out, false, nil
}
