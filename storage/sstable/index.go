package sstable

import (
	"bytes"
	"io"
	"slices"

	"github.com/navijation/mvstore/util"
)

// blockIndex is the sparse index over data blocks: one entry per block with
// the block's first user key and its physical extent, plus the last user key
// of the table. It is small enough to keep fully in memory for every open
// table.
type blockIndex struct {
	Blocks  []blockIndexEntry
	LastKey []byte
}

type blockIndexEntry struct {
	FirstKey []byte
	Offset   uint64
	Length   uint64
}

// search returns the index of the last block whose first key is <= key, or
// -1 when the key sorts before every block.
func (me *blockIndex) search(key []byte) int {
	idx, exists := slices.BinarySearchFunc(me.Blocks, key, func(block blockIndexEntry, target []byte) int {
		return bytes.Compare(block.FirstKey, target)
	})
	if exists {
		return idx
	}
	return idx - 1
}

func (me *blockIndex) WriteTo(writer io.Writer) (n int64, _ error) {
	if dn, err := util.WriteUint32(writer, uint32(len(me.Blocks))); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	for _, block := range me.Blocks {
		if dn, err := util.WriteUint32(writer, uint32(len(block.FirstKey))); err != nil {
			return n + int64(dn), err
		} else {
			n += int64(dn)
		}
		if dn, err := writer.Write(block.FirstKey); err != nil {
			return n + int64(dn), err
		} else {
			n += int64(dn)
		}
		if dn, err := util.WriteUint64s(writer, block.Offset, block.Length); err != nil {
			return n + int64(dn), err
		} else {
			n += int64(dn)
		}
	}

	if dn, err := util.WriteUint32(writer, uint32(len(me.LastKey))); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	dn, err := writer.Write(me.LastKey)
	return n + int64(dn), err
}

func (me *blockIndex) ReadFrom(reader io.Reader) (n int64, _ error) {
	numBlocks, dn, err := util.ReadUint32(reader)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	me.Blocks = make([]blockIndexEntry, 0, numBlocks)
	for range numBlocks {
		keySize, dn, err := util.ReadUint32(reader)
		n += int64(dn)
		if err != nil {
			return n, err
		}

		firstKey := make([]byte, keySize)
		dn, err = io.ReadFull(reader, firstKey)
		n += int64(dn)
		if err != nil {
			return n, err
		}

		var block blockIndexEntry
		block.FirstKey = firstKey
		dn, err = util.ReadUint64s(reader, &block.Offset, &block.Length)
		n += int64(dn)
		if err != nil {
			return n, err
		}

		me.Blocks = append(me.Blocks, block)
	}

	lastKeySize, dn, err := util.ReadUint32(reader)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	me.LastKey = make([]byte, lastKeySize)
	dn, err = io.ReadFull(reader, me.LastKey)
	return n + int64(dn), err
}
