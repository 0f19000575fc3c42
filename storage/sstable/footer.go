package sstable

import (
	"io"

	"github.com/navijation/mvstore/util"
)

const (
	tableMagic         = 0x6d767374_6b760001 // "mvstkv" + format marker
	tableFormatVersion = 1
)

// footer is the fixed-size trailer of a table file. It is written last, after
// every block has been synced, so a file without a valid footer is an
// incomplete flush and must be ignored.
type footer struct {
	id          [16]byte
	indexOffset uint64
	indexLength uint64
	bloomOffset uint64
	bloomLength uint64
	entryCount  uint64
	minSeq      uint64
	maxSeq      uint64
	version     uint64
	magic       uint64
}

func (me *footer) SizeOf() uint64 {
	return 16 + 9*8
}

func (me *footer) hasBloom() bool {
	return me.bloomLength != 0
}

func (me *footer) WriteTo(writer io.Writer) (n int64, _ error) {
	dn, err := writer.Write(me.id[:])
	n += int64(dn)
	if err != nil {
		return n, err
	}

	dn, err = util.WriteUint64s(writer,
		me.indexOffset, me.indexLength,
		me.bloomOffset, me.bloomLength,
		me.entryCount, me.minSeq, me.maxSeq,
		me.version, me.magic,
	)
	return n + int64(dn), err
}

func (me *footer) ReadFrom(reader io.Reader) (n int64, _ error) {
	dn, err := io.ReadFull(reader, me.id[:])
	n += int64(dn)
	if err != nil {
		return n, err
	}

	dn, err = util.ReadUint64s(reader,
		&me.indexOffset, &me.indexLength,
		&me.bloomOffset, &me.bloomLength,
		&me.entryCount, &me.minSeq, &me.maxSeq,
		&me.version, &me.magic,
	)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	if me.magic != tableMagic || me.version != tableFormatVersion {
		return n, ErrCorruptTable
	}

	return n, nil
}
