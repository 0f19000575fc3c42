package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/util"
)

const defaultBlockSize uint64 = 4 << 10

// Writer builds a table file. Entries must arrive in strictly increasing
// internal key order. The table is written to a temporary file and renamed
// into place by Finish, so a crash mid-write never leaves a registrable
// half-table behind.
type Writer struct {
	// immutable config
	finalPath         string
	blockSize         uint64
	codec             Compression
	falsePositiveRate float64
	disableFilter     bool

	// state
	file       *os.File
	offset     uint64
	block      blockBuilder
	index      blockIndex
	keys       [][]byte
	entryCount uint64
	minKey     []byte
	minSeq     uint64
	maxSeq     uint64
	lastKey    []byte
	lastSeq    uint64
	id         [16]byte
	finished   bool
}

type WriterArgs struct {
	// Path is the final location of the table after Finish.
	Path string
	// TempDir holds the in-progress file; it must be on the same filesystem
	// as Path for the rename to be atomic.
	TempDir           string
	BlockSize         util.Optional[uint64]
	Compression       util.Optional[Compression]
	FalsePositiveRate util.Optional[float64]
	DisableFilter     bool
}

func NewWriter(args WriterArgs) (*Writer, error) {
	file, err := os.CreateTemp(args.TempDir, "sstable_*.tmp")
	if err != nil {
		return nil, err
	}

	return &Writer{
		finalPath:         args.Path,
		blockSize:         args.BlockSize.Or(defaultBlockSize),
		codec:             args.Compression.Or(SnappyCompression),
		falsePositiveRate: args.FalsePositiveRate.Or(defaultBloomFalsePositiveRate),
		disableFilter:     args.DisableFilter,

		file: file,
		id:   util.NewRandomUUIDBytes(),
	}, nil
}

// Append adds the next entry. Its internal key must sort strictly after the
// previous one.
func (me *Writer) Append(e entry.Entry) error {
	if me.finished {
		return fmt.Errorf("sstable: append to a finished writer")
	}

	if me.entryCount > 0 &&
		entry.CompareKeySeq(e.Key, e.Seq, me.lastKey, me.lastSeq) <= 0 {
		return fmt.Errorf("sstable: out-of-order append of %q@%d after %q@%d",
			e.Key, e.Seq, me.lastKey, me.lastSeq)
	}

	newKey := !bytes.Equal(e.Key, me.lastKey)

	// blocks are only cut at user key boundaries, so every version of one key
	// lives in a single block
	if newKey && !me.block.Empty() && me.block.SizeOf() >= me.blockSize {
		if err := me.flushBlock(); err != nil {
			return err
		}
	}

	if me.entryCount == 0 {
		me.minKey = bytes.Clone(e.Key)
		me.minSeq = e.Seq
		me.maxSeq = e.Seq
	} else {
		me.minSeq = min(me.minSeq, e.Seq)
		me.maxSeq = max(me.maxSeq, e.Seq)
	}

	if newKey {
		me.keys = append(me.keys, bytes.Clone(e.Key))
	}

	me.block.Append(e)
	me.entryCount++
	me.lastKey = bytes.Clone(e.Key)
	me.lastSeq = e.Seq

	return nil
}

// SizeOf returns the bytes written so far plus the pending block, an estimate
// of the final table size.
func (me *Writer) SizeOf() uint64 {
	return me.offset + me.block.SizeOf()
}

// AppendAll drains an entry sequence into the writer.
func (me *Writer) AppendAll(entries func(yield func(entry.Entry) bool)) error {
	var appendErr error
	entries(func(e entry.Entry) bool {
		appendErr = me.Append(e)
		return appendErr == nil
	})
	return appendErr
}

// Finish writes the index, filter, and footer, syncs, and atomically renames
// the table into its final location.
func (me *Writer) Finish() (out TableMeta, err error) {
	if me.finished {
		return out, fmt.Errorf("sstable: writer already finished")
	}
	if me.entryCount == 0 {
		return out, fmt.Errorf("sstable: finishing an empty table")
	}

	defer func() {
		if err != nil {
			me.Abort()
		}
	}()

	if !me.block.Empty() {
		if err := me.flushBlock(); err != nil {
			return out, err
		}
	}

	me.index.LastKey = me.lastKey

	tableFooter := footer{
		id:         me.id,
		entryCount: me.entryCount,
		minSeq:     me.minSeq,
		maxSeq:     me.maxSeq,
		version:    tableFormatVersion,
		magic:      tableMagic,
	}

	indexPayload, err := util.ToBytes(&me.index)
	if err != nil {
		return out, err
	}
	tableFooter.indexOffset = me.offset
	if err := me.writePhysicalBlock(indexPayload); err != nil {
		return out, err
	}
	tableFooter.indexLength = me.offset - tableFooter.indexOffset

	if !me.disableFilter {
		filter := buildKeyFilter(me.keys, me.falsePositiveRate)
		tableFooter.bloomOffset = me.offset
		if err := me.writePhysicalBlock(filter.Marshal()); err != nil {
			return out, err
		}
		tableFooter.bloomLength = me.offset - tableFooter.bloomOffset
	}

	fileW := util.NewFileWrapperAt(me.file, me.offset)
	footerSize, err := tableFooter.WriteTo(&fileW)
	if err != nil {
		return out, err
	}
	me.offset += uint64(footerSize)

	if err := me.file.Sync(); err != nil {
		return out, pkgerrors.Wrapf(err, "sstable sync %q", me.file.Name())
	}

	tempPath := me.file.Name()
	if err := me.file.Close(); err != nil {
		return out, err
	}
	if err := os.Rename(tempPath, me.finalPath); err != nil {
		return out, err
	}
	if err := util.SyncDir(filepath.Dir(me.finalPath)); err != nil {
		return out, err
	}

	me.finished = true
	me.file = nil

	return TableMeta{
		Path:    me.finalPath,
		ID:      me.id,
		MinKey:  me.minKey,
		MaxKey:  me.lastKey,
		MinSeq:  me.minSeq,
		MaxSeq:  me.maxSeq,
		Size:    me.offset,
		Entries: me.entryCount,
	}, nil
}

// Abort discards the temporary file. Safe to call after a failed Finish.
func (me *Writer) Abort() {
	if me.file != nil {
		name := me.file.Name()
		_ = me.file.Close()
		_ = os.Remove(name)
		me.file = nil
	}
	me.finished = true
}

func (me *Writer) flushBlock() error {
	payload := me.block.buf.Bytes()

	me.index.Blocks = append(me.index.Blocks, blockIndexEntry{
		FirstKey: me.block.firstKey,
		Offset:   me.offset,
	})

	if err := me.writePhysicalBlock(payload); err != nil {
		return err
	}

	lastBlock := &me.index.Blocks[len(me.index.Blocks)-1]
	lastBlock.Length = me.offset - lastBlock.Offset

	me.block.Reset()
	return nil
}

func (me *Writer) writePhysicalBlock(payload []byte) error {
	fileW := util.NewFileWrapperAt(me.file, me.offset)
	n, err := writeBlock(&fileW, me.codec, payload)
	if err != nil {
		return pkgerrors.Wrapf(err, "sstable write block at %d", me.offset)
	}
	me.offset += uint64(n)
	return nil
}
