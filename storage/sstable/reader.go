package sstable

import (
	"bytes"
	"iter"
	"os"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/util"
)

// Reader serves point and range lookups against one immutable table file.
// All reads use ReadAt, so a single Reader is safe for concurrent use.
type Reader struct {
	path   string
	file   *os.File
	footer footer
	index  blockIndex
	filter *keyFilter
	size   uint64
}

type OpenArgs struct {
	Path string
}

func Open(args OpenArgs) (out *Reader, err error) {
	file, err := os.Open(args.Path)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = file.Close()
		}
	}()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, err
	}

	out = &Reader{
		path: args.Path,
		file: file,
		size: uint64(fileInfo.Size()),
	}

	footerSize := out.footer.SizeOf()
	if out.size < footerSize {
		return nil, ErrCorruptTable
	}

	footerReader := util.NewFileWrapperAt(file, out.size-footerSize)
	if _, err := out.footer.ReadFrom(&footerReader); err != nil {
		return nil, err
	}

	indexPayload, err := readBlock(file, out.footer.indexOffset, out.footer.indexLength)
	if err != nil {
		return nil, err
	}
	if out.index, err = util.ValueFromBytes[blockIndex](indexPayload); err != nil {
		return nil, ErrCorruptTable
	}
	if len(out.index.Blocks) == 0 {
		return nil, ErrCorruptTable
	}

	if out.footer.hasBloom() {
		bloomPayload, err := readBlock(file, out.footer.bloomOffset, out.footer.bloomLength)
		if err != nil {
			return nil, err
		}
		out.filter = unmarshalKeyFilter(bloomPayload)
	}

	return out, nil
}

func (me *Reader) Close() error {
	return me.file.Close()
}

func (me *Reader) Path() string {
	return me.path
}

func (me *Reader) Meta() TableMeta {
	return TableMeta{
		Path:    me.path,
		ID:      me.footer.id,
		MinKey:  me.index.Blocks[0].FirstKey,
		MaxKey:  me.index.LastKey,
		MinSeq:  me.footer.minSeq,
		MaxSeq:  me.footer.maxSeq,
		Size:    me.size,
		Entries: me.footer.entryCount,
	}
}

// Get returns the newest entry for key with sequence <= maxSeq. The entry may
// be a tombstone. The second return is false when the table holds no visible
// version of the key.
func (me *Reader) Get(key []byte, maxSeq uint64) (out entry.Entry, exists bool, _ error) {
	if me.filter != nil && !me.filter.MayContain(key) {
		return out, false, nil
	}

	blockNumber := me.index.search(key)
	if blockNumber < 0 {
		return out, false, nil
	}

	entries, err := me.loadBlock(blockNumber)
	if err != nil {
		return out, false, err
	}

	for i := range entries {
		switch bytes.Compare(entries[i].Key, key) {
		case -1:
			continue
		case 0:
			if entries[i].Seq <= maxSeq {
				return entries[i], true, nil
			}
		case 1:
			return out, false, nil
		}
	}

	return out, false, nil
}

// Scan yields all versions of all keys in [start, end) in internal key order.
// A nil end means unbounded.
func (me *Reader) Scan(start, end []byte) iter.Seq2[entry.Entry, error] {
	startBlock := 0
	if start != nil {
		if candidate := me.index.search(start); candidate > 0 {
			startBlock = candidate
		}
	}

	return func(yield func(entry.Entry, error) bool) {
		for blockNumber := startBlock; blockNumber < len(me.index.Blocks); blockNumber++ {
			if end != nil && bytes.Compare(me.index.Blocks[blockNumber].FirstKey, end) >= 0 {
				return
			}

			entries, err := me.loadBlock(blockNumber)
			if err != nil {
				yield(entry.Entry{}, err)
				return
			}

			for i := range entries {
				if start != nil && bytes.Compare(entries[i].Key, start) < 0 {
					continue
				}
				if end != nil && bytes.Compare(entries[i].Key, end) >= 0 {
					return
				}
				if !yield(entries[i], nil) {
					return
				}
			}
		}
	}
}

// Entries yields every entry of the table, for compaction input.
func (me *Reader) Entries() iter.Seq2[entry.Entry, error] {
	return me.Scan(nil, nil)
}

func (me *Reader) loadBlock(blockNumber int) ([]entry.Entry, error) {
	block := me.index.Blocks[blockNumber]
	payload, err := readBlock(me.file, block.Offset, block.Length)
	if err != nil {
		return nil, err
	}
	return decodeBlockEntries(payload)
}
