// Package sstable implements the immutable on-disk table format:
//
//	[data blocks][index block][bloom block (optional)][footer]
//
// Data blocks hold versioned entries in internal key order (key ascending,
// sequence descending). Each block is independently compressed and
// checksummed. The footer is written last; a file lacking a valid footer is
// an incomplete flush and is never registered as readable.
package sstable

import (
	"errors"

	"github.com/google/uuid"

	"github.com/navijation/mvstore/util"
)

// ErrCorruptTable marks a table whose footer, block checksum, or encoding
// failed validation. Such a file is excluded from reads; it may represent
// data loss and needs operator attention.
var ErrCorruptTable = errors.New("sstable: corrupt table")

// TableMeta describes a finished table.
type TableMeta struct {
	Path    string
	ID      [16]byte
	MinKey  []byte
	MaxKey  []byte
	MinSeq  uint64
	MaxSeq  uint64
	Size    uint64
	Entries uint64
}

func (me *TableMeta) UUID() uuid.UUID {
	return util.UUIDFromBytes(me.ID)
}
