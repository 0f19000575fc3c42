package wal

import (
	"bufio"
	"errors"
	"io"

	"github.com/navijation/mvstore/util"
)

// maxRecordSize bounds a single record body; a length prefix beyond it is
// treated as corruption rather than an allocation request.
const maxRecordSize = 1 << 30

// Cursor iterates forward over the records of a log file.
type Cursor struct {
	parent *LogFile
	offset uint64
	buffer *bufio.Reader
}

func (me *LogFile) NewCursor() Cursor {
	// skip header
	offset := me.header.SizeOf()

	return Cursor{
		parent: me,
		offset: offset,
		buffer: me.fileBufferAt(offset),
	}
}

// NextRecord returns the next valid record. A frame that extends past the end
// of the file, or whose checksum does not match, ends iteration with a
// truncation error; the caller decides whether to truncate there.
func (me *Cursor) NextRecord() (out Record, exists bool, _ error) {
	if me.offset >= me.parent.size {
		return out, false, nil
	}

	length, _, err := util.ReadUint32(me.buffer)
	if err != nil {
		return out, false, err
	}

	checksum, _, err := util.ReadUint32(me.buffer)
	if err != nil {
		return out, false, err
	}

	if uint64(length) > maxRecordSize || me.offset+8+uint64(length) > me.parent.size {
		return out, false, ErrCorruptRecord
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(me.buffer, body); err != nil {
		return out, false, err
	}

	if checksumOf(body) != checksum {
		return out, false, ErrBadChecksum
	}

	record, err := decodeBody(body)
	if err != nil {
		return out, false, err
	}

	me.offset += 8 + uint64(length)

	return record, true, nil
}

// Offset is the file offset just past the last successfully read record.
func (me *Cursor) Offset() uint64 {
	return me.offset
}

func isTruncationError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrBadChecksum) ||
		errors.Is(err, ErrCorruptRecord)
}
