package wal

import (
	"io"

	"github.com/navijation/mvstore/util"
)

const formatVersion = 1

type logFileHeader struct {
	id      [16]byte
	version uint64
}

func (me *logFileHeader) ReadFrom(reader io.Reader) (n int64, _ error) {
	dn, err := io.ReadFull(reader, me.id[:])
	n += int64(dn)
	if err != nil {
		return n, err
	}

	dn, err = util.ReadUint64s(reader, &me.version)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	if me.version != formatVersion {
		return n, ErrBadVersion
	}

	return n, nil
}

func (me *logFileHeader) WriteTo(writer io.Writer) (n int64, _ error) {
	dn, err := writer.Write(me.id[:])
	n += int64(dn)
	if err != nil {
		return n, err
	}

	dn, err = util.WriteUint64s(writer, me.version)
	return n + int64(dn), err
}

func (me *logFileHeader) SizeOf() uint64 {
	return 16 + 8
}
