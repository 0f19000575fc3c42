package sstable

import (
	"bytes"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/util"
)

// Every block, data or metadata, is stored physically as
// ____________________________________________
// | 1 byte | (payload size) bytes | 4 bytes   |
// |--------------------------------------------
// | codec  | compressed payload   | checksum  |
// |--------------------------------------------
// with the checksum being the low 32 bits of xxh3 over codec byte plus
// payload. The uncompressed payload of a data block is a run of encoded
// entries in internal key order.

const blockOverhead = 1 + 4

// blockBuilder accumulates encoded entries for one data block.
type blockBuilder struct {
	buf      bytes.Buffer
	firstKey []byte
	count    int
}

func (me *blockBuilder) Append(e entry.Entry) {
	if me.count == 0 {
		me.firstKey = bytes.Clone(e.Key)
	}
	_, err := e.WriteTo(&me.buf)
	util.AssertNoError(err)
	me.count++
}

func (me *blockBuilder) Empty() bool {
	return me.count == 0
}

func (me *blockBuilder) SizeOf() uint64 {
	return uint64(me.buf.Len())
}

func (me *blockBuilder) Reset() {
	me.buf.Reset()
	me.firstKey = nil
	me.count = 0
}

// writeBlock compresses and frames a payload, returning the framed size.
func writeBlock(writer io.Writer, codec Compression, payload []byte) (n int64, _ error) {
	compressed, err := compress(codec, payload)
	if err != nil {
		return 0, err
	}

	framed := make([]byte, 0, len(compressed)+blockOverhead)
	framed = append(framed, uint8(codec))
	framed = append(framed, compressed...)

	dn, err := writer.Write(framed)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	dn, err = util.WriteUint32(writer, uint32(xxh3.Hash(framed)))
	return n + int64(dn), err
}

// readBlock reads a framed block of the given total length, verifies its
// checksum, and returns the decompressed payload.
func readBlock(readerAt io.ReaderAt, offset, length uint64) ([]byte, error) {
	if length < blockOverhead+1 {
		return nil, ErrCorruptTable
	}

	framed := make([]byte, length)
	if _, err := readerAt.ReadAt(framed, int64(offset)); err != nil {
		return nil, err
	}

	body := framed[:length-4]
	storedSum := be32(framed[length-4:])
	if uint32(xxh3.Hash(body)) != storedSum {
		return nil, ErrCorruptTable
	}

	codec := Compression(body[0])
	if !codec.IsValid() {
		return nil, ErrCorruptTable
	}

	payload, err := decompress(codec, body[1:])
	if err != nil {
		return nil, ErrCorruptTable
	}
	return payload, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// decodeBlockEntries parses the entries of a data block payload.
func decodeBlockEntries(payload []byte) ([]entry.Entry, error) {
	reader := bytes.NewReader(payload)
	var out []entry.Entry
	for reader.Len() > 0 {
		var e entry.Entry
		if _, err := e.ReadFrom(reader); err != nil {
			return nil, ErrCorruptTable
		}
		out = append(out, e)
	}
	return out, nil
}
