package wal

import (
	"bytes"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/util"
)

// Record is one durable mutation. On disk every record is framed as
// _____________________________________________________________________________________
// | 4 bytes | 4 bytes  | 8 bytes | 1 byte | 4 bytes  | ... | 4 bytes    | ...          |
// |-------------------------------------------------------------------------------------
// | length  | checksum | seq     | op     | key size | key | value size | value        |
// |-------------------------------------------------------------------------------------
// where length counts the body (everything after the checksum) and checksum is
// the low 32 bits of the xxh3 hash of the body. A record whose frame or
// checksum fails validation marks the crash-truncation point of the log.
//
// The high bit of the op byte marks the final record of an append batch.
// Replay only trusts records up to the last commit-marked one, so a batch
// that lost its tail in a crash is discarded as a unit even when the tear
// falls exactly on a record boundary.
type Record struct {
	Seq    uint64
	Op     entry.Op
	Key    []byte
	Value  []byte
	Commit bool
}

// commitFlag marks the record that ends an append batch.
const commitFlag = 0x80

func (me *Record) Entry() entry.Entry {
	return entry.Entry{
		Key:   me.Key,
		Seq:   me.Seq,
		Op:    me.Op,
		Value: me.Value,
	}
}

func (me *Record) bodySize() uint64 {
	return 8 + 1 + 4 + uint64(len(me.Key)) + 4 + uint64(len(me.Value))
}

// SizeOf is the full framed size of the record on disk.
func (me *Record) SizeOf() uint64 {
	return 4 + 4 + me.bodySize()
}

func (me *Record) encodeBody() []byte {
	var buf bytes.Buffer
	buf.Grow(int(me.bodySize()))

	op := uint8(me.Op)
	if me.Commit {
		op |= commitFlag
	}

	_, _ = util.WriteUint64(&buf, me.Seq)
	_, _ = util.WriteByte(&buf, op)
	_, _ = util.WriteUint32(&buf, uint32(len(me.Key)))
	_, _ = buf.Write(me.Key)
	_, _ = util.WriteUint32(&buf, uint32(len(me.Value)))
	_, _ = buf.Write(me.Value)

	return buf.Bytes()
}

func (me *Record) WriteTo(writer io.Writer) (n int64, _ error) {
	body := me.encodeBody()

	if dn, err := util.WriteUint32(writer, uint32(len(body))); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := util.WriteUint32(writer, checksumOf(body)); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	dn, err := writer.Write(body)
	return n + int64(dn), err
}

func decodeBody(body []byte) (out Record, _ error) {
	reader := bytes.NewReader(body)

	seq, _, err := util.ReadUint64(reader)
	if err != nil {
		return out, err
	}

	op, _, err := util.ReadByte(reader)
	if err != nil {
		return out, err
	}
	commit := op&commitFlag != 0
	op &^= commitFlag
	if !entry.Op(op).IsValid() {
		return out, ErrCorruptRecord
	}

	keySize, _, err := util.ReadUint32(reader)
	if err != nil {
		return out, err
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return out, ErrCorruptRecord
	}

	valueSize, _, err := util.ReadUint32(reader)
	if err != nil {
		return out, ErrCorruptRecord
	}
	value := make([]byte, valueSize)
	if _, err := io.ReadFull(reader, value); err != nil {
		return out, ErrCorruptRecord
	}

	if reader.Len() != 0 {
		return out, ErrCorruptRecord
	}

	return Record{
		Seq:    seq,
		Op:     entry.Op(op),
		Key:    key,
		Value:  value,
		Commit: commit,
	}, nil
}

func checksumOf(body []byte) uint32 {
	return uint32(xxh3.Hash(body))
}
