package entry

import (
	"bytes"
	"fmt"
	"io"

	"github.com/navijation/mvstore/util"
)

// Op identifies the kind of mutation an entry records.
type Op uint8

const (
	OpPut    Op = 1
	OpDelete Op = 2
)

func (me Op) IsValid() bool {
	return me == OpPut || me == OpDelete
}

func (me Op) String() string {
	switch me {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(me))
	}
}

// Entry is the atomic storage unit shared by the write-ahead log, memtables,
// and SSTables: one versioned mutation of one key. The binary representation
// is as follows.
// ______________________________________________________________________
// | 4 bytes  | (key size) bytes | 8 bytes | 1 byte | 4 bytes    | ...   |
// |----------------------------------------------------------------------
// | key size |     key          | seq     | op     | value size | value |
// |----------------------------------------------------------------------
type Entry struct {
	Key   []byte
	Seq   uint64
	Op    Op
	Value []byte
}

func (me *Entry) IsTombstone() bool {
	return me.Op == OpDelete
}

func (me *Entry) SizeOf() uint64 {
	return 4 + uint64(len(me.Key)) + 8 + 1 + 4 + uint64(len(me.Value))
}

func (me *Entry) Clone() Entry {
	return Entry{
		Key:   bytes.Clone(me.Key),
		Seq:   me.Seq,
		Op:    me.Op,
		Value: bytes.Clone(me.Value),
	}
}

// Compare defines the total internal ordering: keys ascend lexicographically,
// and within one key newer sequence numbers sort first.
func Compare(a, b *Entry) int {
	return CompareKeySeq(a.Key, a.Seq, b.Key, b.Seq)
}

func CompareKeySeq(aKey []byte, aSeq uint64, bKey []byte, bSeq uint64) int {
	if cmp := bytes.Compare(aKey, bKey); cmp != 0 {
		return cmp
	}
	switch {
	case aSeq > bSeq:
		return -1
	case aSeq < bSeq:
		return 1
	default:
		return 0
	}
}

func (me *Entry) WriteTo(writer io.Writer) (n int64, _ error) {
	if dn, err := util.WriteUint32(writer, uint32(len(me.Key))); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := writer.Write(me.Key); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := util.WriteUint64(writer, me.Seq); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := util.WriteByte(writer, uint8(me.Op)); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := util.WriteUint32(writer, uint32(len(me.Value))); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := writer.Write(me.Value); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	return n, nil
}

func (me *Entry) ReadFrom(reader io.Reader) (n int64, _ error) {
	keySize, dn, err := util.ReadUint32(reader)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	me.Key = make([]byte, keySize)
	dn, err = io.ReadFull(reader, me.Key)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	seq, dn, err := util.ReadUint64(reader)
	n += int64(dn)
	if err != nil {
		return n, err
	}
	me.Seq = seq

	op, dn, err := util.ReadByte(reader)
	n += int64(dn)
	if err != nil {
		return n, err
	}
	me.Op = Op(op)
	if !me.Op.IsValid() {
		return n, fmt.Errorf("invalid entry op %d", op)
	}

	valueSize, dn, err := util.ReadUint32(reader)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	me.Value = make([]byte, valueSize)
	dn, err = io.ReadFull(reader, me.Value)
	n += int64(dn)
	if err != nil {
		return n, err
	}

	return n, nil
}
