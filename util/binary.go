package util

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"
)

type Word64 [8]byte

func Uint64ToWord64(v uint64) (out Word64) {
	binary.BigEndian.PutUint64(out[:], v)
	return out
}

func Uint64FromWord64(v Word64) uint64 {
	return binary.BigEndian.Uint64(v[:])
}

func ReadUint64(reader io.Reader) (value uint64, n int, _ error) {
	var word Word64
	n, err := io.ReadFull(reader, word[:])
	if err != nil {
		return 0, n, err
	}
	return Uint64FromWord64(word), n, nil
}

func ReadUint64s(reader io.Reader, vs ...*uint64) (n int, _ error) {
	for _, v := range vs {
		value, dn, err := ReadUint64(reader)
		n += dn
		if err != nil {
			return n, err
		}
		*v = value
	}
	return n, nil
}

func WriteUint64(writer io.Writer, v uint64) (n int, _ error) {
	word := Uint64ToWord64(v)
	return writer.Write(word[:])
}

func WriteUint64s(writer io.Writer, vs ...uint64) (n int, _ error) {
	for _, v := range vs {
		dn, err := WriteUint64(writer, v)
		n += dn
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func ReadUint32(reader io.Reader) (value uint32, n int, _ error) {
	var word [4]byte
	n, err := io.ReadFull(reader, word[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint32(word[:]), n, nil
}

func WriteUint32(writer io.Writer, v uint32) (n int, _ error) {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], v)
	return writer.Write(word[:])
}

func ReadByte(reader io.Reader) (value uint8, n int, _ error) {
	var word [1]byte
	n, err := io.ReadFull(reader, word[:])
	if err != nil {
		return 0, n, err
	}
	return word[0], n, nil
}

func WriteByte(writer io.Writer, v uint8) (n int, _ error) {
	word := [1]byte{v}
	return writer.Write(word[:])
}

func NewRandomUUIDBytes() (out [16]byte) {
	uuidBytes, _ := uuid.Must(uuid.NewRandom()).MarshalBinary()
	copy(out[:], uuidBytes)
	return out
}

func UUIDFromBytes(bytes [16]byte) uuid.UUID {
	return uuid.Must(uuid.FromBytes(bytes[:]))
}

func Ptr[T any](v T) *T {
	return &v
}

func AssertNoError(err error) {
	if err != nil {
		panic(err)
	}
}

// https://blog.merovius.de/posts/2024-05-06-pointer-constraints/
type WriterToPtr[M any] interface {
	*M
	io.WriterTo
}

func ToBytes(writerTo io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	_, err := writerTo.WriteTo(&buf)
	return buf.Bytes(), err
}

type ReaderFromPtr[M any] interface {
	*M
	io.ReaderFrom
}

func ValueFromBytes[T any, PT ReaderFromPtr[T]](b []byte) (T, error) {
	var value T
	_, err := (PT)(&value).ReadFrom(bytes.NewReader(b))
	return value, err
}
