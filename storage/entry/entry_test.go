package entry

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_InternalKeyOrder(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Key: []byte("banana"), Seq: 3, Op: OpPut},
		{Key: []byte("apple"), Seq: 1, Op: OpPut},
		{Key: []byte("apple"), Seq: 7, Op: OpDelete},
		{Key: []byte("apple"), Seq: 4, Op: OpPut},
		{Key: []byte("cherry"), Seq: 2, Op: OpPut},
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return Compare(&a, &b)
	})

	// keys ascend; within one key newer versions come first
	expected := []struct {
		key string
		seq uint64
	}{
		{"apple", 7},
		{"apple", 4},
		{"apple", 1},
		{"banana", 3},
		{"cherry", 2},
	}
	for i, want := range expected {
		assert.Equal(t, want.key, string(entries[i].Key))
		assert.Equal(t, want.seq, entries[i].Seq)
	}

	assert.Zero(t, CompareKeySeq([]byte("k"), 5, []byte("k"), 5))
}

func TestEntry_RoundTrip(t *testing.T) {
	t.Parallel()

	original := Entry{
		Key:   []byte("some key"),
		Seq:   42,
		Op:    OpPut,
		Value: []byte("some value"),
	}

	var buf bytes.Buffer
	written, err := original.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(original.SizeOf()), written)

	var decoded Entry
	read, err := decoded.ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, written, read)
	assert.Equal(t, original, decoded)
}

func TestEntry_RejectsInvalidOp(t *testing.T) {
	t.Parallel()

	bad := Entry{Key: []byte("k"), Seq: 1, Op: Op(99), Value: []byte("v")}

	var buf bytes.Buffer
	_, err := bad.WriteTo(&buf)
	require.NoError(t, err)

	var decoded Entry
	_, err = decoded.ReadFrom(&buf)
	assert.Error(t, err)
}

func TestEntry_Tombstone(t *testing.T) {
	t.Parallel()

	put := Entry{Key: []byte("k"), Seq: 1, Op: OpPut, Value: []byte("v")}
	del := Entry{Key: []byte("k"), Seq: 2, Op: OpDelete}

	assert.False(t, put.IsTombstone())
	assert.True(t, del.IsTombstone())
}

func TestEntry_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	original := Entry{Key: []byte("key"), Seq: 9, Op: OpPut, Value: []byte("value")}
	clone := original.Clone()

	original.Key[0] = 'x'
	original.Value[0] = 'x'

	assert.Equal(t, []byte("key"), clone.Key)
	assert.Equal(t, []byte("value"), clone.Value)
}
