package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navijation/mvstore/storage/entry"
	testing_util "github.com/navijation/mvstore/util/testing"
)

func TestOpen_NoRecords(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "TestOpen_NoRecords")
	defer cleanup()

	_, err := Open(OpenArgs{
		Path: dir + "/nonexistent.log",
	})
	require.Error(t, err)

	file, err := Open(OpenArgs{
		Path:   dir + "/wal.log",
		Create: true,
	})
	require.NoError(t, err)

	assert.NotZero(t, file.header.id)
	assert.Equal(t, uint64(formatVersion), file.header.version)
	assert.Equal(t, uint64(0), file.NumRecords())
	assert.Equal(t, uint64(24), file.Size())
	require.NoError(t, file.Close())

	_, err = Open(OpenArgs{
		Path:   dir + "/wal.log",
		Create: true,
	})
	assert.Error(t, err, "re-creating an existing file must fail")

	sameFile, err := Open(OpenArgs{
		Path: dir + "/wal.log",
	})
	require.NoError(t, err)

	assert.Equal(t, file.header, sameFile.header)
	assert.Equal(t, uint64(0), sameFile.NumRecords())
	assert.Equal(t, file.Size(), sameFile.Size())
	require.NoError(t, sameFile.Close())
}

func TestLogFile_AppendAndIterate(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "TestLogFile_AppendAndIterate")
	defer cleanup()

	file, err := Open(OpenArgs{
		Path:   dir + "/wal.log",
		Create: true,
	})
	require.NoError(t, err)
	defer file.Close()

	records := []Record{
		{Seq: 1, Op: entry.OpPut, Key: []byte("alpha"), Value: []byte("1")},
		{Seq: 2, Op: entry.OpPut, Key: []byte("beta"), Value: []byte("2")},
		{Seq: 3, Op: entry.OpDelete, Key: []byte("alpha")},
	}
	for _, record := range records {
		require.NoError(t, file.AppendRecord(record))
	}

	assert.Equal(t, uint64(3), file.NumRecords())
	assert.Equal(t, uint64(3), file.MaxSeq())

	cursor := file.NewCursor()
	for i := range records {
		record, exists, err := cursor.NextRecord()
		require.NoError(t, err)
		require.True(t, exists)
		assert.Equal(t, records[i].Seq, record.Seq)
		assert.Equal(t, records[i].Op, record.Op)
		assert.Equal(t, records[i].Key, record.Key)
	}
	_, exists, err := cursor.NextRecord()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLogFile_BatchAppend(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "TestLogFile_BatchAppend")
	defer cleanup()

	file, err := Open(OpenArgs{
		Path:   dir + "/wal.log",
		Create: true,
	})
	require.NoError(t, err)

	require.NoError(t, file.AppendRecords([]Record{
		{Seq: 7, Op: entry.OpPut, Key: []byte("a"), Value: []byte("x")},
		{Seq: 7, Op: entry.OpPut, Key: []byte("b"), Value: []byte("y")},
		{Seq: 7, Op: entry.OpDelete, Key: []byte("c")},
	}))
	assert.Equal(t, uint64(3), file.NumRecords())
	assert.Equal(t, uint64(7), file.MaxSeq())
	require.NoError(t, file.Close())

	reopened, err := Open(OpenArgs{Path: dir + "/wal.log"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.NumRecords())
	assert.Equal(t, uint64(7), reopened.MaxSeq())
	require.NoError(t, reopened.Close())
}

func TestLogFile_TruncatesTornTail(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "TestLogFile_TruncatesTornTail")
	defer cleanup()

	path := dir + "/wal.log"
	file, err := Open(OpenArgs{Path: path, Create: true})
	require.NoError(t, err)

	require.NoError(t, file.AppendRecord(Record{
		Seq: 1, Op: entry.OpPut, Key: []byte("keep"), Value: []byte("me"),
	}))
	require.NoError(t, file.AppendRecord(Record{
		Seq: 2, Op: entry.OpPut, Key: []byte("torn"), Value: []byte("tail"),
	}))
	goodSize := file.Size()
	require.NoError(t, file.Close())

	// simulate a torn write by chopping bytes off the final record
	require.NoError(t, os.Truncate(path, int64(goodSize-3)))

	reopened, err := Open(OpenArgs{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.NumRecords())
	assert.Equal(t, uint64(1), reopened.MaxSeq())

	cursor := reopened.NewCursor()
	record, exists, err := cursor.NextRecord()
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("keep"), record.Key)
}

func TestLogFile_DropsIncompleteBatch(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "TestLogFile_DropsIncompleteBatch")
	defer cleanup()

	path := dir + "/wal.log"
	file, err := Open(OpenArgs{Path: path, Create: true})
	require.NoError(t, err)

	require.NoError(t, file.AppendRecord(Record{
		Seq: 1, Op: entry.OpPut, Key: []byte("single"), Value: []byte("v"),
	}))
	committedSize := file.Size()

	batch := []Record{
		{Seq: 2, Op: entry.OpPut, Key: []byte("batch_a"), Value: []byte("1")},
		{Seq: 2, Op: entry.OpPut, Key: []byte("batch_b"), Value: []byte("2")},
		{Seq: 2, Op: entry.OpDelete, Key: []byte("batch_c")},
	}
	require.NoError(t, file.AppendRecords(batch))
	require.NoError(t, file.Close())

	// chop the final record off the batch so its commit flag is lost; the
	// surviving prefix is well formed but must not be replayed
	cut := committedSize + batch[0].SizeOf() + batch[1].SizeOf()
	require.NoError(t, os.Truncate(path, int64(cut)))

	reopened, err := Open(OpenArgs{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.NumRecords())
	assert.Equal(t, uint64(1), reopened.MaxSeq())
	assert.Equal(t, committedSize, reopened.Size())

	cursor := reopened.NewCursor()
	record, exists, err := cursor.NextRecord()
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("single"), record.Key)
}

func TestLogFile_TruncatesCorruptRecord(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "TestLogFile_TruncatesCorruptRecord")
	defer cleanup()

	path := dir + "/wal.log"
	file, err := Open(OpenArgs{Path: path, Create: true})
	require.NoError(t, err)

	require.NoError(t, file.AppendRecord(Record{
		Seq: 1, Op: entry.OpPut, Key: []byte("good"), Value: []byte("v"),
	}))
	firstEnd := file.Size()
	require.NoError(t, file.AppendRecord(Record{
		Seq: 2, Op: entry.OpPut, Key: []byte("bad"), Value: []byte("v"),
	}))
	require.NoError(t, file.Close())

	// flip a byte inside the second record's body
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[firstEnd+12] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	reopened, err := Open(OpenArgs{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.NumRecords())
	assert.Equal(t, firstEnd, reopened.Size())
}
