package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/storage/wal"
	"github.com/navijation/mvstore/util"
	testing_util "github.com/navijation/mvstore/util/testing"
)

func openTestEngine(t *testing.T, args OpenArgs) *Engine {
	t.Helper()

	e, err := Open(args)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
	})
	return e
}

func TestEngine_PutGetDelete(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_basic")
	defer cleanup()

	e := openTestEngine(t, OpenArgs{Path: filepath.Join(dir, "db"), Create: true})

	_, err := e.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.Put([]byte("cherry"), []byte("red")))
	require.NoError(t, e.Put([]byte("apple"), []byte("green")))

	value, err := e.Get([]byte("cherry"))
	require.NoError(t, err)
	assert.Equal(t, []byte("red"), value)

	// overwrite replaces the visible version
	require.NoError(t, e.Put([]byte("cherry"), []byte("dark red")))
	value, err = e.Get([]byte("cherry"))
	require.NoError(t, err)
	assert.Equal(t, []byte("dark red"), value)

	require.NoError(t, e.Delete([]byte("cherry")))
	_, err = e.Get([]byte("cherry"))
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an absent key succeeds
	require.NoError(t, e.Delete([]byte("missing")))

	value, err = e.Get([]byte("apple"))
	require.NoError(t, err)
	assert.Equal(t, []byte("green"), value)
}

func TestEngine_ScanRange(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_scan")
	defer cleanup()

	e := openTestEngine(t, OpenArgs{Path: filepath.Join(dir, "db"), Create: true})

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))
	require.NoError(t, e.Put([]byte("d"), []byte("4")))
	require.NoError(t, e.Put([]byte("b"), []byte("2v2")))
	require.NoError(t, e.Delete([]byte("c")))

	t.Run("full scan sees newest versions and no tombstones", func(t *testing.T) {
		var keys, values []string
		for pair, err := range e.Scan(nil, nil) {
			require.NoError(t, err)
			keys = append(keys, string(pair.Key))
			values = append(values, string(pair.Value))
		}
		assert.Equal(t, []string{"a", "b", "d"}, keys)
		assert.Equal(t, []string{"1", "2v2", "4"}, values)
	})

	t.Run("range is half-open", func(t *testing.T) {
		var keys []string
		for pair, err := range e.Scan([]byte("b"), []byte("d")) {
			require.NoError(t, err)
			keys = append(keys, string(pair.Key))
		}
		assert.Equal(t, []string{"b"}, keys)
	})

	t.Run("early break stops iteration", func(t *testing.T) {
		count := 0
		for _, err := range e.Scan(nil, nil) {
			require.NoError(t, err)
			count++
			break
		}
		assert.Equal(t, 1, count)
	})
}

func TestEngine_ReopenRecoversFromLogs(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_reopen")
	defer cleanup()
	dbPath := filepath.Join(dir, "db")

	e, err := Open(OpenArgs{Path: dbPath, Create: true})
	require.NoError(t, err)

	require.NoError(t, e.Put([]byte("persisted"), []byte("yes")))
	require.NoError(t, e.Put([]byte("deleted"), []byte("soon")))
	require.NoError(t, e.Delete([]byte("deleted")))
	seqBefore := e.versions.VisibleSeq()

	require.NoError(t, e.Close())

	reopened := openTestEngine(t, OpenArgs{Path: dbPath})

	value, err := reopened.Get([]byte("persisted"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), value)

	_, err = reopened.Get([]byte("deleted"))
	assert.ErrorIs(t, err, ErrNotFound)

	// sequence numbering resumes past everything recovered
	assert.Equal(t, seqBefore, reopened.versions.VisibleSeq())
	require.NoError(t, reopened.Put([]byte("after"), []byte("reopen")))
	assert.Greater(t, reopened.versions.VisibleSeq(), seqBefore)
}

func TestEngine_ReopenReplaysMultipleLogs(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_multilog")
	defer cleanup()
	dbPath := filepath.Join(dir, "db")

	// a tiny freeze threshold rotates the log on every write, leaving several
	// unflushed logs behind
	e, err := Open(OpenArgs{
		Path:            dbPath,
		Create:          true,
		FreezeThreshold: util.Some(uint64(1)),
	})
	require.NoError(t, err)

	require.NoError(t, e.Put([]byte("k"), []byte("v1")))
	require.NoError(t, e.Put([]byte("k"), []byte("v2")))
	require.NoError(t, e.Put([]byte("other"), []byte("x")))
	require.NoError(t, e.Close())

	reopened := openTestEngine(t, OpenArgs{Path: dbPath})

	value, err := reopened.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	value, err = reopened.Get([]byte("other"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), value)
}

func TestEngine_FlushMovesDataToTables(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_flush")
	defer cleanup()
	dbPath := filepath.Join(dir, "db")

	e := openTestEngine(t, OpenArgs{
		Path:            dbPath,
		Create:          true,
		FreezeThreshold: util.Some(uint64(1)),
	})

	for i := range 10 {
		key := fmt.Appendf(nil, "key_%02d", i)
		require.NoError(t, e.Put(key, []byte("value")))
	}

	for e.flushOldestFrozen() {
	}

	stats := e.Stats()
	assert.Zero(t, stats.FrozenMemTables)
	assert.NotZero(t, stats.TablesPerLevel[0])
	assert.NotZero(t, stats.FlushCount)

	// flushed logs are gone; only the active log remains
	dirents, err := os.ReadDir(dbPath)
	require.NoError(t, err)
	logCount := 0
	for _, dirent := range dirents {
		if isWALFileName(dirent.Name()) {
			logCount++
		}
	}
	assert.Equal(t, 1, logCount)

	for i := range 10 {
		key := fmt.Appendf(nil, "key_%02d", i)
		value, err := e.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), value)
	}
}

func TestEngine_BackgroundWorkerFlushes(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_worker")
	defer cleanup()

	e := openTestEngine(t, OpenArgs{
		Path:            filepath.Join(dir, "db"),
		Create:          true,
		FreezeThreshold: util.Some(uint64(1)),
	})
	require.NoError(t, e.Start())

	for i := range 20 {
		key := fmt.Appendf(nil, "key_%02d", i)
		require.NoError(t, e.Put(key, []byte("value")))
	}

	assert.Eventually(t, func() bool {
		return e.Stats().FrozenMemTables == 0
	}, 5*time.Second, 10*time.Millisecond)

	for i := range 20 {
		key := fmt.Appendf(nil, "key_%02d", i)
		value, err := e.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), value)
	}
}

func TestEngine_CloseRejectsOperations(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_close")
	defer cleanup()

	e, err := Open(OpenArgs{Path: filepath.Join(dir, "db"), Create: true})
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Close())

	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.Put([]byte("k"), []byte("v2")), ErrClosed)
	assert.ErrorIs(t, e.Delete([]byte("k")), ErrClosed)

	_, err = e.Begin()
	assert.ErrorIs(t, err, ErrClosed)

	for _, err := range e.Scan(nil, nil) {
		assert.ErrorIs(t, err, ErrClosed)
	}

	// closing twice is fine
	require.NoError(t, e.Close())
}

func TestEngine_ReopenTruncatesTornLogTail(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_torn")
	defer cleanup()
	dbPath := filepath.Join(dir, "db")

	e, err := Open(OpenArgs{Path: dbPath, Create: true})
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("durable"), []byte("yes")))
	require.NoError(t, e.Put([]byte("torn"), []byte("lost")))
	activeLogPath := e.activeLog.Path()
	require.NoError(t, e.Close())

	// chop a few bytes off the last record, as a crash mid-append would
	info, err := os.Stat(activeLogPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(activeLogPath, info.Size()-3))

	reopened := openTestEngine(t, OpenArgs{Path: dbPath})

	value, err := reopened.Get([]byte("durable"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), value)

	_, err = reopened.Get([]byte("torn"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_ReopenDropsPartialTransaction(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, chop func(t *testing.T, path string)) {
		dir, cleanup := testing_util.MkdirTemp(t, "engine_partial_txn")
		defer cleanup()
		dbPath := filepath.Join(dir, "db")

		e, err := Open(OpenArgs{Path: dbPath, Create: true})
		require.NoError(t, err)
		require.NoError(t, e.Put([]byte("durable"), []byte("yes")))

		txn, err := e.Begin()
		require.NoError(t, err)
		require.NoError(t, txn.Put([]byte("pair_1"), []byte("first")))
		require.NoError(t, txn.Put([]byte("pair_2"), []byte("second")))
		require.NoError(t, txn.Commit())
		activeLogPath := e.activeLog.Path()
		require.NoError(t, e.Close())

		chop(t, activeLogPath)

		reopened := openTestEngine(t, OpenArgs{Path: dbPath})

		value, err := reopened.Get([]byte("durable"))
		require.NoError(t, err)
		assert.Equal(t, []byte("yes"), value)

		// the commit lost part of its batch, so none of its writes may
		// survive recovery
		_, err = reopened.Get([]byte("pair_1"))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reopened.Get([]byte("pair_2"))
		assert.ErrorIs(t, err, ErrNotFound)
	}

	t.Run("final record torn mid-write", func(t *testing.T) {
		t.Parallel()
		run(t, func(t *testing.T, path string) {
			info, err := os.Stat(path)
			require.NoError(t, err)
			require.NoError(t, os.Truncate(path, info.Size()-3))
		})
	})

	t.Run("final record lost on a clean boundary", func(t *testing.T) {
		t.Parallel()
		run(t, func(t *testing.T, path string) {
			last := wal.Record{Op: entry.OpPut, Key: []byte("pair_2"), Value: []byte("second")}
			info, err := os.Stat(path)
			require.NoError(t, err)
			require.NoError(t, os.Truncate(path, info.Size()-int64(last.SizeOf())))
		})
	})
}

func TestEngine_PutDoesNotAliasCallerBuffers(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_alias_put")
	defer cleanup()

	e := openTestEngine(t, OpenArgs{Path: filepath.Join(dir, "db"), Create: true})

	key := []byte("reused_key")
	value := []byte("original")
	require.NoError(t, e.Put(key, value))

	// the caller is free to reuse its buffers immediately
	copy(key, []byte("clobbered!"))
	copy(value, []byte("mutated!"))

	got, err := e.Get([]byte("reused_key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	deleteKey := []byte("reused_key")
	require.NoError(t, e.Delete(deleteKey))
	copy(deleteKey, []byte("scrambled!"))

	_, err = e.Get([]byte("reused_key"))
	assert.ErrorIs(t, err, ErrNotFound)

	pairs := 0
	for _, err := range e.Scan(nil, nil) {
		require.NoError(t, err)
		pairs++
	}
	assert.Zero(t, pairs)
}

func TestEngine_ScanResultsDoNotAliasStorage(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_alias_scan")
	defer cleanup()

	e := openTestEngine(t, OpenArgs{Path: filepath.Join(dir, "db"), Create: true})

	require.NoError(t, e.Put([]byte("left"), []byte("one")))
	require.NoError(t, e.Put([]byte("right"), []byte("two")))

	for pair, err := range e.Scan(nil, nil) {
		require.NoError(t, err)
		// scribbling over yielded slices must not disturb the engine
		for i := range pair.Key {
			pair.Key[i] = 'x'
		}
		for i := range pair.Value {
			pair.Value[i] = 'x'
		}
	}

	value, err := e.Get([]byte("left"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), value)

	value, err = e.Get([]byte("right"))
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)
}

func TestEngine_ScanAcrossFlushCycles(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_scale")
	defer cleanup()

	// a small threshold spreads the data across many tables and the
	// memtables; the scan must stitch them back together in order
	e := openTestEngine(t, OpenArgs{
		Path:            filepath.Join(dir, "db"),
		Create:          true,
		FreezeThreshold: util.Some(uint64(256)),
	})

	const numKeys = 300
	for i := range numKeys {
		key := fmt.Appendf(nil, "key_%04d", i)
		value := fmt.Appendf(nil, "value_%04d_v1", i)
		require.NoError(t, e.Put(key, value))
	}
	for e.flushOldestFrozen() {
	}
	e.runCompactions()

	// overwrite a slice of the keys so newer versions shadow flushed ones
	for i := 0; i < numKeys; i += 3 {
		key := fmt.Appendf(nil, "key_%04d", i)
		value := fmt.Appendf(nil, "value_%04d_v2", i)
		require.NoError(t, e.Put(key, value))
	}
	for i := 0; i < numKeys; i += 7 {
		key := fmt.Appendf(nil, "key_%04d", i)
		require.NoError(t, e.Delete(key))
	}
	for e.flushOldestFrozen() {
	}

	var lastKey string
	seen := 0
	for pair, err := range e.Scan(nil, nil) {
		require.NoError(t, err)
		key := string(pair.Key)
		assert.Greater(t, key, lastKey)
		lastKey = key

		i, convErr := strconv.Atoi(key[len("key_"):])
		require.NoError(t, convErr)
		require.NotZero(t, i%7, "deleted key %q must not appear", key)

		expected := fmt.Sprintf("value_%04d_v1", i)
		if i%3 == 0 {
			expected = fmt.Sprintf("value_%04d_v2", i)
		}
		assert.Equal(t, expected, string(pair.Value))
		seen++
	}

	expectedCount := 0
	for i := range numKeys {
		if i%7 != 0 {
			expectedCount++
		}
	}
	assert.Equal(t, expectedCount, seen)
}

func TestEngine_OpenMissingDirectoryFails(t *testing.T) {
	t.Parallel()

	dir, cleanup := testing_util.MkdirTemp(t, "engine_missing")
	defer cleanup()

	_, err := Open(OpenArgs{Path: filepath.Join(dir, "absent")})
	assert.Error(t, err)
}
