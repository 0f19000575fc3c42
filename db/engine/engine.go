// Package engine composes the storage layers into a transactional key-value
// engine: an active memtable in front of a queue of frozen memtables in front
// of leveled SSTables, with multi-version concurrency control on top. All
// mutations reach the write-ahead log before memory, so a crash loses nothing
// that was acknowledged.
package engine

import (
	"cmp"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/navijation/mvstore/storage/memtable"
	"github.com/navijation/mvstore/storage/sstable"
	"github.com/navijation/mvstore/storage/wal"
	"github.com/navijation/mvstore/util"
)

const (
	defaultFreezeThreshold     = uint64(4 << 20)
	defaultLevel0Trigger       = 4
	defaultBaseLevelSize       = uint64(8 << 20)
	defaultLevelSizeMultiplier = uint64(10)
	defaultNumLevels           = 7
	defaultTargetTableSize     = uint64(2 << 20)
)

type Engine struct {
	// immutable config
	path            string
	freezeThreshold uint64
	level0Trigger   int
	baseLevelSize   uint64
	levelMultiplier uint64
	numLevels       int
	targetTableSize uint64
	blockSize       util.Optional[uint64]
	compression     util.Optional[sstable.Compression]

	versions *versionSet

	// state tracking
	lock           sync.RWMutex
	active         *memtable.MemTable
	activeLog      *wal.LogFile
	recoveredLogs  []string
	frozen         []*frozenTable // newest first
	registry       *tableRegistry
	nextFileNumber uint64
	stateErr       error
	closed         bool

	nextTxnID  atomic.Uint64
	activeTxns atomic.Int64

	// concurrency control
	done      chan struct{}
	jobChan   chan struct{}
	wg        sync.WaitGroup
	isRunning atomic.Bool

	flushCount      atomic.Uint64
	compactionCount atomic.Uint64
}

// frozenTable is an immutable memtable queued for flush, together with the
// WAL files covering its contents. The logs are deleted only once the table
// is durably on disk.
type frozenTable struct {
	mt          *memtable.MemTable
	logPaths    []string
	tableNumber uint64
}

type OpenArgs struct {
	Path   string
	Create bool

	// FreezeThreshold is the approximate memtable size that triggers a
	// freeze-and-flush cycle.
	FreezeThreshold util.Optional[uint64]

	BlockSize   util.Optional[uint64]
	Compression util.Optional[sstable.Compression]

	// Level0CompactionTrigger is the level-0 file count that starts a
	// compaction into level 1.
	Level0CompactionTrigger util.Optional[int]
	BaseLevelSize           util.Optional[uint64]
	LevelSizeMultiplier     util.Optional[uint64]
	NumLevels               util.Optional[int]
	TargetTableSize         util.Optional[uint64]
}

func Open(args OpenArgs) (out *Engine, err error) {
	out = &Engine{
		path:            args.Path,
		freezeThreshold: args.FreezeThreshold.Or(defaultFreezeThreshold),
		level0Trigger:   args.Level0CompactionTrigger.Or(defaultLevel0Trigger),
		baseLevelSize:   args.BaseLevelSize.Or(defaultBaseLevelSize),
		levelMultiplier: args.LevelSizeMultiplier.Or(defaultLevelSizeMultiplier),
		numLevels:       args.NumLevels.Or(defaultNumLevels),
		targetTableSize: args.TargetTableSize.Or(defaultTargetTableSize),
		blockSize:       args.BlockSize,
		compression:     args.Compression,

		versions: newVersionSet(),
		active:   memtable.New(),

		done:    make(chan struct{}),
		jobChan: make(chan struct{}, 1),
	}
	out.registry = newTableRegistry(out.numLevels)

	defer func() {
		if err != nil {
			out.registry.releaseAll()
			if out.activeLog != nil {
				_ = out.activeLog.Close()
			}
			if args.Create {
				_ = os.RemoveAll(args.Path)
			}
		}
	}()

	if args.Create {
		if err := os.Mkdir(args.Path, 0o755); err != nil {
			return out, err
		}
	} else {
		// discard half-written flush and compaction output
		_ = os.RemoveAll(out.tmpPath())
	}

	if err := os.Mkdir(out.tmpPath(), 0o755); err != nil {
		return out, err
	}

	if err := out.loadFiles(); err != nil {
		return out, err
	}

	return out, nil
}

// loadFiles scans the database directory, opens every complete table into the
// registry, and replays the write-ahead logs into a fresh active memtable.
func (me *Engine) loadFiles() error {
	directoryEntries, err := os.ReadDir(me.path)
	if err != nil {
		return err
	}

	var (
		maxFileNumber uint64
		walNumbers    []uint64
	)

	for _, dirent := range directoryEntries {
		baseName := dirent.Name()
		switch {
		case baseName == "tmp":
			continue

		case dirent.IsDir():
			log.Printf("Unexpected DB directory %q", baseName)

		case isTableFileName(baseName):
			level, fileNumber, ok := parseTableFileName(baseName)
			if !ok || level >= me.numLevels {
				log.Printf("Unexpected table file %q", baseName)
				continue
			}
			maxFileNumber = max(maxFileNumber, fileNumber)

			reader, err := sstable.Open(sstable.OpenArgs{
				Path: filepath.Join(me.path, baseName),
			})
			if err != nil {
				return err
			}
			handle := newTableHandle(reader, fileNumber)
			me.registry.levels[level] = append(me.registry.levels[level], handle)

		case isWALFileName(baseName):
			fileNumber, ok := parseWALFileName(baseName)
			if !ok {
				log.Printf("Unexpected log file %q", baseName)
				continue
			}
			maxFileNumber = max(maxFileNumber, fileNumber)
			walNumbers = append(walNumbers, fileNumber)

		default:
			log.Printf("Unexpected DB file %q", baseName)
		}
	}

	// level 0 answers reads newest table first; other levels are ordered by
	// key range
	slices.SortFunc(me.registry.levels[0], func(a, b *tableHandle) int {
		return cmp.Compare(b.fileNumber, a.fileNumber)
	})
	for level := 1; level < me.numLevels; level++ {
		slices.SortFunc(me.registry.levels[level], func(a, b *tableHandle) int {
			return slices.Compare(a.meta.MinKey, b.meta.MinKey)
		})
	}

	var maxSeq uint64
	for _, level := range me.registry.levels {
		for _, handle := range level {
			maxSeq = max(maxSeq, handle.meta.MaxSeq)
		}
	}

	// replay unflushed logs oldest first so newer versions land on top
	slices.Sort(walNumbers)
	for i, walNumber := range walNumbers {
		logFile, err := wal.Open(wal.OpenArgs{Path: me.walPath(walNumber)})
		if err != nil {
			return err
		}

		cursor := logFile.NewCursor()
		for {
			record, exists, err := cursor.NextRecord()
			if err != nil {
				_ = logFile.Close()
				return err
			}
			if !exists {
				break
			}
			me.active.Apply(record.Entry())
			maxSeq = max(maxSeq, record.Seq)
		}

		if i == len(walNumbers)-1 {
			// newest log keeps receiving appends
			me.activeLog = &logFile
		} else {
			me.recoveredLogs = append(me.recoveredLogs, logFile.Path())
			_ = logFile.Close()
		}
	}

	me.nextFileNumber = maxFileNumber + 1

	if me.activeLog == nil {
		logNumber := me.nextFileNumber
		me.nextFileNumber++
		logFile, err := wal.Open(wal.OpenArgs{
			Path:   me.walPath(logNumber),
			Create: true,
		})
		if err != nil {
			return err
		}
		me.activeLog = &logFile
	}

	me.versions.Restore(maxSeq)
	return nil
}

// Start launches the background flush and compaction worker.
func (me *Engine) Start() error {
	me.runBackgroundWorker()
	me.notifyWorker()
	return nil
}

func (me *Engine) Close() error {
	me.lock.Lock()
	if me.closed {
		me.lock.Unlock()
		return nil
	}
	me.closed = true
	me.lock.Unlock()

	if me.isRunning.Load() {
		close(me.done)
		me.wg.Wait()
	}

	me.lock.Lock()
	defer me.lock.Unlock()

	if me.activeLog != nil {
		_ = me.activeLog.Close()
	}
	me.registry.releaseAll()

	return nil
}

func (me *Engine) runBackgroundWorker() {
	me.wg.Add(1)
	if alreadyRunning := me.isRunning.Swap(true); alreadyRunning {
		me.wg.Done()
		return
	}
	go func() {
		defer func() {
			me.isRunning.Store(false)
			me.wg.Done()
		}()
		for {
			select {
			case <-me.jobChan:
				for me.flushOldestFrozen() {
				}
				me.runCompactions()
			case <-me.done:
				return
			}
		}
	}()
}

// notifyWorker nudges the background worker. The signal is merely a wakeup;
// the worker drains all pending flushes and compactions each time.
func (me *Engine) notifyWorker() {
	select {
	case me.jobChan <- struct{}{}:
	default:
	}
}

func (me *Engine) checkStateLocked() error {
	if me.closed {
		return ErrClosed
	}
	return me.stateErr
}

func (me *Engine) takeFileNumber() uint64 {
	me.lock.Lock()
	defer me.lock.Unlock()

	out := me.nextFileNumber
	me.nextFileNumber++
	return out
}

func (me *Engine) levelTargetSize(level int) uint64 {
	out := me.baseLevelSize
	for range level - 1 {
		out *= me.levelMultiplier
	}
	return out
}
