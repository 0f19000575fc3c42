package wal

import (
	"bufio"
	"errors"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/navijation/mvstore/util"
)

var (
	ErrCorruptRecord = errors.New("wal: corrupt record")
	ErrBadChecksum   = errors.New("wal: record checksum mismatch")
	ErrBadVersion    = errors.New("wal: unsupported format version")
)

// LogFile is an append-only write-ahead log. Each record is individually
// checksummed and each append batch ends with a commit-flagged record, so a
// power failure during an append leaves a tail that is detected and truncated
// back to the last complete batch on the next open; every fully acknowledged
// batch before it is preserved. The header is written once at creation and
// never modified, so no extra header sync is needed per append.
type LogFile struct {
	// constant metadata
	path string

	// header
	header logFileHeader

	// file descriptor
	file *os.File

	// userspace tracking of (expected) file size
	size uint64

	// current number of valid records
	numberOfRecords uint64

	// largest sequence number appended or replayed
	maxSeq uint64
}

type OpenArgs struct {
	Path   string
	Create bool
}

func Open(args OpenArgs) (out LogFile, err error) {
	flags := os.O_RDWR
	if args.Create {
		flags |= (os.O_CREATE | os.O_EXCL)
	}
	file, err := os.OpenFile(args.Path, flags, 0o644)
	if err != nil {
		return out, err
	}

	defer func() {
		if err != nil {
			_ = file.Close()
			if args.Create {
				_ = os.Remove(args.Path)
			}
		}
	}()

	out = LogFile{
		path: args.Path,
		file: file,
	}

	if args.Create {
		out.header.id = util.NewRandomUUIDBytes()
		out.header.version = formatVersion
		fileW := out.fileWrapperAt(0)
		if _, err := out.header.WriteTo(&fileW); err != nil {
			return out, err
		}
		if err := file.Sync(); err != nil {
			return out, err
		}
		out.size = out.header.SizeOf()
		return out, nil
	}

	if err := out.validate(); err != nil {
		return out, err
	}

	return out, nil
}

func (me *LogFile) Close() error {
	if me.file != nil {
		return me.file.Close()
	}
	return nil
}

// AppendRecord durably appends a single record. The record is not
// acknowledged until the file has been synced.
func (me *LogFile) AppendRecord(record Record) error {
	return me.AppendRecords([]Record{record})
}

// AppendRecords appends a batch of records with a single sync at the end, so
// a transaction commit pays one fsync regardless of write-set size. The final
// record of the batch is written with the commit flag set; replay discards any
// trailing records past the last commit flag, so a batch is recovered in full
// or not at all. If the sync fails the in-memory size is left unchanged and
// the unacknowledged tail will be truncated on the next open.
func (me *LogFile) AppendRecords(records []Record) error {
	endOfFile := me.fileWrapperAt(me.size)

	var written uint64
	for i := range records {
		record := records[i]
		record.Commit = i == len(records)-1
		n, err := record.WriteTo(&endOfFile)
		if err != nil {
			return pkgerrors.Wrapf(err, "wal append to %q", me.path)
		}
		written += uint64(n)
	}

	if err := me.file.Sync(); err != nil {
		return pkgerrors.Wrapf(err, "wal sync %q", me.path)
	}

	me.size += written
	me.numberOfRecords += uint64(len(records))
	for i := range records {
		me.maxSeq = max(me.maxSeq, records[i].Seq)
	}

	return nil
}

func (me *LogFile) Path() string {
	return me.path
}

func (me *LogFile) Size() uint64 {
	return me.size
}

func (me *LogFile) NumRecords() uint64 {
	return me.numberOfRecords
}

func (me *LogFile) MaxSeq() uint64 {
	return me.maxSeq
}

// validate replays the whole log, truncating to the end of the last record
// carrying the commit flag. That point covers two failure shapes at once: a
// record that fails frame or checksum validation, and a batch whose tail was
// lost on a clean record boundary. Nothing past the last commit flag was ever
// acknowledged as durable, so it is discarded.
func (me *LogFile) validate() error {
	fileInfo, err := me.file.Stat()
	if err != nil {
		return err
	}
	diskSize := uint64(fileInfo.Size())

	headerReader := me.fileBufferAt(0)
	if _, err := me.header.ReadFrom(headerReader); err != nil {
		return err
	}

	me.size = diskSize
	cursor := me.NewCursor()

	offset := me.header.SizeOf()
	me.numberOfRecords = 0
	me.maxSeq = 0

	var pendingRecords, pendingMaxSeq uint64
	for {
		record, exists, err := cursor.NextRecord()
		if err != nil {
			if isTruncationError(err) {
				break
			}
			return err
		}
		if !exists {
			break
		}
		pendingRecords++
		pendingMaxSeq = max(pendingMaxSeq, record.Seq)
		if record.Commit {
			offset = cursor.Offset()
			me.numberOfRecords += pendingRecords
			me.maxSeq = max(me.maxSeq, pendingMaxSeq)
			pendingRecords, pendingMaxSeq = 0, 0
		}
	}

	if offset < diskSize {
		if err := me.file.Truncate(int64(offset)); err != nil {
			return err
		}
		if err := me.file.Sync(); err != nil {
			return err
		}
	}
	me.size = offset

	return nil
}

func (me *LogFile) fileWrapperAt(offset uint64) util.FileWrapper {
	return util.NewFileWrapperAt(me.file, offset)
}

func (me *LogFile) fileBufferAt(offset uint64) *bufio.Reader {
	return bufio.NewReader(util.Ptr(me.fileWrapperAt(offset)))
}
