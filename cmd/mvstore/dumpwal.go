package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/navijation/mvstore/storage/entry"
	"github.com/navijation/mvstore/storage/wal"
)

func dumpWAL(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: dump-wal log_path")
	}

	path := cmd.Args().First()

	logFile, err := wal.Open(wal.OpenArgs{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer logFile.Close()

	fmt.Printf(
		"Log\n"+
			"  Size: %d\n"+
			"  Records: %d\n"+
			"  Max sequence: %d\n\n",
		logFile.Size(),
		logFile.NumRecords(),
		logFile.MaxSeq(),
	)

	fmt.Printf("Records:\n")
	cursor := logFile.NewCursor()
	for {
		record, exists, err := cursor.NextRecord()
		if err != nil {
			return fmt.Errorf("failed to read log record: %w", err)
		}
		if !exists {
			break
		}
		switch record.Op {
		case entry.OpDelete:
			fmt.Printf("  - @%d delete %q\n", record.Seq, record.Key)
		default:
			fmt.Printf("  - @%d put %q -> %q\n", record.Seq, record.Key, record.Value)
		}
	}

	return nil
}
