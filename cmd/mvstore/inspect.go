package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/navijation/mvstore/storage/sstable"
)

func inspectTable(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: inspect-table sstable_path")
	}

	path := cmd.Args().First()

	reader, err := sstable.Open(sstable.OpenArgs{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer reader.Close()

	meta := reader.Meta()
	fmt.Printf(
		"Table\n"+
			"  ID: %s\n"+
			"  Size: %d\n"+
			"  Entries: %d\n"+
			"  Key range: %q .. %q\n"+
			"  Sequence range: %d .. %d\n\n",
		meta.UUID().String(),
		meta.Size,
		meta.Entries,
		meta.MinKey,
		meta.MaxKey,
		meta.MinSeq,
		meta.MaxSeq,
	)

	fmt.Printf("Entries:\n")
	for e, err := range reader.Entries() {
		if err != nil {
			return fmt.Errorf("failed to read table entry: %w", err)
		}
		if e.IsTombstone() {
			fmt.Printf("  - %q @%d: <deleted>\n", e.Key, e.Seq)
		} else {
			fmt.Printf("  - %q @%d: %q (%d bytes)\n", e.Key, e.Seq, e.Value, len(e.Value))
		}
	}

	return nil
}
