package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/navijation/mvstore/db/engine"
	"github.com/navijation/mvstore/util"
)

func withEngine(cmd *cli.Command, do func(e *engine.Engine) error) error {
	path := cmd.String("db")
	if exists, err := util.FileExists(path); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("no database at %q", path)
	}

	e, err := engine.Open(engine.OpenArgs{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer e.Close()

	if err := e.Start(); err != nil {
		return err
	}
	return do(e)
}

func createDatabase(ctx context.Context, cmd *cli.Command) error {
	e, err := engine.Open(engine.OpenArgs{Path: cmd.String("db"), Create: true})
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return e.Close()
}

func getKey(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: get --db path key")
	}

	return withEngine(cmd, func(e *engine.Engine) error {
		value, err := e.Get([]byte(cmd.Args().First()))
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", value)
		return nil
	})
}

func putKey(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: put --db path key value")
	}

	return withEngine(cmd, func(e *engine.Engine) error {
		return e.Put([]byte(cmd.Args().Get(0)), []byte(cmd.Args().Get(1)))
	})
}

func deleteKey(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: del --db path key")
	}

	return withEngine(cmd, func(e *engine.Engine) error {
		return e.Delete([]byte(cmd.Args().First()))
	})
}

func scanRange(ctx context.Context, cmd *cli.Command) error {
	var start, end []byte
	if s := cmd.String("start"); s != "" {
		start = []byte(s)
	}
	if s := cmd.String("end"); s != "" {
		end = []byte(s)
	}

	return withEngine(cmd, func(e *engine.Engine) error {
		for pair, err := range e.Scan(start, end) {
			if err != nil {
				return err
			}
			fmt.Printf("%q -> %q\n", pair.Key, pair.Value)
		}
		return nil
	})
}

func printStats(ctx context.Context, cmd *cli.Command) error {
	return withEngine(cmd, func(e *engine.Engine) error {
		stats := e.Stats()
		fmt.Printf(
			"Visible sequence: %d\n"+
				"Oldest active snapshot: %d\n"+
				"Active snapshots: %d\n"+
				"MemTable bytes: %d\n"+
				"Frozen memtables: %d\n"+
				"Table bytes: %d\n"+
				"Flushes: %d\n"+
				"Compactions: %d\n",
			stats.VisibleSeq,
			stats.OldestActiveSnapshot,
			stats.ActiveSnapshots,
			stats.MemTableBytes,
			stats.FrozenMemTables,
			stats.TableBytes,
			stats.FlushCount,
			stats.CompactionCount,
		)
		fmt.Printf("Tables per level:\n")
		for level, count := range stats.TablesPerLevel {
			fmt.Printf("  L%d: %d\n", level, count)
		}
		return nil
	})
}
