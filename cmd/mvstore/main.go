package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "mvstore",
		Usage: "inspect and manipulate mvstore databases",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "create an empty database",
				Action: createDatabase,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "get",
				Usage:  "print the value of a key",
				Action: getKey,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "put",
				Usage:  "write a key-value pair",
				Action: putKey,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "del",
				Usage:  "delete a key",
				Action: deleteKey,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "scan",
				Usage:  "list key-value pairs in a range",
				Action: scanRange,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:  "start",
						Usage: "inclusive start of the range",
					},
					&cli.StringFlag{
						Name:  "end",
						Usage: "exclusive end of the range",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "print engine statistics",
				Action: printStats,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "inspect-table",
				Usage:  "dump the structure and contents of an SSTable file",
				Action: inspectTable,
			},
			{
				Name:   "dump-wal",
				Usage:  "dump the records of a write-ahead log file",
				Action: dumpWAL,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Usage:    "path of the database directory",
		Required: true,
	}
}
