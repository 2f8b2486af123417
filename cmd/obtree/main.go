// Command obtree builds, inspects and queries on-disk B-trees.
//
// Usage:
//
//	obtree build   -dir ./data -name ids -schema id:int8,name:text -key id -csv ids.csv
//	obtree inspect -dir ./data -name ids
//	obtree verify  -dir ./data -name ids
//	obtree lookup  -dir ./data -name ids 42
//	obtree scan    -dir ./data -name ids -limit 10
//
// Remote stores are selected with -s3-bucket (optionally -ddb-table) or
// -minio-endpoint and -minio-bucket. build mirrors to the remote store, the
// other commands read from it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"build", "build a tree from a CSV file", runBuild},
	{"inspect", "print the header and checkpoints of a tree", runInspect},
	{"verify", "check the structure of a tree", runVerify},
	{"lookup", "print the tuples matching a key", runLookup},
	{"scan", "print tuples in key order", runScan},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(ctx, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(2)
}
