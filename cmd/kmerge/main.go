// Command kmerge merges pre-sorted files of integers into one sorted file.
//
// Usage:
//
//	kmerge merge    [flags] [source ...]
//	kmerge generate [flags]
//	kmerge verify   [flags] file ...
//	kmerge runs     [flags]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var errUsage = errors.New("usage")

const usage = `usage: kmerge <command> [flags]

commands:
  merge     merge sorted runs into one output
  generate  write random sorted runs
  verify    check that files are sorted
  runs      list the runs recorded in a manifest
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Getenv)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		if zerolog.GlobalLevel() <= zerolog.DebugLevel {
			fmt.Fprintf(os.Stderr, "kmerge: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "kmerge: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errUsage
	}

	switch args[0] {
	case "merge":
		return runMerge(ctx, args[1:], stdout, getenv)
	case "generate":
		return runGenerate(args[1:], stdout, getenv)
	case "verify":
		return runVerify(args[1:], stdout, getenv)
	case "runs":
		return runList(args[1:], stdout, getenv)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "kmerge: unknown command %q\n\n%s", args[0], usage)
		return errUsage
	}
}
