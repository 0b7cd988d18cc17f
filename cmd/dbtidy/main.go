// Command dbtidy consolidates legacy columns of a database table into
// nested JSON documents and then retires those columns behind a verified
// backup and an explicit confirmation.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	// register all backends with the storage factory.
	_ "dbtidy/internal/storage/all"
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(getenv)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return exitCode(err, stderr)
}
