package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"dbtidy/internal/dropper"
	"dbtidy/internal/lock"
)

// Process exit codes.
const (
	exitOK = 0
	// exitBlocked: a precondition stopped the run (verification FAIL, blocked
	// drop, stale or tampered backup, migration in progress).
	exitBlocked = 1
	exitUsage   = 2
	// exitPartial: the run finished but some records or columns failed.
	exitPartial = 3
	// exitInterrupted: stopped early; re-running resumes.
	exitInterrupted = 4
)

// ExitError carries a specific exit code. A nil Err means the outcome was
// already printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(err error) error   { return &ExitError{Code: exitUsage, Err: err} }
func silentExit(code int) error    { return &ExitError{Code: code} }
func blockedError(err error) error { return &ExitError{Code: exitBlocked, Err: err} }

// exitCode maps err onto a process exit code and prints it when needed.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	code := exitBlocked
	var ee *ExitError
	switch {
	case errors.As(err, &ee):
		code = ee.Code
		if ee.Err == nil {
			return code
		}
	case errors.Is(err, dropper.ErrInterrupted), errors.Is(err, context.Canceled):
		code = exitInterrupted
	case errors.Is(err, lock.ErrMigrationInProgress):
		code = exitBlocked
	}
	fmt.Fprintf(stderr, "dbtidy: %v\n", err)
	return code
}
