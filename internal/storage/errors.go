package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
)

// Sentinel errors every backend maps its driver errors onto.
var (
	ErrTableMissing  = errors.New("table not found")
	ErrColumnMissing = errors.New("column not found")
	ErrColumnExists  = errors.New("column already exists")
	ErrPermission    = errors.New("permission denied")
)

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable (connection loss, timeouts, lock
// contention). A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var te *transientError
	if errors.As(err, &te) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying: explicitly marked
// transient errors, per-call deadline expiry, network timeouts and
// driver.ErrBadConn.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// IsSchemaDrift reports whether err only says the schema is already in the
// requested shape (column already added or already dropped).
func IsSchemaDrift(err error) bool {
	return errors.Is(err, ErrColumnMissing) || errors.Is(err, ErrColumnExists)
}
