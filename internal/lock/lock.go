// Package lock provides the per-table "migration in progress" marker: an
// advisory file lock taken with a non-blocking try-lock.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"dbtidy/internal/names"
)

// ErrMigrationInProgress is returned when another process holds the lock.
var ErrMigrationInProgress = errors.New("migration in progress")

// Lock is a held table lock.
type Lock struct {
	fl *flock.Flock
}

// Path returns the lock file for table under stateDir.
func Path(stateDir, table string) string {
	return filepath.Join(stateDir, names.Normalize(table)+".migrate.lock")
}

// Acquire takes the lock for table without waiting.
func Acquire(stateDir, table string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	fl := flock.New(Path(stateDir, table))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", table, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrMigrationInProgress, table, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks. It is safe to call on a nil Lock and more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
