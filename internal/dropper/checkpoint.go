package dropper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"dbtidy/internal/names"
	"dbtidy/internal/verify"
)

// State is a dropper state.
type State string

const (
	AwaitingBackup  State = "awaiting_backup"
	BackupConfirmed State = "backup_confirmed"
	Verifying       State = "verifying"
	VerifiedSafe    State = "verified_safe"
	Dropping        State = "dropping"
	Complete        State = "complete"
	Blocked         State = "blocked"
)

var transitions = map[State][]State{
	AwaitingBackup:  {BackupConfirmed, Blocked},
	BackupConfirmed: {Verifying},
	Verifying:       {VerifiedSafe, Blocked},
	VerifiedSafe:    {Dropping},
	Dropping:        {Complete, Blocked},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Resumable reports whether a run may continue from s without a new backup
// or verification.
func (s State) Resumable() bool { return s == VerifiedSafe || s == Dropping }

// ColumnStatus is the outcome of one column drop.
type ColumnStatus string

const (
	ColumnPending ColumnStatus = "pending"
	ColumnDropped ColumnStatus = "dropped"
	// ColumnAbsent means the column was already gone; it counts as success.
	ColumnAbsent ColumnStatus = "absent"
	ColumnFailed ColumnStatus = "failed"
)

// ColumnOutcome is one ledger line.
type ColumnOutcome struct {
	Column string       `json:"column"`
	Status ColumnStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
	At     time.Time    `json:"at,omitempty"`
}

// BackupRef pins the artifact the run was confirmed against.
type BackupRef struct {
	Manifest string    `json:"manifest"`
	Checksum string    `json:"checksum"`
	RowCount int64     `json:"row_count"`
	Captured time.Time `json:"captured_at"`
}

// Checkpoint is the persisted dropper state for one table.
type Checkpoint struct {
	Table string `json:"table"`
	State State  `json:"state"`
	// Scope is the set of legacy columns the run covers.
	Scope        []string        `json:"scope"`
	Backup       *BackupRef      `json:"backup,omitempty"`
	LiveRows     int64           `json:"live_rows"`
	Verification *verify.Report  `json:"verification,omitempty"`
	Columns      []ColumnOutcome `json:"columns"`
	// Reason explains a Blocked state.
	Reason string `json:"reason,omitempty"`
	// Failing lists groups that failed verification.
	Failing   []string  `json:"failing,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Checkpoint) advance(to State) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", c.State, to)
	}
	c.State = to
	return nil
}

// Tally counts columns per status.
func (c Checkpoint) Tally() map[ColumnStatus]int {
	out := map[ColumnStatus]int{}
	for _, col := range c.Columns {
		out[col.Status]++
	}
	return out
}

// Path returns the checkpoint file for table.
func Path(stateDir, table string) string {
	return filepath.Join(stateDir, names.Normalize(table)+".checkpoint.json")
}

// Load reads the checkpoint for table; ok is false when there is none.
func Load(stateDir, table string) (cp Checkpoint, ok bool, err error) {
	raw, err := os.ReadFile(Path(stateDir, table))
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, true, nil
}

// Reset removes the stored checkpoint for table, if any. A rollback calls
// it so the next migrate starts from a fresh backup.
func Reset(stateDir, table string) error {
	err := os.Remove(Path(stateDir, table))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}

// save writes the checkpoint atomically.
func save(stateDir string, cp Checkpoint) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	path := Path(stateDir, cp.Table)
	tmp, err := os.CreateTemp(stateDir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}
