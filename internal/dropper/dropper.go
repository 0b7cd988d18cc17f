// Package dropper removes legacy columns once it is safe to: a backup of
// the table has been re-verified against the live row count and every
// consolidation group has passed verification. Columns are dropped one at
// a time and progress is checkpointed after every step, so an interrupted
// run resumes where it stopped without a new backup or verification.
package dropper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"dbtidy/internal/backup"
	"dbtidy/internal/consolidate"
	"dbtidy/internal/metrics"
	"dbtidy/internal/storage"
	"dbtidy/internal/verify"
)

// ErrInterrupted means the run stopped on a transient failure or
// cancellation; the checkpoint allows it to resume.
var ErrInterrupted = errors.New("drop interrupted; re-run to resume")

// Gate verifies consolidation for the dropper. *verify.Verifier satisfies
// it.
type Gate interface {
	Verify(ctx context.Context, groups []consolidate.Group) (verify.Report, error)
}

// Dropper drives the state machine for one table.
type Dropper struct {
	Store     storage.Store
	Gate      Gate
	Table     string
	KeyColumn string
	Groups    []consolidate.Group
	// Also lists groups outside this run that share a source with Groups.
	// They pass through the gate with Groups but never widen the scope.
	Also []consolidate.Group
	// Keep lists groups outside this run whose sources and targets are
	// never dropped.
	Keep     []consolidate.Group
	StateDir string
	// Backup is the artifact to confirm against; nil blocks a fresh run.
	Backup *backup.Artifact
	// ConfirmDrop allows VerifiedSafe -> Dropping.
	ConfirmDrop bool
	Logger      *log.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

func (d *Dropper) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Dropper) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Columns lists the legacy columns in scope: every group source in plan
// order, never the key column, a group target, or a column that any group
// in keep reads or writes.
func Columns(keyColumn string, groups []consolidate.Group, keep ...consolidate.Group) []string {
	protected := map[string]bool{keyColumn: true}
	for _, g := range groups {
		protected[g.Target] = true
	}
	for _, g := range keep {
		protected[g.Target] = true
		for _, s := range g.Sources() {
			protected[s] = true
		}
	}
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		for _, s := range g.Sources() {
			if protected[s] || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (d *Dropper) save(cp *Checkpoint) error {
	cp.UpdatedAt = d.now()
	return save(d.StateDir, *cp)
}

// block moves cp to Blocked and persists it.
func (d *Dropper) block(cp *Checkpoint, reason string, failing []string) (Checkpoint, error) {
	if err := cp.advance(Blocked); err != nil {
		return *cp, err
	}
	cp.Reason = reason
	cp.Failing = failing
	d.logger().Error("drop blocked", "table", d.Table, "reason", reason, "failing", failing)
	return *cp, d.save(cp)
}

// Run advances the machine as far as it may go. A Blocked or report-only
// (VerifiedSafe) result is returned with a nil error; a verification query
// that fails blocks the run. ErrInterrupted is returned when a transient
// failure stopped the run in a resumable state.
func (d *Dropper) Run(ctx context.Context) (cp Checkpoint, err error) {
	start := time.Now()
	defer func() { d.Metrics.Step("drop", err, time.Since(start)) }()

	columns := Columns(d.KeyColumn, d.Groups, d.Keep...)
	cp, err = d.resume(columns)
	if err != nil {
		return cp, err
	}

	if cp.State == AwaitingBackup {
		if err := d.save(&cp); err != nil {
			return cp, err
		}
		if blocked, reason, err := d.confirmBackup(ctx, &cp, columns); err != nil {
			return cp, err
		} else if blocked {
			return d.block(&cp, reason, nil)
		}
		if err := cp.advance(BackupConfirmed); err != nil {
			return cp, err
		}
		if err := d.save(&cp); err != nil {
			return cp, err
		}
	}

	if cp.State == BackupConfirmed {
		if err := cp.advance(Verifying); err != nil {
			return cp, err
		}
		if err := d.save(&cp); err != nil {
			return cp, err
		}
		rep, err := d.Gate.Verify(ctx, append(append([]consolidate.Group(nil), d.Groups...), d.Also...))
		if err != nil {
			if ctx.Err() != nil {
				return cp, ctx.Err()
			}
			return d.block(&cp, "verification error: "+err.Error(), nil)
		}
		cp.Verification = &rep
		if !rep.Passed() {
			return d.block(&cp, "verification failed", rep.Failing())
		}
		if err := cp.advance(VerifiedSafe); err != nil {
			return cp, err
		}
		if err := d.save(&cp); err != nil {
			return cp, err
		}
	}

	if cp.State == VerifiedSafe {
		if !d.ConfirmDrop {
			d.logger().Info("verified safe; drop not confirmed", "table", d.Table, "columns", len(columns))
			return cp, nil
		}
		if err := cp.advance(Dropping); err != nil {
			return cp, err
		}
		cp.Columns = make([]ColumnOutcome, len(columns))
		for i, c := range columns {
			cp.Columns[i] = ColumnOutcome{Column: c, Status: ColumnPending}
		}
		if err := d.save(&cp); err != nil {
			return cp, err
		}
	}

	if cp.State == Dropping {
		if err := d.drop(ctx, &cp); err != nil {
			return cp, err
		}
		if err := cp.advance(Complete); err != nil {
			return cp, err
		}
		if err := d.save(&cp); err != nil {
			return cp, err
		}
		t := cp.Tally()
		d.logger().Info("drop complete", "table", d.Table,
			"dropped", t[ColumnDropped], "absent", t[ColumnAbsent], "failed", t[ColumnFailed])
	}
	return cp, nil
}

// resume loads a checkpoint that may be continued, or starts a fresh one.
// A stored run is continued only when it is resumable and covers the same
// columns; a completed run for the same columns is returned as is.
func (d *Dropper) resume(columns []string) (Checkpoint, error) {
	fresh := Checkpoint{Table: d.Table, State: AwaitingBackup, Scope: columns}
	stored, ok, err := Load(d.StateDir, d.Table)
	if err != nil || !ok {
		return fresh, err
	}
	if !(stored.State.Resumable() || stored.State == Complete) || !sameSet(stored.Scope, columns) {
		return fresh, nil
	}
	d.logger().Info("resuming", "table", d.Table, "state", stored.State)
	return stored, nil
}

// Pending reports whether a stored checkpoint for the same columns can be
// continued without a new backup.
func Pending(stateDir, table string, columns []string) (Checkpoint, bool, error) {
	cp, ok, err := Load(stateDir, table)
	if err != nil || !ok {
		return cp, false, err
	}
	return cp, (cp.State.Resumable() || cp.State == Complete) && sameSet(cp.Scope, columns), nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = append([]string(nil), a...)
	b = append([]string(nil), b...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// confirmBackup re-verifies the artifact and compares row counts.
func (d *Dropper) confirmBackup(ctx context.Context, cp *Checkpoint, columns []string) (blocked bool, reason string, err error) {
	a := d.Backup
	if a == nil {
		return true, "no backup artifact", nil
	}
	if a.Table != d.Table {
		return true, fmt.Sprintf("backup %s is for table %s", a.DataFile, a.Table), nil
	}
	if err := backup.VerifyArtifact(*a); err != nil {
		return true, err.Error(), nil
	}
	captured := make(map[string]bool, len(a.Columns))
	for _, c := range a.Columns {
		captured[c] = true
	}
	for _, c := range columns {
		if !captured[c] {
			return true, fmt.Sprintf("backup %s does not contain column %s", a.DataFile, c), nil
		}
	}

	live, err := d.Store.Count(ctx, d.Table, storage.Filter{})
	if err != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		return true, "live count: " + err.Error(), nil
	}
	cp.LiveRows = live
	cp.Backup = &BackupRef{Manifest: a.Path, Checksum: a.Checksum, RowCount: a.RowCount, Captured: a.CapturedAt}
	if live != a.RowCount {
		return true, fmt.Sprintf("stale backup: captured %d rows, table has %d; re-capture required", a.RowCount, live), nil
	}
	return false, "", nil
}

// drop attempts every pending column, checkpointing after each.
func (d *Dropper) drop(ctx context.Context, cp *Checkpoint) error {
	for i := range cp.Columns {
		col := &cp.Columns[i]
		if col.Status != ColumnPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		err := d.Store.DropColumn(ctx, d.Table, col.Column)
		switch {
		case err == nil:
			col.Status = ColumnDropped
			d.Metrics.Columns("dropped", 1)
			d.logger().Info("column dropped", "table", d.Table, "column", col.Column)
		case errors.Is(err, storage.ErrColumnMissing):
			col.Status = ColumnAbsent
			d.Metrics.Columns("absent", 1)
			d.logger().Info("column already absent", "table", d.Table, "column", col.Column)
		case storage.IsTransient(err), ctx.Err() != nil:
			if serr := d.save(cp); serr != nil {
				return errors.Join(err, serr)
			}
			d.logger().Warn("drop interrupted", "table", d.Table, "column", col.Column, "err", err)
			return fmt.Errorf("%w: %s: %v", ErrInterrupted, col.Column, err)
		default:
			col.Status = ColumnFailed
			col.Error = err.Error()
			d.Metrics.Columns("failed", 1)
			d.logger().Error("column drop failed", "table", d.Table, "column", col.Column, "err", err)
		}
		col.At = d.now()
		if err := d.save(cp); err != nil {
			return err
		}
	}
	return nil
}
