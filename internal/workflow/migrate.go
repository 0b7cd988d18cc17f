package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dbtidy/internal/backup"
	"dbtidy/internal/config"
	"dbtidy/internal/consolidate"
	"dbtidy/internal/dropper"
	"dbtidy/internal/inspect"
	"dbtidy/internal/lock"
	"dbtidy/internal/storage"
)

// TargetKind is the logical column kind of consolidated documents.
const TargetKind = "json"

// MigrateOptions selects what one migrate run does.
type MigrateOptions struct {
	Table string
	Plan  config.Plan
	// Groups defaults to every plan group.
	Groups []consolidate.Group
	// DryRun consolidates without writing and stops before backup.
	DryRun bool
	// ConfirmDrop lets the dropper go past VerifiedSafe.
	ConfirmDrop bool
	// Sample and Strict configure the verification gate.
	Sample int
	Strict bool
}

// MigrateResult collects the outcome of each stage that ran.
type MigrateResult struct {
	Inspection *inspect.Outcome
	Ledgers    []consolidate.Ledger
	Artifact   *backup.Artifact
	Checkpoint *dropper.Checkpoint
	// Resumed is set when a stored checkpoint was continued and the
	// consolidation and backup stages were skipped.
	Resumed bool
	Elapsed time.Duration
}

// Migrate runs inspect, consolidate, backup, verify and drop for one table
// while holding the table's migration lock. A table the read principal
// cannot inspect stops the run before anything is written. A checkpoint
// left by an earlier run for the same columns is resumed directly.
// Consolidation errors stop the run before anything is captured or
// dropped.
func (e *Env) Migrate(ctx context.Context, opts MigrateOptions) (res MigrateResult, err error) {
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	groups := opts.Groups
	if len(groups) == 0 {
		groups = opts.Plan.Groups
	}
	key := opts.Plan.KeyColumn

	lk, err := lock.Acquire(e.Config.StateDir, opts.Table)
	if err != nil {
		return res, err
	}
	defer func() {
		if rerr := lk.Release(); rerr != nil {
			e.Logger.Warn("release lock", "table", opts.Table, "err", rerr)
		}
	}()

	o, err := e.Inspector(key, inspect.DefaultSample).Inspect(ctx, opts.Table)
	if err != nil {
		return res, fmt.Errorf("inspect %s: %w", opts.Table, err)
	}
	res.Inspection = &o

	present := make(map[string]bool, len(o.Columns))
	for _, c := range o.Columns {
		present[c.Name] = true
	}
	also, keep := outside(opts.Plan.Groups, groups, present)
	columns := dropper.Columns(key, groups, keep...)
	if !opts.DryRun {
		cp, ok, err := dropper.Pending(e.Config.StateDir, opts.Table, columns)
		if err != nil {
			return res, err
		}
		if ok {
			e.Logger.Info("continuing stored run", "table", opts.Table, "state", cp.State)
			res.Resumed = true
			return res, e.drop(ctx, opts, groups, also, keep, nil, &res)
		}
	}

	if !opts.DryRun {
		if err := e.Provision(ctx, opts.Table, opts.Plan.Setup, groups); err != nil {
			return res, err
		}
	}

	res.Ledgers, err = e.Consolidator(opts.Table, opts.Plan, opts.DryRun).RunAll(ctx, groups, e.Config.Workers)
	if err != nil {
		return res, fmt.Errorf("consolidate %s: %w", opts.Table, err)
	}
	if opts.DryRun {
		return res, nil
	}

	a, err := e.Sink(opts.Table).Capture(ctx, e.Admin, opts.Table, key)
	if err != nil {
		return res, fmt.Errorf("backup %s: %w", opts.Table, err)
	}
	res.Artifact = &a
	return res, e.drop(ctx, opts, groups, also, keep, &a, &res)
}

func (e *Env) drop(ctx context.Context, opts MigrateOptions, groups, also, keep []consolidate.Group, a *backup.Artifact, res *MigrateResult) error {
	d := &dropper.Dropper{
		Store:       e.Admin,
		Gate:        e.Verifier(opts.Table, opts.Plan, opts.Sample, opts.Strict),
		Table:       opts.Table,
		KeyColumn:   opts.Plan.KeyColumn,
		Groups:      groups,
		Also:        also,
		Keep:        keep,
		StateDir:    e.Config.StateDir,
		Backup:      a,
		ConfirmDrop: opts.ConfirmDrop,
		Logger:      e.Logger,
		Metrics:     e.Recorder(opts.Table),
	}
	cp, err := d.Run(ctx)
	res.Checkpoint = &cp
	return err
}

// outside sorts the plan groups not selected for this run. A group that
// shares a source with the run and whose target exists is verified with
// it, restricted to its sources still present. Every other group is kept:
// its columns stay out of the drop scope.
func outside(plan, selected []consolidate.Group, present map[string]bool) (also, keep []consolidate.Group) {
	in := make(map[string]bool, len(selected))
	sources := map[string]bool{}
	for _, g := range selected {
		in[g.Name] = true
		for _, s := range g.Sources() {
			sources[s] = true
		}
	}
	for _, g := range plan {
		if in[g.Name] {
			continue
		}
		shares := false
		for _, s := range g.Sources() {
			shares = shares || sources[s]
		}
		if !shares || !present[g.Target] {
			keep = append(keep, g)
			continue
		}
		r := consolidate.Group{Name: g.Name, Target: g.Target}
		for _, m := range g.Mappings {
			if present[m.Source] {
				r.Mappings = append(r.Mappings, m)
			}
		}
		also = append(also, r)
	}
	return also, keep
}

// Provision runs the plan's setup statements and adds any missing target
// columns. A target that already exists is left alone.
func (e *Env) Provision(ctx context.Context, table string, setup []string, groups []consolidate.Group) error {
	for i, stmt := range setup {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := e.Admin.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		e.Logger.Debug("setup statement applied", "index", i)
	}
	for _, g := range groups {
		err := e.Admin.AddColumn(ctx, table, storage.ColumnDef{Name: g.Target, Kind: TargetKind})
		switch {
		case err == nil:
			e.Logger.Info("target column added", "table", table, "column", g.Target)
		case errors.Is(err, storage.ErrColumnExists):
			e.Logger.Debug("target column present", "table", table, "column", g.Target)
		default:
			return fmt.Errorf("add target %s: %w", g.Target, err)
		}
	}
	return nil
}
