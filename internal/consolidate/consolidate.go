// Package consolidate folds legacy flat columns into nested JSON documents.
//
// A Group names the target column and maps each legacy source column to a
// dotted key of the target document. The Consolidator walks the table in
// key order with keyset pagination, rebuilds the document for every row
// that has legacy data and writes it back one row at a time. Documents are
// encoded canonically, so a row whose stored document already matches is
// left untouched and repeated runs are no-ops.
package consolidate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"dbtidy/internal/metrics"
	"dbtidy/internal/storage"
)

// DefaultBatchSize is the keyset page size.
const DefaultBatchSize = 500

// defaultMaxErrors caps the per-record error messages kept in a Ledger.
const defaultMaxErrors = 20

// Ledger tallies one group's sweep.
type Ledger struct {
	Group     string
	Target    string
	Scanned   int64
	Updated   int64
	Unchanged int64
	Failed    int64
	// Unparsed counts fields recorded under UnparsedKey.
	Unparsed int64
	// Errors holds the first per-record failures, "<key>: <error>".
	Errors  []string
	DryRun  bool
	Elapsed time.Duration
}

// Consolidator runs groups against one table.
type Consolidator struct {
	Store     storage.Store
	Table     string
	KeyColumn string
	Registry  *Registry
	BatchSize int
	// DryRun builds documents and counts would-be updates without writing.
	DryRun bool
	// MaxErrors caps Ledger.Errors; zero means 20.
	MaxErrors int
	Logger    *log.Logger
	Metrics   *metrics.Recorder
}

func (c *Consolidator) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Consolidator) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

func (c *Consolidator) registry() *Registry {
	if c.Registry != nil {
		return c.Registry
	}
	return NewRegistry("")
}

// checkColumns fails when the key, the target or a source column is
// missing. A dry run tolerates a missing target; it reports whether the
// target exists.
func (c *Consolidator) checkColumns(ctx context.Context, g Group) (bool, error) {
	cols, err := c.Store.Columns(ctx, c.Table)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool, len(cols))
	for _, col := range cols {
		have[col.Name] = true
	}
	for _, name := range append([]string{c.KeyColumn}, g.Sources()...) {
		if !have[name] {
			return false, fmt.Errorf("%w: %s.%s", storage.ErrColumnMissing, c.Table, name)
		}
	}
	if !have[g.Target] && !c.DryRun {
		return false, fmt.Errorf("%w: %s.%s", storage.ErrColumnMissing, c.Table, g.Target)
	}
	return have[g.Target], nil
}

// Run sweeps the table once for g. Per-record failures are counted in the
// ledger and do not stop the sweep; the returned error is a catalog or page
// read failure, or ctx cancellation. The ledger is valid in every case and
// reflects what was committed.
func (c *Consolidator) Run(ctx context.Context, g Group) (l Ledger, err error) {
	start := time.Now()
	l = Ledger{Group: g.Name, Target: g.Target, DryRun: c.DryRun}
	defer func() {
		l.Elapsed = time.Since(start)
		c.record(l, err)
	}()

	hasTarget, err := c.checkColumns(ctx, g)
	if err != nil {
		return l, fmt.Errorf("group %s: %w", g.Name, err)
	}

	reg := c.registry()
	maxErrs := c.MaxErrors
	if maxErrs <= 0 {
		maxErrs = defaultMaxErrors
	}
	fail := func(key string, err error) {
		l.Failed++
		if len(l.Errors) < maxErrs {
			l.Errors = append(l.Errors, fmt.Sprintf("%s: %v", key, err))
		}
		c.logger().Warn("record update failed", "group", g.Name, "key", key, "err", err)
	}

	columns := g.Sources()
	if hasTarget {
		columns = append([]string{g.Target}, columns...)
	}
	after := ""
	batch := 0
	lastLog := time.Now()
	var sinceLog int64
	for {
		if err := ctx.Err(); err != nil {
			return l, err
		}
		recs, err := c.Store.Scan(ctx, storage.ScanQuery{
			Table: c.Table, KeyColumn: c.KeyColumn, Columns: columns,
			After: after, Limit: c.batchSize(), Where: g.Filter(),
		})
		if err != nil {
			return l, fmt.Errorf("group %s: scan after %q: %w", g.Name, after, err)
		}
		if len(recs) == 0 {
			break
		}
		batch++

		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return l, err
			}
			after = rec.Key
			l.Scanned++

			doc, eligible := g.Build(reg, rec.Values)
			if !eligible {
				continue
			}
			l.Unparsed += int64(len(doc.Unparsed))

			enc, err := doc.Encode()
			if err != nil {
				fail(rec.Key, err)
				continue
			}
			if same(rec.Values[g.Target], enc) {
				l.Unchanged++
				continue
			}
			if c.DryRun {
				l.Updated++
				sinceLog++
				continue
			}

			n, err := c.Store.Update(ctx, c.Table, c.KeyColumn, rec.Key, map[string]any{g.Target: storage.JSON(enc)})
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return l, ctx.Err()
				}
				fail(rec.Key, err)
			case n == 0:
				fail(rec.Key, errors.New("no row matched key"))
			default:
				l.Updated++
				sinceLog++
			}
		}

		now := time.Now()
		rps := float64(0)
		if d := now.Sub(lastLog); d > 0 {
			rps = float64(sinceLog) / d.Seconds()
		}
		c.logger().Info("batch",
			"group", g.Name, "n", batch, "rps", fmt.Sprintf("%.0f", rps),
			"scanned", l.Scanned, "updated", l.Updated, "unchanged", l.Unchanged,
			"failed", l.Failed, "elapsed", time.Since(start).Round(time.Millisecond))
		lastLog, sinceLog = now, 0

		if len(recs) < c.batchSize() {
			break
		}
	}
	return l, nil
}

// same reports whether the stored target value encodes to enc.
func same(stored any, enc []byte) bool {
	v := Stored(stored)
	if v == nil {
		return false
	}
	cur, err := Canonical(v)
	return err == nil && bytes.Equal(cur, enc)
}

func (c *Consolidator) record(l Ledger, err error) {
	c.Metrics.Records("scanned", l.Scanned)
	c.Metrics.Records("updated", l.Updated)
	c.Metrics.Records("unchanged", l.Unchanged)
	c.Metrics.Records("failed", l.Failed)
	c.Metrics.Records("unparsed", l.Unparsed)
	c.Metrics.Step("consolidate", err, l.Elapsed)
}

// RunAll runs groups in parallel, at most workers at a time. Groups must
// write disjoint targets. Ledgers are returned in group order; errors of
// individual groups are joined.
func (c *Consolidator) RunAll(ctx context.Context, groups []Group, workers int) ([]Ledger, error) {
	targets := make(map[string]string, len(groups))
	for _, g := range groups {
		if prev, dup := targets[g.Target]; dup {
			return nil, fmt.Errorf("groups %s and %s both write %s", prev, g.Name, g.Target)
		}
		targets[g.Target] = g.Name
	}
	if workers <= 0 {
		workers = 1
	}

	ledgers := make([]Ledger, len(groups))
	var (
		mu   sync.Mutex
		errs []error
	)
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			l, err := c.Run(ctx, g)
			ledgers[i] = l
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return ledgers, errors.Join(errs...)
}
