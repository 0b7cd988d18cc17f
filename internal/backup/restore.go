package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"dbtidy/internal/inspect"
	"dbtidy/internal/scalar"
	"dbtidy/internal/storage"
)

// RestoreOptions selects what Restore writes back.
type RestoreOptions struct {
	// Columns to restore; empty means every captured column except the key.
	Columns []string
	Logger  *log.Logger
	// MaxErrors caps RestoreResult.Errors; zero means 20.
	MaxErrors int
}

// RestoreResult tallies a restore.
type RestoreResult struct {
	Added    []string
	Rows     int64
	Updated  int64
	Inserted int64
	Failed   int64
	Errors   []string
	Elapsed  time.Duration
}

// Restore writes captured values back into the live table. The artifact is
// verified first. Restored columns missing from the table are re-added with
// a type inferred from the captured values; rows missing from the table are
// re-inserted.
func Restore(ctx context.Context, store storage.Store, a Artifact, opts RestoreOptions) (RestoreResult, error) {
	start := time.Now()
	res := RestoreResult{}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxErrs := opts.MaxErrors
	if maxErrs <= 0 {
		maxErrs = 20
	}

	if err := VerifyArtifact(a); err != nil {
		return res, err
	}
	cols := opts.Columns
	if len(cols) == 0 {
		for _, c := range a.Columns {
			if c != a.KeyColumn {
				cols = append(cols, c)
			}
		}
	}
	captured := make(map[string]bool, len(a.Columns))
	for _, c := range a.Columns {
		captured[c] = true
	}
	for _, c := range cols {
		if !captured[c] || c == a.KeyColumn {
			return res, fmt.Errorf("restore: column %q is not restorable from %s", c, a.DataFile)
		}
	}

	kinds, err := columnKinds(a, cols)
	if err != nil {
		return res, err
	}
	live, err := store.Columns(ctx, a.Table)
	if err != nil {
		return res, fmt.Errorf("restore: %w", err)
	}
	have := make(map[string]bool, len(live))
	for _, c := range live {
		have[c.Name] = true
	}
	for _, c := range cols {
		if have[c] {
			continue
		}
		err := store.AddColumn(ctx, a.Table, storage.ColumnDef{Name: c, Kind: string(kinds[c])})
		if err != nil && !errors.Is(err, storage.ErrColumnExists) {
			return res, fmt.Errorf("restore: add %s: %w", c, err)
		}
		have[c] = true
		res.Added = append(res.Added, c)
		logger.Info("column re-added", "table", a.Table, "column", c, "kind", kinds[c])
	}

	fail := func(key string, err error) {
		res.Failed++
		if len(res.Errors) < maxErrs {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
		}
		logger.Warn("row restore failed", "key", key, "err", err)
	}

	err = eachLine(a, func(l line) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Rows++
		values := make(map[string]any, len(cols))
		for _, c := range cols {
			values[c] = native(kinds[c], l.Row[c])
		}
		n, err := store.Update(ctx, a.Table, a.KeyColumn, l.Key, values)
		if err != nil {
			fail(l.Key, err)
			return nil
		}
		if n > 0 {
			res.Updated++
			return nil
		}

		row := make(map[string]any, len(l.Row))
		for c, v := range l.Row {
			if have[c] {
				k, ok := kinds[c]
				if !ok {
					k = inspect.Classify(v).Kind
				}
				row[c] = native(k, v)
			}
		}
		if err := store.Insert(ctx, a.Table, row); err != nil {
			fail(l.Key, err)
			return nil
		}
		res.Inserted++
		return nil
	})
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, err
	}
	logger.Info("restore finished", "table", a.Table, "rows", res.Rows, "updated", res.Updated,
		"inserted", res.Inserted, "failed", res.Failed, "elapsed", res.Elapsed)
	return res, nil
}

// eachLine decodes the data file line by line with json.Number numbers.
func eachLine(a Artifact, fn func(line) error) error {
	f, err := os.Open(a.DataPath())
	if err != nil {
		return fmt.Errorf("open backup data: %w", err)
	}
	defer f.Close()
	sequential(f)

	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()
	for {
		var l line
		if err := dec.Decode(&l); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode backup data: %w", err)
		}
		if err := fn(l); err != nil {
			return err
		}
	}
}

// columnKinds classifies each column over every captured value.
func columnKinds(a Artifact, cols []string) (map[string]inspect.Kind, error) {
	shapes := make(map[string]inspect.Shape, len(cols))
	for _, c := range cols {
		shapes[c] = inspect.Shape{Kind: inspect.KindUnknown}
	}
	err := eachLine(a, func(l line) error {
		for _, c := range cols {
			shapes[c] = inspect.Merge(shapes[c], inspect.Classify(l.Row[c]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]inspect.Kind, len(cols))
	for c, s := range shapes {
		k := s.Kind
		if k == inspect.KindUnknown {
			k = inspect.KindText
		}
		out[c] = k
	}
	return out, nil
}

// native converts a decoded backup value for binding to a column of kind.
func native(kind inspect.Kind, v any) any {
	switch t := v.(type) {
	case json.Number:
		if kind == inspect.KindInteger {
			if n, err := t.Int64(); err == nil {
				return n
			}
		}
		return t.String()
	case string:
		if kind == inspect.KindTimestamp || kind == inspect.KindDate {
			if ts, _, ok := scalar.ParseDateOrTimestamp(t); ok {
				return ts
			}
		}
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return t
		}
		return storage.JSON(b)
	default:
		return v
	}
}
