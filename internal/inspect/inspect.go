// Package inspect discovers a table's columns, infers a semantic type per
// column from a bounded row sample, and reports exact population counts.
// It never writes.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"dbtidy/internal/storage"
)

// DefaultSample is the number of rows sampled per table.
const DefaultSample = 5

// Column is one observed column.
type Column struct {
	Name     string
	DataType string
	Shape
	// Looks is set on text columns whose sampled values are all numeric or
	// boolean strings, e.g. phone numbers with leading zeros.
	Looks Kind
	// NonNull is the exact count of rows where the column is not null.
	NonNull int64
}

// Outcome is the per-table inspection result. When Inaccessible is set the
// other fields are empty and Reason says why.
type Outcome struct {
	Table        string
	Columns      []Column
	RowCount     int64
	Inaccessible bool
	Reason       string
	Elapsed      time.Duration
}

// Column returns the named column, if present.
func (o Outcome) Column(name string) (Column, bool) {
	for _, c := range o.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Inspector samples tables through a (typically read-only) store.
type Inspector struct {
	Store     storage.Store
	KeyColumn string
	Sample    int
	Workers   int
	Logger    *log.Logger
}

func (in *Inspector) sample() int {
	if in.Sample > 0 {
		return in.Sample
	}
	return DefaultSample
}

func (in *Inspector) logger() *log.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return log.Default()
}

// InspectAll inspects every table, at most Workers at a time. A table that
// cannot be queried yields an Inaccessible outcome; the only returned error
// is context cancellation.
func (in *Inspector) InspectAll(ctx context.Context, tables []string) ([]Outcome, error) {
	out := make([]Outcome, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	workers := in.Workers
	if workers <= 0 {
		workers = 4
	}
	g.SetLimit(workers)

	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			o, err := in.Inspect(gctx, table)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				in.logger().Warn("table inaccessible", "table", table, "err", err)
				o = Outcome{Table: table, Inaccessible: true, Reason: err.Error()}
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Inspect inspects a single table.
func (in *Inspector) Inspect(ctx context.Context, table string) (Outcome, error) {
	start := time.Now()
	cat, err := in.Store.Columns(ctx, table)
	if err != nil {
		return Outcome{}, fmt.Errorf("catalog: %w", err)
	}

	key := in.KeyColumn
	if !hasColumn(cat, key) {
		key = cat[0].Name
	}

	rows, err := in.Store.Scan(ctx, storage.ScanQuery{Table: table, KeyColumn: key, Limit: in.sample()})
	if err != nil {
		return Outcome{}, fmt.Errorf("sample: %w", err)
	}

	o := Outcome{Table: table, Columns: make([]Column, len(cat))}
	for i, c := range cat {
		col := Column{Name: c.Name, DataType: c.DataType, Shape: Shape{Kind: KindUnknown}}
		values := make([]any, 0, len(rows))
		for _, r := range rows {
			values = append(values, r.Values[c.Name])
			col.Shape = Merge(col.Shape, Classify(r.Values[c.Name]))
		}
		if col.Kind == KindUnknown {
			if col.Shape, values, err = in.resample(ctx, table, key, c.Name); err != nil {
				return Outcome{}, err
			}
		}
		if col.Kind == KindText {
			if k := TextLooks(values); k != KindUnknown {
				col.Looks = k
			}
		}
		o.Columns[i] = col
	}

	if o.RowCount, err = in.Store.Count(ctx, table, storage.Filter{}); err != nil {
		return Outcome{}, fmt.Errorf("count: %w", err)
	}
	for i := range o.Columns {
		n, err := in.Store.Count(ctx, table, storage.Filter{NotNull: []string{o.Columns[i].Name}})
		if err != nil {
			return Outcome{}, fmt.Errorf("count %s: %w", o.Columns[i].Name, err)
		}
		o.Columns[i].NonNull = n
	}
	o.Elapsed = time.Since(start)

	in.logger().Debug("inspected", "table", table, "columns", len(o.Columns), "rows", o.RowCount, "elapsed", o.Elapsed)
	return o, nil
}

// resample looks only at rows where column is non-null and returns the
// sampled values with their shape. A column that is null everywhere stays
// unknown.
func (in *Inspector) resample(ctx context.Context, table, key, column string) (Shape, []any, error) {
	rows, err := in.Store.Scan(ctx, storage.ScanQuery{
		Table: table, KeyColumn: key, Columns: []string{column},
		Limit: in.sample(), Where: storage.Filter{NotNull: []string{column}},
	})
	if err != nil && !errors.Is(err, storage.ErrColumnMissing) {
		return Shape{}, nil, fmt.Errorf("resample %s: %w", column, err)
	}
	s := Shape{Kind: KindUnknown}
	values := make([]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, r.Values[column])
		s = Merge(s, Classify(r.Values[column]))
	}
	return s, values, nil
}

func hasColumn(cols []storage.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
