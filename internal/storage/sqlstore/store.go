// Package sqlstore implements storage.Store on top of database/sql. The
// SQLite, MySQL and MSSQL backends are thin Dialects plugged into this one
// implementation; Postgres has its own pgx-based store.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/sqlgen"
)

// Dialect describes one database/sql backend.
type Dialect interface {
	sqlgen.Syntax

	// Kind is the registry name, e.g. "sqlite".
	Kind() string
	// DriverName is the database/sql driver name.
	DriverName() string
	// DSN merges the credential into the endpoint.
	DSN(endpoint, credential string) (string, error)
	// ColumnsQuery returns the catalog query listing name and data type for
	// table.
	ColumnsQuery(table string) (string, []any)
	// MapType maps a logical column kind onto a SQL type.
	MapType(kind string) string
	// AddKeyword is "ADD COLUMN" or "ADD".
	AddKeyword() string
	// Classify maps a driver error onto storage sentinels and the transient
	// marker.
	Classify(err error) error
	// Bind converts a value for use as a statement argument.
	Bind(v any) any
	// Normalize converts a scanned value using its column type.
	Normalize(ct *sql.ColumnType, v any) any
}

// Store is a database/sql-backed storage.Store.
type Store struct {
	db *sql.DB
	d  Dialect
}

var _ storage.Store = (*Store)(nil)

// Open connects using d and cfg and pings once to fail fast.
func Open(ctx context.Context, d Dialect, cfg storage.Config) (*Store, error) {
	dsn, err := d.DSN(cfg.Endpoint, cfg.Credential)
	if err != nil {
		return nil, fmt.Errorf("%s: dsn: %w", d.Kind(), err)
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Kind(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Kind(), d.Classify(err))
	}
	return New(db, d), nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB, d Dialect) *Store { return &Store{db: db, d: d} }

// DB exposes the underlying handle for tests and fixtures.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.d }

func (s *Store) Kind() string { return s.d.Kind() }

func (s *Store) Close() { s.db.Close() }

func (s *Store) fail(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", s.d.Kind(), op, s.d.Classify(err))
}

// Scan implements storage.Store.
func (s *Store) Scan(ctx context.Context, q storage.ScanQuery) ([]storage.Record, error) {
	stmt, args := sqlgen.Select(s.d, q)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.fail("scan "+q.Table, err)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, s.fail("scan "+q.Table, err)
	}

	var out []storage.Record
	for rows.Next() {
		cells := make([]any, len(cts))
		ptrs := make([]any, len(cts))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.fail("scan "+q.Table, err)
		}
		rec := storage.Record{Values: make(map[string]any, len(cts)-1)}
		for i, ct := range cts {
			if i == 0 {
				rec.Key = storage.Text(storage.NormalizeValue(cells[0]))
				continue
			}
			rec.Values[ct.Name()] = storage.NormalizeValue(s.d.Normalize(ct, cells[i]))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("scan "+q.Table, err)
	}
	return out, nil
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context, table string, f storage.Filter) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlgen.Count(s.d, table, f)).Scan(&n); err != nil {
		return 0, s.fail("count "+table, err)
	}
	return n, nil
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, table, keyColumn, key string, values map[string]any) (int64, error) {
	stmt, args, err := sqlgen.Update(s.d, table, keyColumn, key, values, s.d.Bind)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, s.fail("update "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("update "+table, err)
	}
	return n, nil
}

// Insert implements storage.Store.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) error {
	stmt, args, err := sqlgen.Insert(s.d, table, values, s.d.Bind)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return s.fail("insert "+table, err)
	}
	return nil
}

// Columns implements storage.Store.
func (s *Store) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	stmt, args := s.d.ColumnsQuery(table)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.fail("columns "+table, err)
	}
	defer rows.Close()

	var cols []storage.Column
	for rows.Next() {
		var c storage.Column
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, s.fail("columns "+table, err)
		}
		c.DataType = strings.ToLower(c.DataType)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("columns "+table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: columns: %w: %s", s.d.Kind(), storage.ErrTableMissing, table)
	}
	return cols, nil
}

// AddColumn implements storage.Store.
func (s *Store) AddColumn(ctx context.Context, table string, col storage.ColumnDef) error {
	stmt := sqlgen.AddColumn(s.d, s.d.AddKeyword(), table, col.Name, s.d.MapType(col.Kind))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return s.fail("add column "+col.Name, err)
	}
	return nil
}

// DropColumn implements storage.Store.
func (s *Store) DropColumn(ctx context.Context, table, column string) error {
	if _, err := s.db.ExecContext(ctx, sqlgen.DropColumn(s.d, table, column)); err != nil {
		return s.fail("drop column "+column, err)
	}
	return nil
}

// Exec implements storage.Store.
func (s *Store) Exec(ctx context.Context, stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return s.fail("exec", err)
	}
	return nil
}
