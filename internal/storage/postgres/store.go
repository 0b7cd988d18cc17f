// Package postgres implements storage.Store for Postgres (including hosted
// Postgres such as Supabase) using a pgx v5 connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/postgres/ddl"
	"dbtidy/internal/storage/sqlgen"
)

// pgConn is the subset of *pgxpool.Pool the store uses.
type pgConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Syntax is the Postgres sqlgen.Syntax. Text comparisons use the "C"
// collation so ordering matches byte order on every server locale.
type Syntax struct{ sqlgen.ANSI }

func (Syntax) Placeholder(n int) string    { return fmt.Sprintf("$%d", n) }
func (Syntax) TextCast(expr string) string { return "CAST(" + expr + ` AS TEXT) COLLATE "C"` }

// Store is a pgxpool-backed storage.Store.
type Store struct {
	conn pgConn
	syn  Syntax
}

var _ storage.Store = (*Store)(nil)

// Open parses endpoint, injects the credential and connects.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse endpoint: %w", err)
	}
	if cfg.Credential != "" {
		user, pass := storage.SplitCredential(cfg.Credential)
		if user != "" {
			pcfg.ConnConfig.User = user
		}
		pcfg.ConnConfig.Password = pass
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", Classify(err))
	}
	return &Store{conn: pool}, nil
}

func (s *Store) Kind() string { return "postgres" }

func (s *Store) Close() { s.conn.Close() }

func fail(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w", op, Classify(err))
}

// Scan implements storage.Store.
func (s *Store) Scan(ctx context.Context, q storage.ScanQuery) ([]storage.Record, error) {
	stmt, args := sqlgen.Select(s.syn, q)
	rows, err := s.conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fail("scan "+q.Table, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	var out []storage.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fail("scan "+q.Table, err)
		}
		raw := rows.RawValues()
		rec := storage.Record{Values: make(map[string]any, len(fds)-1)}
		for i, fd := range fds {
			switch {
			case i == 0:
				rec.Key = storage.Text(vals[0])
			case fd.DataTypeOID == pgtype.JSONOID || fd.DataTypeOID == pgtype.JSONBOID:
				rec.Values[fd.Name] = jsonValue(fd, raw[i])
			default:
				rec.Values[fd.Name] = storage.NormalizeValue(normalize(vals[i]))
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("scan "+q.Table, err)
	}
	return out, nil
}

// normalize converts pgtype values that NormalizeValue does not know about.
func normalize(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		dv, err := t.Value()
		if err != nil {
			return nil
		}
		return dv
	default:
		return v
	}
}

// jsonValue decodes a json or jsonb column from its wire bytes. pgx would
// decode numbers to float64; storage.DecodeJSON keeps their literal form.
func jsonValue(fd pgconn.FieldDescription, raw []byte) any {
	if raw == nil {
		return nil
	}
	// Binary jsonb is prefixed with a format version byte.
	if fd.DataTypeOID == pgtype.JSONBOID && fd.Format == pgtype.BinaryFormatCode && len(raw) > 0 && raw[0] == 1 {
		raw = raw[1:]
	}
	return storage.DecodeJSON(raw)
}

func bind(v any) any {
	switch t := v.(type) {
	case storage.JSON:
		return json.RawMessage(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return json.RawMessage(b)
	default:
		return v
	}
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context, table string, f storage.Filter) (int64, error) {
	var n int64
	if err := s.conn.QueryRow(ctx, sqlgen.Count(s.syn, table, f)).Scan(&n); err != nil {
		return 0, fail("count "+table, err)
	}
	return n, nil
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, table, keyColumn, key string, values map[string]any) (int64, error) {
	stmt, args, err := sqlgen.Update(s.syn, table, keyColumn, key, values, bind)
	if err != nil {
		return 0, err
	}
	tag, err := s.conn.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fail("update "+table, err)
	}
	return tag.RowsAffected(), nil
}

// Insert implements storage.Store.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) error {
	stmt, args, err := sqlgen.Insert(s.syn, table, values, bind)
	if err != nil {
		return err
	}
	if _, err := s.conn.Exec(ctx, stmt, args...); err != nil {
		return fail("insert "+table, err)
	}
	return nil
}

// Columns implements storage.Store. Unqualified tables resolve against the
// public schema.
func (s *Store) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	schema, name := sqlgen.SplitFQN(table)
	if schema == "" {
		schema = "public"
	}
	rows, err := s.conn.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		schema, name)
	if err != nil {
		return nil, fail("columns "+table, err)
	}
	defer rows.Close()

	var cols []storage.Column
	for rows.Next() {
		var c storage.Column
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, fail("columns "+table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("columns "+table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("postgres: columns: %w: %s", storage.ErrTableMissing, table)
	}
	return cols, nil
}

// AddColumn implements storage.Store.
func (s *Store) AddColumn(ctx context.Context, table string, col storage.ColumnDef) error {
	stmt := sqlgen.AddColumn(s.syn, "ADD COLUMN", table, col.Name, ddl.MapType(col.Kind))
	if _, err := s.conn.Exec(ctx, stmt); err != nil {
		return fail("add column "+col.Name, err)
	}
	return nil
}

// DropColumn implements storage.Store.
func (s *Store) DropColumn(ctx context.Context, table, column string) error {
	if _, err := s.conn.Exec(ctx, sqlgen.DropColumn(s.syn, table, column)); err != nil {
		return fail("drop column "+column, err)
	}
	return nil
}

// Exec implements storage.Store.
func (s *Store) Exec(ctx context.Context, stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	if _, err := s.conn.Exec(ctx, stmt); err != nil {
		return fail("exec", err)
	}
	return nil
}

// Classify maps pgconn errors onto storage sentinels and the transient
// marker.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch code := pgErr.Code; {
		case code == "42P01":
			return fmt.Errorf("%w: %w", storage.ErrTableMissing, err)
		case code == "42703":
			return fmt.Errorf("%w: %w", storage.ErrColumnMissing, err)
		case code == "42701":
			return fmt.Errorf("%w: %w", storage.ErrColumnExists, err)
		case code == "42501":
			return fmt.Errorf("%w: %w", storage.ErrPermission, err)
		case strings.HasPrefix(code, "08"),
			code == "57P01", code == "57P02", code == "57P03",
			code == "53300", code == "40001", code == "40P01":
			return storage.Transient(err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return storage.Transient(err)
	}
	return err
}
