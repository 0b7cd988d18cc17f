// Package sqlite wires the SQLite backend (modernc.org/sqlite, pure Go)
// into the storage factory as a sqlstore.Dialect.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/sqlgen"
	"dbtidy/internal/storage/sqlite/ddl"
)

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{ sqlgen.ANSI }

func (Dialect) Kind() string       { return "sqlite" }
func (Dialect) DriverName() string { return "sqlite" }
func (Dialect) AddKeyword() string { return "ADD COLUMN" }

func (Dialect) MapType(kind string) string { return ddl.MapType(kind) }

// DSN returns the endpoint unchanged; SQLite files have no credentials.
func (Dialect) DSN(endpoint, _ string) (string, error) {
	return strings.TrimSpace(endpoint), nil
}

func (Dialect) ColumnsQuery(table string) (string, []any) {
	schema, name := sqlgen.SplitFQN(table)
	if schema == "" {
		return "SELECT name, type FROM pragma_table_info(?)", []any{name}
	}
	return "SELECT name, type FROM pragma_table_info(?, ?)", []any{name, schema}
}

// Classify maps SQLite result codes and messages onto storage errors.
func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return storage.Transient(err)
		case sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_READONLY:
			return fmt.Errorf("%w: %w", storage.ErrPermission, err)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %w", storage.ErrTableMissing, err)
	case strings.Contains(msg, "no such column"):
		return fmt.Errorf("%w: %w", storage.ErrColumnMissing, err)
	case strings.Contains(msg, "duplicate column name"):
		return fmt.Errorf("%w: %w", storage.ErrColumnExists, err)
	case strings.Contains(msg, "database is locked"):
		return storage.Transient(err)
	}
	return err
}

// Bind renders documents as JSON text.
func (Dialect) Bind(v any) any {
	switch t := v.(type) {
	case storage.JSON:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return v
	}
}

// Normalize decodes JSON-declared columns.
func (Dialect) Normalize(ct *sql.ColumnType, v any) any {
	if strings.EqualFold(ct.DatabaseTypeName(), "JSON") {
		switch t := v.(type) {
		case string:
			return storage.JSON(t)
		case []byte:
			return storage.JSON(t)
		}
	}
	return v
}
