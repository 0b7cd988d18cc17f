// Package storage contains the storage-agnostic contract used by every
// migration component. Components only ever talk to a Store; concrete
// backends (Postgres, SQLite, MySQL, MSSQL) register themselves with the
// factory in registry.go and are selected by Config.Kind at runtime.
//
// The contract is deliberately row-oriented: keyset-paginated selects,
// filtered counts, update-by-key, insert, and a small DDL surface
// (AddColumn/DropColumn/Exec). There is no query builder beyond Filter.
package storage

import (
	"context"
	"encoding/json"
)

// Record is a single row read from a table. Key holds the primary key in
// its text form; Values maps column name to a normalized Go value (see
// NormalizeValue).
type Record struct {
	Key    string
	Values map[string]any
}

// JSON marks a value that must be written to a JSON/JSONB column. Backends
// bind it with whatever their driver expects for raw JSON text.
type JSON json.RawMessage

// Filter restricts Scan and Count. The zero Filter matches every row.
//
// AnyPresent matches rows where at least one listed column is non-null and
// not blank once cast to text and trimmed. NotNull matches rows where every
// listed column is non-null. Both conditions are ANDed when set.
type Filter struct {
	AnyPresent []string
	NotNull    []string
}

// IsZero reports whether f matches every row.
func (f Filter) IsZero() bool {
	return len(f.AnyPresent) == 0 && len(f.NotNull) == 0
}

// ScanQuery describes one page of a keyset-paginated select.
type ScanQuery struct {
	Table     string
	KeyColumn string
	// Columns to return; empty means every column.
	Columns []string
	// After is an exclusive cursor on the key's text form; "" starts at the
	// beginning.
	After string
	Limit int
	Where Filter
}

// Column is a catalog entry for an existing column.
type Column struct {
	Name     string
	DataType string
}

// ColumnDef describes a column to add. Kind is a logical type ("json",
// "text", "integer", "decimal", "boolean", "date", "timestamp", "uuid")
// which each backend maps to its own SQL type.
type ColumnDef struct {
	Name string
	Kind string
}

// Store is the database boundary. Every method is a single round trip and
// may be retried by the caller; implementations must not retry internally.
type Store interface {
	// Kind returns the registered backend name (e.g. "postgres").
	Kind() string

	// Scan returns up to q.Limit records ordered by the key's text form.
	Scan(ctx context.Context, q ScanQuery) ([]Record, error)

	// Count returns the number of rows matching f.
	Count(ctx context.Context, table string, f Filter) (int64, error)

	// Update sets values on the row whose key text equals key and returns
	// the number of affected rows.
	Update(ctx context.Context, table, keyColumn, key string, values map[string]any) (int64, error)

	// Insert adds a single row.
	Insert(ctx context.Context, table string, values map[string]any) error

	// Columns lists the table's columns from the catalog. It returns
	// ErrTableMissing when the table does not exist.
	Columns(ctx context.Context, table string) ([]Column, error)

	// AddColumn adds a nullable column. ErrColumnExists is returned when it
	// is already present.
	AddColumn(ctx context.Context, table string, col ColumnDef) error

	// DropColumn removes a column. ErrColumnMissing is returned when it is
	// already absent.
	DropColumn(ctx context.Context, table, column string) error

	// Exec runs an arbitrary statement (DDL, helper functions).
	Exec(ctx context.Context, stmt string) error

	// Close releases the underlying connection pool.
	Close()
}
