// Package ddl contains SQLite-specific helpers for generating DDL.
//
// It maps the logical kinds produced by the schema inspector into SQLite
// column types. SQLite is dynamically typed, so the mapping prefers the
// canonical affinities.
package ddl

import "strings"

// MapType maps a logical type string (e.g., "integer", "boolean", "json")
// into a SQLite column type.
//
//   - integer-ish types -> INTEGER
//   - boolean          -> INTEGER (0/1)
//   - date/time        -> TEXT (ISO-8601)
//   - json/document    -> JSON (declared type only; values are TEXT)
//   - others           -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "INTEGER"
	case "bool", "boolean":
		return "INTEGER"
	case "float", "double", "real":
		return "REAL"
	case "numeric", "decimal":
		return "NUMERIC"
	case "json", "document":
		return "JSON"
	case "blob", "bytes":
		return "BLOB"
	default:
		return "TEXT"
	}
}
