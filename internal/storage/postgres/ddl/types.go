// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import "strings"

// MapType normalizes a logical kind into a Postgres SQL type.
//
//	"int"/"integer"           -> BIGINT
//	"bool"/"boolean"          -> BOOLEAN
//	"decimal"/"numeric"       -> NUMERIC
//	"date"                    -> DATE
//	"timestamp"/"timestamptz" -> TIMESTAMPTZ
//	"uuid"                    -> UUID
//	"json"/"document"         -> JSONB
//	everything else           -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "BOOLEAN"
	case "decimal", "numeric", "float", "double":
		return "NUMERIC"
	case "date":
		return "DATE"
	case "timestamp", "timestamptz":
		return "TIMESTAMPTZ"
	case "uuid":
		return "UUID"
	case "json", "document":
		return "JSONB"
	default:
		return "TEXT"
	}
}
