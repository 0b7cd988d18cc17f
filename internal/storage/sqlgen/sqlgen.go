// Package sqlgen renders the handful of statements the storage.Store
// contract needs (keyset select, filtered count, update by key, insert)
// for any SQL dialect described by a Syntax.
//
// Identifiers are always quoted through Syntax.Quote; values are always
// bound as placeholders. Keys are compared in their text form so UUID,
// integer and string keys share one pagination path.
package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"dbtidy/internal/storage"
)

// Syntax captures the dialect differences the builders care about.
type Syntax interface {
	// Quote quotes a single identifier segment.
	Quote(ident string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// TextCast casts expr to the dialect's text type.
	TextCast(expr string) string
	// Trim trims whitespace on both ends of expr.
	Trim(expr string) string
	// Limit appends a row limit to an ordered select.
	Limit(query string, n int) string
}

// QuoteFQN quotes a possibly schema-qualified name: "public.users" becomes
// "public"."users" under ANSI quoting.
func QuoteFQN(s Syntax, name string) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, s.Quote(p))
	}
	return strings.Join(out, ".")
}

// SplitFQN splits "schema.table" into its parts. The schema is empty when
// the name is unqualified.
func SplitFQN(name string) (schema, table string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

type args struct {
	s    Syntax
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.s.Placeholder(len(a.vals))
}

func where(s Syntax, f storage.Filter) string {
	var conds []string
	if len(f.AnyPresent) > 0 {
		alts := make([]string, 0, len(f.AnyPresent))
		for _, c := range f.AnyPresent {
			q := s.Quote(c)
			alts = append(alts, fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", q, s.Trim(s.TextCast(q))))
		}
		conds = append(conds, "("+strings.Join(alts, " OR ")+")")
	}
	for _, c := range f.NotNull {
		conds = append(conds, s.Quote(c)+" IS NOT NULL")
	}
	return strings.Join(conds, " AND ")
}

// Select renders one keyset page. The key is selected a second time under
// storage.KeyAlias in its text form.
func Select(s Syntax, q storage.ScanQuery) (string, []any) {
	a := &args{s: s}
	keyText := s.TextCast(s.Quote(q.KeyColumn))

	table := QuoteFQN(s, q.Table)
	cols := table + ".*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = s.Quote(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var conds []string
	if q.After != "" {
		conds = append(conds, keyText+" > "+a.add(q.After))
	}
	if w := where(s, q.Where); w != "" {
		conds = append(conds, w)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS %s, %s FROM %s", keyText, s.Quote(storage.KeyAlias), cols, table)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(keyText)

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	return s.Limit(sb.String(), limit), a.vals
}

// Count renders a filtered row count.
func Count(s Syntax, table string, f storage.Filter) string {
	stmt := "SELECT COUNT(*) FROM " + QuoteFQN(s, table)
	if w := where(s, f); w != "" {
		stmt += " WHERE " + w
	}
	return stmt
}

// SortedKeys returns the map's keys in lexical order so generated statements
// are stable.
func SortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Update renders an update of values on the row whose key text equals key.
// bind converts each value into what the driver expects.
func Update(s Syntax, table, keyColumn, key string, values map[string]any, bind func(any) any) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("update %s: no values", table)
	}
	a := &args{s: s}
	sets := make([]string, 0, len(values))
	for _, k := range SortedKeys(values) {
		sets = append(sets, s.Quote(k)+" = "+a.add(bind(values[k])))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		QuoteFQN(s, table), strings.Join(sets, ", "),
		s.TextCast(s.Quote(keyColumn)), a.add(key))
	return stmt, a.vals, nil
}

// Insert renders a single-row insert.
func Insert(s Syntax, table string, values map[string]any, bind func(any) any) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("insert %s: no values", table)
	}
	a := &args{s: s}
	keys := SortedKeys(values)
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = s.Quote(k)
		marks[i] = a.add(bind(values[k]))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteFQN(s, table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return stmt, a.vals, nil
}

// AddColumn renders ALTER TABLE ... ADD [COLUMN] for a nullable column.
// keyword is "ADD COLUMN" for ANSI dialects and "ADD" for T-SQL.
func AddColumn(s Syntax, keyword, table, column, sqlType string) string {
	return fmt.Sprintf("ALTER TABLE %s %s %s %s", QuoteFQN(s, table), keyword, s.Quote(column), sqlType)
}

// DropColumn renders ALTER TABLE ... DROP COLUMN.
func DropColumn(s Syntax, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QuoteFQN(s, table), s.Quote(column))
}

// ANSI is double-quoted identifiers with "?" placeholders (SQLite). Other
// dialects embed it and override what differs.
type ANSI struct{}

func (ANSI) Quote(id string) string      { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
func (ANSI) Placeholder(int) string      { return "?" }
func (ANSI) TextCast(expr string) string { return "CAST(" + expr + " AS TEXT)" }
func (ANSI) Trim(expr string) string     { return "TRIM(" + expr + ")" }
func (ANSI) Limit(q string, n int) string {
	return fmt.Sprintf("%s LIMIT %d", q, n)
}
