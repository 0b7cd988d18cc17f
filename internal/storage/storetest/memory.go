// Package storetest provides an in-memory storage.Store with fault
// injection for component tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dbtidy/internal/storage"
)

// Op names a Store method for hooks and call counting.
type Op string

const (
	OpScan    Op = "scan"
	OpCount   Op = "count"
	OpUpdate  Op = "update"
	OpInsert  Op = "insert"
	OpColumns Op = "columns"
	OpAdd     Op = "add_column"
	OpDrop    Op = "drop_column"
	OpExec    Op = "exec"
)

// Hook runs before every operation. n is the 1-based call number of op.
// A non-nil return is reported instead of performing the operation.
type Hook func(op Op, table, column string, n int) error

type table struct {
	key     string
	columns []string
	types   map[string]string
	rows    map[string]map[string]any
}

// Memory is a goroutine-safe in-memory Store.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*table
	hook   Hook
	calls  map[Op]int
	execs  []string
}

var _ storage.Store = (*Memory)(nil)

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{tables: map[string]*table{}, calls: map[Op]int{}}
}

// CreateTable adds a table whose first column is the key column.
func (m *Memory) CreateTable(name, keyColumn string, columns ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols := append([]string{keyColumn}, columns...)
	types := make(map[string]string, len(cols))
	for _, c := range cols {
		types[c] = "text"
	}
	m.tables[name] = &table{key: keyColumn, columns: cols, types: types, rows: map[string]map[string]any{}}
}

// Put stores row as-is; the key is read from the key column.
func (m *Memory) Put(tableName string, row map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[tableName]
	cp := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		cp[c] = nil
	}
	for k, v := range row {
		cp[k] = storage.NormalizeValue(v)
	}
	t.rows[storage.Text(cp[t.key])] = cp
}

// Row returns a copy of the row with key, or nil.
func (m *Memory) Row(tableName, key string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	r, ok := t.rows[key]
	if !ok {
		return nil
	}
	return copyRow(r)
}

// Delete removes a row.
func (m *Memory) Delete(tableName, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[tableName].rows, key)
}

// HasColumn reports whether the table currently has column.
func (m *Memory) HasColumn(tableName, column string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableName]
	return ok && t.has(column)
}

// SetHook installs (or clears, with nil) the fault hook.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Execs returns every statement passed to Exec.
func (m *Memory) Execs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.execs...)
}

func (t *table) has(col string) bool {
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

func copyRow(r map[string]any) map[string]any {
	cp := make(map[string]any, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// enter counts the call, runs the hook and resolves the table. Callers hold
// m.mu.
func (m *Memory) enter(op Op, tableName, column string) (*table, error) {
	m.calls[op]++
	if m.hook != nil {
		if err := m.hook(op, tableName, column, m.calls[op]); err != nil {
			return nil, err
		}
	}
	t, ok := m.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("memory: %w: %s", storage.ErrTableMissing, tableName)
	}
	return t, nil
}

func (t *table) match(row map[string]any, f storage.Filter) (bool, error) {
	for _, c := range append(append([]string(nil), f.AnyPresent...), f.NotNull...) {
		if !t.has(c) {
			return false, fmt.Errorf("memory: %w: %s", storage.ErrColumnMissing, c)
		}
	}
	if len(f.AnyPresent) > 0 {
		found := false
		for _, c := range f.AnyPresent {
			if storage.Present(row[c]) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	for _, c := range f.NotNull {
		if row[c] == nil {
			return false, nil
		}
	}
	return true, nil
}

func (m *Memory) Kind() string { return "memory" }

func (m *Memory) Close() {}

// Scan implements storage.Store.
func (m *Memory) Scan(_ context.Context, q storage.ScanQuery) ([]storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpScan, q.Table, "")
	if err != nil {
		return nil, err
	}
	for _, c := range q.Columns {
		if !t.has(c) {
			return nil, fmt.Errorf("memory: %w: %s", storage.ErrColumnMissing, c)
		}
	}

	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		if k > q.After {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	var out []storage.Record
	for _, k := range keys {
		row := t.rows[k]
		ok, err := t.match(row, q.Where)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec := storage.Record{Key: k, Values: map[string]any{}}
		cols := q.Columns
		if len(cols) == 0 {
			cols = t.columns
		}
		for _, c := range cols {
			rec.Values[c] = row[c]
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Count implements storage.Store.
func (m *Memory) Count(_ context.Context, tableName string, f storage.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpCount, tableName, "")
	if err != nil {
		return 0, err
	}
	var n int64
	for _, row := range t.rows {
		ok, err := t.match(row, f)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Update implements storage.Store.
func (m *Memory) Update(_ context.Context, tableName, keyColumn, key string, values map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpUpdate, tableName, "")
	if err != nil {
		return 0, err
	}
	for c := range values {
		if !t.has(c) {
			return 0, fmt.Errorf("memory: %w: %s", storage.ErrColumnMissing, c)
		}
	}
	row, ok := t.rows[key]
	if !ok {
		return 0, nil
	}
	for c, v := range values {
		row[c] = storage.NormalizeValue(v)
	}
	return 1, nil
}

// Insert implements storage.Store.
func (m *Memory) Insert(_ context.Context, tableName string, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpInsert, tableName, "")
	if err != nil {
		return err
	}
	row := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		row[c] = nil
	}
	for c, v := range values {
		if !t.has(c) {
			return fmt.Errorf("memory: %w: %s", storage.ErrColumnMissing, c)
		}
		row[c] = storage.NormalizeValue(v)
	}
	key := storage.Text(row[t.key])
	if _, dup := t.rows[key]; dup {
		return fmt.Errorf("memory: duplicate key %q", key)
	}
	t.rows[key] = row
	return nil
}

// Columns implements storage.Store.
func (m *Memory) Columns(_ context.Context, tableName string) ([]storage.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpColumns, tableName, "")
	if err != nil {
		return nil, err
	}
	out := make([]storage.Column, len(t.columns))
	for i, c := range t.columns {
		out[i] = storage.Column{Name: c, DataType: t.types[c]}
	}
	return out, nil
}

// AddColumn implements storage.Store.
func (m *Memory) AddColumn(_ context.Context, tableName string, col storage.ColumnDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpAdd, tableName, col.Name)
	if err != nil {
		return err
	}
	if t.has(col.Name) {
		return fmt.Errorf("memory: %w: %s", storage.ErrColumnExists, col.Name)
	}
	t.columns = append(t.columns, col.Name)
	t.types[col.Name] = col.Kind
	for _, row := range t.rows {
		row[col.Name] = nil
	}
	return nil
}

// DropColumn implements storage.Store.
func (m *Memory) DropColumn(_ context.Context, tableName, column string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter(OpDrop, tableName, column)
	if err != nil {
		return err
	}
	idx := -1
	for i, c := range t.columns {
		if c == column {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("memory: %w: %s", storage.ErrColumnMissing, column)
	}
	t.columns = append(t.columns[:idx], t.columns[idx+1:]...)
	delete(t.types, column)
	for _, row := range t.rows {
		delete(row, column)
	}
	return nil
}

// Exec implements storage.Store. Statements are recorded, not executed.
func (m *Memory) Exec(_ context.Context, stmt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[OpExec]++
	if m.hook != nil {
		if err := m.hook(OpExec, "", "", m.calls[OpExec]); err != nil {
			return err
		}
	}
	m.execs = append(m.execs, stmt)
	return nil
}
