package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/sqlstore"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()

	ctx := context.Background()
	s, err := storage.New(ctx, storage.Config{
		Kind:     "sqlite",
		Endpoint: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(s.Close)

	stmts := []string{
		`CREATE TABLE users (id TEXT PRIMARY KEY, email TEXT, phone TEXT, age INTEGER, contact JSON)`,
		`INSERT INTO users (id, email, phone, age) VALUES ('a', 'a@x.io', '0123456789', 30)`,
		`INSERT INTO users (id, email, phone, age) VALUES ('b', '   ', NULL, NULL)`,
		`INSERT INTO users (id, email, phone, age) VALUES ('c', NULL, '012-3456789', 41)`,
		`INSERT INTO users (id, email, phone, age, contact) VALUES ('d', NULL, NULL, NULL, '{"email":"d@x.io"}')`,
	}
	for _, st := range stmts {
		if err := s.Exec(ctx, st); err != nil {
			t.Fatalf("Exec(%q): %v", st, err)
		}
	}
	return s
}

// TestStoreScanPagination walks the table with keyset pagination.
func TestStoreScanPagination(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	var keys []string
	after := ""
	for {
		page, err := s.Scan(ctx, storage.ScanQuery{Table: "users", KeyColumn: "id", After: after, Limit: 2})
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			keys = append(keys, r.Key)
			if _, ok := r.Values[storage.KeyAlias]; ok {
				t.Fatalf("key alias leaked into values")
			}
		}
		after = page[len(page)-1].Key
	}
	if got := len(keys); got != 4 || keys[0] != "a" || keys[3] != "d" {
		t.Fatalf("keys = %v, want [a b c d]", keys)
	}
}

// TestStoreFilters checks AnyPresent (blank-aware) and NotNull counting.
func TestStoreFilters(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		f    storage.Filter
		want int64
	}{
		{name: "all", f: storage.Filter{}, want: 4},
		{name: "any present ignores blank", f: storage.Filter{AnyPresent: []string{"email", "phone"}}, want: 2},
		{name: "not null", f: storage.Filter{NotNull: []string{"contact"}}, want: 1},
		{name: "both", f: storage.Filter{AnyPresent: []string{"email"}, NotNull: []string{"age"}}, want: 1},
	}
	for _, tt := range tests {
		got, err := s.Count(ctx, "users", tt.f)
		if err != nil {
			t.Fatalf("%s: Count: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: Count = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// TestStoreJSONRoundTrip writes a document and reads it back decoded.
func TestStoreJSONRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Update(ctx, "users", "id", "a", map[string]any{"contact": storage.JSON(`{"email":"a@x.io"}`)})
	if err != nil || n != 1 {
		t.Fatalf("Update = %d, %v", n, err)
	}
	n, err = s.Update(ctx, "users", "id", "zzz", map[string]any{"email": "x"})
	if err != nil || n != 0 {
		t.Fatalf("Update(missing) = %d, %v", n, err)
	}

	recs, err := s.Scan(ctx, storage.ScanQuery{Table: "users", KeyColumn: "id", Columns: []string{"contact"}, Limit: 1})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	doc, ok := recs[0].Values["contact"].(map[string]any)
	if !ok || doc["email"] != "a@x.io" {
		t.Fatalf("contact = %#v", recs[0].Values["contact"])
	}
}

// TestStoreDDL covers catalog lookup, add/drop and the drift sentinels.
func TestStoreDDL(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	cols, err := s.Columns(ctx, "users")
	if err != nil || len(cols) != 5 {
		t.Fatalf("Columns = %v, %v", cols, err)
	}
	if _, err := s.Columns(ctx, "nope"); !errors.Is(err, storage.ErrTableMissing) {
		t.Fatalf("Columns(nope) err = %v, want ErrTableMissing", err)
	}

	if err := s.AddColumn(ctx, "users", storage.ColumnDef{Name: "extra", Kind: "json"}); err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	if err := s.AddColumn(ctx, "users", storage.ColumnDef{Name: "extra", Kind: "json"}); !errors.Is(err, storage.ErrColumnExists) {
		t.Fatalf("AddColumn twice err = %v, want ErrColumnExists", err)
	}
	if err := s.DropColumn(ctx, "users", "extra"); err != nil {
		t.Fatalf("DropColumn: %v", err)
	}
	if err := s.DropColumn(ctx, "users", "extra"); !errors.Is(err, storage.ErrColumnMissing) {
		t.Fatalf("DropColumn twice err = %v, want ErrColumnMissing", err)
	}
	if _, err := s.Count(ctx, "missing_table", storage.Filter{}); !errors.Is(err, storage.ErrTableMissing) {
		t.Fatalf("Count(missing) err = %v, want ErrTableMissing", err)
	}
}

func TestStoreInsert(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, "users", map[string]any{"id": "e", "email": "e@x.io", "age": int64(5)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := s.Count(ctx, "users", storage.Filter{})
	if err != nil || n != 5 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

// TestOpenUsesHook verifies the registered factory goes through the open
// hook.
func TestOpenUsesHook(t *testing.T) {
	orig := open
	defer func() { open = orig }()

	called := false
	open = func(ctx context.Context, d sqlstore.Dialect, cfg storage.Config) (*sqlstore.Store, error) {
		called = true
		return orig(ctx, d, cfg)
	}
	s, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", Endpoint: filepath.Join(t.TempDir(), "h.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer s.Close()
	if !called {
		t.Fatalf("open hook was not called")
	}
}
