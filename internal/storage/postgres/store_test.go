package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"dbtidy/internal/storage"
)

// TestClassify maps SQLSTATEs onto the storage taxonomy.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      string
		sentinel  error
		transient bool
	}{
		{code: "42P01", sentinel: storage.ErrTableMissing},
		{code: "42703", sentinel: storage.ErrColumnMissing},
		{code: "42701", sentinel: storage.ErrColumnExists},
		{code: "42501", sentinel: storage.ErrPermission},
		{code: "08006", transient: true},
		{code: "57P01", transient: true},
		{code: "40P01", transient: true},
		{code: "23505"},
	}
	for _, tt := range tests {
		err := Classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code, Message: "x"}))
		if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
			t.Fatalf("%s: err = %v, want %v", tt.code, err, tt.sentinel)
		}
		if got := storage.IsTransient(err); got != tt.transient {
			t.Fatalf("%s: IsTransient = %v, want %v", tt.code, got, tt.transient)
		}
	}
	if Classify(nil) != nil {
		t.Fatalf("Classify(nil) must be nil")
	}
}

func TestSyntax(t *testing.T) {
	t.Parallel()

	var s Syntax
	if got := s.Placeholder(3); got != "$3" {
		t.Fatalf("Placeholder = %q", got)
	}
	if got := s.TextCast(`"id"`); got != `CAST("id" AS TEXT) COLLATE "C"` {
		t.Fatalf("TextCast = %q", got)
	}
}

func TestNormalizeNumeric(t *testing.T) {
	t.Parallel()

	var n pgtype.Numeric
	if err := n.Scan("12.5"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := normalize(n); got != "12.5" {
		t.Fatalf("normalize(numeric) = %#v, want 12.5", got)
	}
	if got := normalize(pgtype.Numeric{}); got != nil {
		t.Fatalf("normalize(null numeric) = %#v", got)
	}
}

// TestJSONValueKeepsNumbers decodes json and jsonb wire values without
// going through float64.
func TestJSONValueKeepsNumbers(t *testing.T) {
	t.Parallel()

	doc := `{"amount":1.50,"id":9007199254740993}`
	tests := []struct {
		name string
		fd   pgconn.FieldDescription
		raw  []byte
	}{
		{name: "json text", fd: pgconn.FieldDescription{DataTypeOID: pgtype.JSONOID}, raw: []byte(doc)},
		{name: "jsonb text", fd: pgconn.FieldDescription{DataTypeOID: pgtype.JSONBOID}, raw: []byte(doc)},
		{name: "jsonb binary", fd: pgconn.FieldDescription{DataTypeOID: pgtype.JSONBOID, Format: pgtype.BinaryFormatCode}, raw: append([]byte{1}, doc...)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, ok := jsonValue(tt.fd, tt.raw).(map[string]any)
			if !ok {
				t.Fatalf("jsonValue = %#v", jsonValue(tt.fd, tt.raw))
			}
			if m["amount"] != json.Number("1.50") || m["id"] != json.Number("9007199254740993") {
				t.Fatalf("numbers = %#v %#v", m["amount"], m["id"])
			}
		})
	}
	if got := jsonValue(pgconn.FieldDescription{DataTypeOID: pgtype.JSONBOID}, nil); got != nil {
		t.Fatalf("null = %#v", got)
	}
}

// TestStoreIntegration runs the contract against a live database when
// TEST_PG_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	s, err := storage.New(ctx, storage.Config{Kind: "postgres", Endpoint: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer s.Close()

	setup := []string{
		`DROP TABLE IF EXISTS dbtidy_it_users`,
		`CREATE TABLE dbtidy_it_users (id UUID PRIMARY KEY, email TEXT, phone TEXT)`,
		`INSERT INTO dbtidy_it_users VALUES ('11111111-1111-1111-1111-111111111111', 'a@x.io', NULL)`,
		`INSERT INTO dbtidy_it_users VALUES ('22222222-2222-2222-2222-222222222222', '  ', '0123456789')`,
	}
	for _, st := range setup {
		if err := s.Exec(ctx, st); err != nil {
			t.Fatalf("Exec(%q): %v", st, err)
		}
	}
	defer s.Exec(ctx, `DROP TABLE IF EXISTS dbtidy_it_users`)

	if err := s.AddColumn(ctx, "dbtidy_it_users", storage.ColumnDef{Name: "contact", Kind: "json"}); err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	if err := s.AddColumn(ctx, "dbtidy_it_users", storage.ColumnDef{Name: "contact", Kind: "json"}); !errors.Is(err, storage.ErrColumnExists) {
		t.Fatalf("AddColumn twice err = %v", err)
	}

	n, err := s.Count(ctx, "dbtidy_it_users", storage.Filter{AnyPresent: []string{"email"}})
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	key := "11111111-1111-1111-1111-111111111111"
	if _, err := s.Update(ctx, "dbtidy_it_users", "id", key, map[string]any{"contact": storage.JSON(`{"email":"a@x.io"}`)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	recs, err := s.Scan(ctx, storage.ScanQuery{Table: "dbtidy_it_users", KeyColumn: "id", Limit: 10})
	if err != nil || len(recs) != 2 {
		t.Fatalf("Scan = %v, %v", recs, err)
	}
	if recs[0].Key != key {
		t.Fatalf("first key = %q", recs[0].Key)
	}
	if doc, ok := recs[0].Values["contact"].(map[string]any); !ok || doc["email"] != "a@x.io" {
		t.Fatalf("contact = %#v", recs[0].Values["contact"])
	}

	if _, err := s.Update(ctx, "dbtidy_it_users", "id", key, map[string]any{"contact": storage.JSON(`{"amount":1.50}`)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	recs, err = s.Scan(ctx, storage.ScanQuery{Table: "dbtidy_it_users", KeyColumn: "id", Columns: []string{"contact"}, Limit: 1})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if doc, _ := recs[0].Values["contact"].(map[string]any); doc["amount"] != json.Number("1.50") {
		t.Fatalf("amount = %#v", recs[0].Values["contact"])
	}

	if err := s.DropColumn(ctx, "dbtidy_it_users", "phone"); err != nil {
		t.Fatalf("DropColumn: %v", err)
	}
	if err := s.DropColumn(ctx, "dbtidy_it_users", "phone"); !errors.Is(err, storage.ErrColumnMissing) {
		t.Fatalf("DropColumn twice err = %v", err)
	}
}
