package ddl

import "testing"

func TestMapType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want string
	}{
		{"int", "BIGINT"},
		{"integer", "BIGINT"},
		{" Boolean ", "BOOLEAN"},
		{"decimal", "NUMERIC"},
		{"date", "DATE"},
		{"timestamp", "TIMESTAMPTZ"},
		{"uuid", "UUID"},
		{"json", "JSONB"},
		{"document", "JSONB"},
		{"text", "TEXT"},
		{"", "TEXT"},
	}
	for _, tt := range tests {
		if got := MapType(tt.kind); got != tt.want {
			t.Fatalf("MapType(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
