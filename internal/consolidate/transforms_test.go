package consolidate

import (
	"encoding/json"
	"fmt"
	"testing"
)

// TestPhone covers national, international and rejected inputs.
func TestPhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "0123456789", want: "60123456789", wantOK: true},
		{in: "012-3456789", want: "60123456789", wantOK: true},
		{in: "(012) 345 6789", want: "60123456789", wantOK: true},
		{in: "60123456789", want: "60123456789", wantOK: true},
		{in: "+44 20 7946 0958", want: "442079460958", wantOK: true},
		{in: "123456789", want: "60123456789", wantOK: true},
		{in: "12345", wantOK: false},
		{in: "abc", wantOK: false},
		{in: "012-345x789", wantOK: false},
		{in: "", wantOK: false},
		{in: "0123456789012345678", wantOK: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := Phone("60", tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Phone(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Phone(%q) = %v, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuiltinTransforms(t *testing.T) {
	t.Parallel()

	reg := NewRegistry("")
	tests := []struct {
		name   string
		in     any
		want   any
		wantOK bool
	}{
		{name: "email", in: " A@B.com ", want: "a@b.com", wantOK: true},
		{name: "email", in: "a@@b.com", wantOK: false},
		{name: "email", in: "a@localhost", wantOK: false},
		{name: "date", in: "2024-03-01T10:00:00Z", want: "2024-03-01", wantOK: true},
		{name: "date", in: "01/03/2024", want: "2024-03-01", wantOK: true},
		{name: "date", in: "yesterday", wantOK: false},
		{name: "timestamp", in: "2024-03-01", want: "2024-03-01T00:00:00Z", wantOK: true},
		{name: "int", in: int64(42), want: int64(42), wantOK: true},
		{name: "int", in: "4.2", wantOK: false},
		{name: "decimal", in: "4.20", want: json.Number("4.20"), wantOK: true},
		{name: "decimal", in: int64(3), want: json.Number("3"), wantOK: true},
		{name: "decimal", in: "NaN", wantOK: false},
		{name: "decimal", in: "Inf", wantOK: false},
		{name: "bool", in: "yes", want: true, wantOK: true},
		{name: "bool", in: "maybe", wantOK: false},
		{name: "uuid", in: "123E4567-E89B-12D3-A456-426614174000", want: "123e4567-e89b-12d3-a456-426614174000", wantOK: true},
		{name: "json", in: `{"a":1}`, want: map[string]any{"a": json.Number("1")}, wantOK: true},
		{name: "json", in: `{"a":`, wantOK: false},
		{name: "lower", in: "MiXeD", want: "mixed", wantOK: true},
		{name: "", in: "  kept  ", want: "kept", wantOK: true},
		{name: "", in: int64(7), want: int64(7), wantOK: true},
		{name: "nope", in: "x", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := reg.Apply(tt.name, tt.in)
		if ok != tt.wantOK {
			t.Fatalf("Apply(%q, %#v) ok = %v, want %v", tt.name, tt.in, ok, tt.wantOK)
		}
		if ok && fmt.Sprintf("%#v", got) != fmt.Sprintf("%#v", tt.want) {
			t.Fatalf("Apply(%q, %#v) = %#v, want %#v", tt.name, tt.in, got, tt.want)
		}
	}
}

// TestApplyRecoversPanics treats a panicking transform as unparsed.
func TestApplyRecoversPanics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry("")
	reg.Register("Boom", func(string) (any, bool) { panic("bad input") })
	if !reg.Has("boom") {
		t.Fatalf("Has should be case-insensitive")
	}
	if v, ok := reg.Apply("boom", "x"); ok || v != nil {
		t.Fatalf("Apply = %v, %v; want nil, false", v, ok)
	}
}

func TestPhoneCountryCode(t *testing.T) {
	t.Parallel()

	reg := NewRegistry("65")
	got, ok := reg.Apply("phone", "091234567")
	if !ok || got != "6591234567" {
		t.Fatalf("Apply(phone) = %v, %v", got, ok)
	}
}
