package consolidate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dbtidy/internal/storage"
)

// UnparsedKey is the reserved document key holding values a transform
// could not normalize, keyed by destination path.
const UnparsedKey = "_unparsed"

// Document is the rebuilt value of one group's target column.
type Document struct {
	// Fields maps dotted destination keys to normalized values.
	Fields map[string]any
	// Unparsed maps dotted destination keys to the raw trimmed text.
	Unparsed map[string]string
	// Extra holds top-level keys found in the stored document that no
	// mapping of the group produces.
	Extra map[string]any
}

// Empty reports whether the document carries nothing.
func (d Document) Empty() bool {
	return len(d.Fields) == 0 && len(d.Unparsed) == 0 && len(d.Extra) == 0
}

// Map renders the document as nested maps: "phone.mobile" becomes
// {"phone": {"mobile": ...}}.
func (d Document) Map() map[string]any {
	out := make(map[string]any, len(d.Fields)+len(d.Extra)+1)
	for k, v := range d.Extra {
		out[k] = v
	}
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setPath(out, k, d.Fields[k])
	}
	if len(d.Unparsed) > 0 {
		u := make(map[string]any, len(d.Unparsed))
		for k, v := range d.Unparsed {
			u[k] = v
		}
		out[UnparsedKey] = u
	}
	return out
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// Lookup returns the value at a dotted path inside a decoded document.
func Lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Encode returns the canonical JSON encoding of the document.
func (d Document) Encode() ([]byte, error) {
	return Canonical(d.Map())
}

// Canonical encodes v as compact JSON with sorted object keys and without
// HTML escaping. Equal documents always encode to identical bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Stored decodes a target column value as read from the store. Text
// columns hold JSON as a string.
func Stored(v any) any {
	if s, ok := v.(string); ok {
		return storage.DecodeJSON([]byte(s))
	}
	return v
}
