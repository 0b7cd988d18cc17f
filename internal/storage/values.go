package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyAlias is the select-list alias every backend uses to read the key in
// its text form. It never appears in Record.Values.
const KeyAlias = "__dbtidy_key"

// NormalizeValue converts driver-specific values into the small set of Go
// types the rest of the program understands: nil, string, bool, int64,
// float64, json.Number, time.Time (UTC), map[string]any and []any.
//
//	[]byte            -> string
//	[16]byte          -> canonical UUID string
//	time.Time         -> UTC
//	int/int32/uint... -> int64
//	JSON              -> decoded map/slice
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case uuid.UUID:
		return t.String()
	case time.Time:
		return t.UTC()
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case JSON:
		return DecodeJSON([]byte(t))
	case json.RawMessage:
		return DecodeJSON([]byte(t))
	default:
		return v
	}
}

// DecodeJSON decodes raw JSON text keeping numbers as json.Number. Text that
// is not valid JSON is returned unchanged as a string.
func DecodeJSON(raw []byte) any {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return string(raw)
	}
	return out
}

// Text renders a scalar value the way the database would cast it to text.
// Documents are rendered as compact JSON.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Present reports whether v counts as populated legacy data: non-null and,
// once rendered as text, not empty after trimming spaces. Only ' ' is
// trimmed, the same as SQL TRIM in every supported dialect, so a value
// holding a tab or newline is present on both sides of the AnyPresent
// filter.
func Present(v any) bool {
	if v == nil {
		return false
	}
	return strings.Trim(Text(v), " ") != ""
}
