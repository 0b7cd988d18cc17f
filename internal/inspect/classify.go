package inspect

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"dbtidy/internal/scalar"
)

// Kind is an inferred semantic column type.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindText      Kind = "text"
	KindInteger   Kind = "integer"
	KindDecimal   Kind = "decimal"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindTimestamp Kind = "timestamp"
	KindUUID      Kind = "uuid"
	KindDocument  Kind = "document"
)

// Shape is the classification of one value or, after Merge, of a column.
type Shape struct {
	Kind Kind
	// Array marks documents that are JSON arrays.
	Array bool
	// Keys is the sorted top-level key set of object documents.
	Keys []string
}

// Classify infers the shape of a single normalized value.
//
// Strings are only promoted to uuid, date, timestamp or document; digit
// strings stay text so values such as phone numbers keep their leading
// zeros when a column is re-created from its inferred kind.
func Classify(v any) Shape {
	switch t := v.(type) {
	case nil:
		return Shape{Kind: KindUnknown}
	case map[string]any:
		return Shape{Kind: KindDocument, Keys: keysOf(t)}
	case []any:
		return Shape{Kind: KindDocument, Array: true}
	case bool:
		return Shape{Kind: KindBoolean}
	case int64, int, int32:
		return Shape{Kind: KindInteger}
	case float64, float32:
		return Shape{Kind: KindDecimal}
	case json.Number:
		if scalar.IsInt(t.String()) {
			return Shape{Kind: KindInteger}
		}
		return Shape{Kind: KindDecimal}
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return Shape{Kind: KindDate}
		}
		return Shape{Kind: KindTimestamp}
	case string:
		return classifyString(t)
	default:
		return Shape{Kind: KindText}
	}
}

func classifyString(s string) Shape {
	st := strings.TrimSpace(s)
	switch {
	case st == "":
		return Shape{Kind: KindText}
	case len(st) == 36 && isUUID(st):
		return Shape{Kind: KindUUID}
	case scalar.HasISODatePrefix(st):
		if len(st) == 10 {
			return Shape{Kind: KindDate}
		}
		return Shape{Kind: KindTimestamp}
	case st[0] == '{' || st[0] == '[':
		var doc any
		if err := json.Unmarshal([]byte(st), &doc); err == nil {
			return Classify(doc)
		}
	}
	return Shape{Kind: KindText}
}

// TextLooks reports what the sampled values of a text column would parse
// as when every non-blank one is an integer, a decimal or a boolean string.
// Classify keeps such strings as text; TextLooks tells them apart. Any
// other mix yields KindUnknown.
func TextLooks(values []any) Kind {
	looks := KindUnknown
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return KindUnknown
		}
		st := strings.TrimSpace(s)
		if st == "" {
			continue
		}
		var k Kind
		switch {
		case scalar.IsInt(st):
			k = KindInteger
		case scalar.IsDecimal(st):
			k = KindDecimal
		case scalar.IsBool(st):
			k = KindBoolean
		default:
			return KindUnknown
		}
		if looks = Merge(Shape{Kind: looks}, Shape{Kind: k}).Kind; looks == KindText {
			return KindUnknown
		}
	}
	return looks
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge widens two shapes into one that covers both. unknown yields to
// anything; integer+decimal is decimal; date+timestamp is timestamp;
// object documents union their keys; every other mix is text.
func Merge(a, b Shape) Shape {
	switch {
	case a.Kind == KindUnknown:
		return b
	case b.Kind == KindUnknown:
		return a
	case a.Kind == KindDocument && b.Kind == KindDocument:
		if a.Array != b.Array {
			return Shape{Kind: KindText}
		}
		return Shape{Kind: KindDocument, Array: a.Array, Keys: unionKeys(a.Keys, b.Keys)}
	case a.Kind == b.Kind:
		return a
	}

	pair := func(x, y Kind) bool {
		return (a.Kind == x && b.Kind == y) || (a.Kind == y && b.Kind == x)
	}
	switch {
	case pair(KindInteger, KindDecimal):
		return Shape{Kind: KindDecimal}
	case pair(KindDate, KindTimestamp):
		return Shape{Kind: KindTimestamp}
	}
	return Shape{Kind: KindText}
}

func unionKeys(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
