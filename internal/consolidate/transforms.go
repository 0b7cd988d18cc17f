package consolidate

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dbtidy/internal/scalar"
	"dbtidy/internal/storage"
)

// DefaultCountryCode is prefixed to national phone numbers.
const DefaultCountryCode = "60"

// Func normalizes the trimmed text form of one legacy value. ok=false means
// the input cannot be normalized; the caller records it as unparsed.
type Func func(raw string) (v any, ok bool)

// Registry holds named transforms. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry with the builtin transforms. countryCode
// configures "phone"; empty means DefaultCountryCode.
func NewRegistry(countryCode string) *Registry {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	r := &Registry{funcs: map[string]Func{}}
	r.Register("text", func(s string) (any, bool) { return s, true })
	r.Register("trim", func(s string) (any, bool) { return s, true })
	r.Register("lower", func(s string) (any, bool) { return strings.ToLower(s), true })
	r.Register("email", Email)
	r.Register("phone", func(s string) (any, bool) { return Phone(countryCode, s) })
	r.Register("date", Date)
	r.Register("timestamp", Timestamp)
	r.Register("int", Int)
	r.Register("decimal", Decimal)
	r.Register("bool", Bool)
	r.Register("json", JSON)
	r.Register("uuid", UUID)
	return r
}

// Register adds or replaces a transform. Names are case-insensitive.
func (r *Registry) Register(name string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[strings.ToLower(name)] = f
}

// Has reports whether name is registered. The empty name (identity) always
// is.
func (r *Registry) Has(name string) bool {
	if name == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[strings.ToLower(name)]
	return ok
}

// Names lists registered transforms, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Apply runs the named transform on v. The empty name keeps non-string
// values as they are and trims strings. A panicking or unknown transform
// reports ok=false.
func (r *Registry) Apply(name string, v any) (out any, ok bool) {
	if s, isString := v.(string); isString {
		v = strings.TrimSpace(s)
	}
	if name == "" {
		return v, true
	}
	r.mu.RLock()
	f, found := r.funcs[strings.ToLower(name)]
	r.mu.RUnlock()
	if !found {
		return nil, false
	}

	defer func() {
		if p := recover(); p != nil {
			out, ok = nil, false
		}
	}()
	return f(strings.TrimSpace(storage.Text(v)))
}

// Phone normalizes a phone number to digits with a leading country code:
// a national number with a trunk "0" has it replaced by cc, a number already
// starting with cc (or written with "+") is kept. Separators " -()." are
// ignored; any other character, or a result outside 10-15 digits, is
// rejected.
func Phone(cc, s string) (any, bool) {
	var b strings.Builder
	international := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			international = true
		case strings.ContainsRune(" -().", r):
		default:
			return nil, false
		}
	}
	digits := b.String()
	if digits == "" {
		return nil, false
	}

	switch {
	case international, strings.HasPrefix(digits, cc):
	case strings.HasPrefix(digits, "0"):
		digits = cc + digits[1:]
	default:
		digits = cc + digits
	}
	if len(digits) < 10 || len(digits) > 15 {
		return nil, false
	}
	return digits, true
}

// Email lower-cases an address with exactly one "@" and a dotted domain.
func Email(s string) (any, bool) {
	s = strings.ToLower(s)
	if strings.ContainsAny(s, " \t\r\n") || strings.Count(s, "@") != 1 {
		return nil, false
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || !strings.Contains(domain, ".") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return nil, false
	}
	return s, true
}

// Date renders any recognized date or timestamp as YYYY-MM-DD.
func Date(s string) (any, bool) {
	t, _, ok := scalar.ParseDateOrTimestamp(s)
	if !ok {
		return nil, false
	}
	return t.Format("2006-01-02"), true
}

// Timestamp renders any recognized date or timestamp as RFC 3339 in UTC.
func Timestamp(s string) (any, bool) {
	t, _, ok := scalar.ParseDateOrTimestamp(s)
	if !ok {
		return nil, false
	}
	return t.UTC().Format(time.RFC3339), true
}

// Int parses a base-10 int64.
func Int(s string) (any, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

// Decimal keeps the literal digits as a JSON number.
func Decimal(s string) (any, bool) {
	if !scalar.IsInt(s) && !scalar.IsDecimal(s) || !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.Number(s), true
}

// Bool accepts the textual booleans of scalar.ParseBool.
func Bool(s string) (any, bool) {
	b, ok := scalar.ParseBool(s)
	if !ok {
		return nil, false
	}
	return b, true
}

// JSON embeds a JSON text as a structured value.
func JSON(s string) (any, bool) {
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return storage.DecodeJSON([]byte(s)), true
}

// UUID renders any parsable UUID in canonical lower-case form.
func UUID(s string) (any, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, false
	}
	return id.String(), true
}
