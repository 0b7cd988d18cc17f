// Package scalar holds the text-level type tests shared by schema inference
// and field transforms: booleans, integers, decimals, dates and timestamps.
package scalar

import (
	"strconv"
	"strings"
	"time"
)

// DateLayouts are the accepted date formats (no time component), ISO first.
var DateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
	"20060102",
	"2 Jan 2006",
	"02-Jan-2006",
}

// TimestampLayouts are the accepted timestamp formats, ISO first.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999-07",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
}

// IsBool accepts common textual booleans.
func IsBool(s string) bool {
	_, ok := ParseBool(s)
	return ok
}

// ParseBool parses true/false, t/f, yes/no, y/n and 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// IsInt requires a signed base-10 integer that fits in int64.
func IsInt(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}

// IsDecimal accepts decimal or scientific notation that is not an integer.
func IsDecimal(s string) bool {
	if IsInt(s) {
		return false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && f == f
}

// ParseDateOrTimestamp tries timestamp layouts first, then date layouts.
// hasTime reports whether a time component was present.
func ParseDateOrTimestamp(s string) (t time.Time, hasTime, ok bool) {
	st := strings.TrimSpace(s)
	for _, layout := range TimestampLayouts {
		if v, err := time.Parse(layout, st); err == nil {
			return v, true, true
		}
	}
	for _, layout := range DateLayouts {
		if v, err := time.Parse(layout, st); err == nil {
			return v, false, true
		}
	}
	return time.Time{}, false, false
}

// HasISODatePrefix reports whether s starts with YYYY-MM-DD.
func HasISODatePrefix(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return false
	}
	_, err := time.Parse("2006-01-02", s[:10])
	return err == nil
}
