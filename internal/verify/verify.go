// Package verify is the gate between consolidation and destructive column
// drops. For each group it counts rows with legacy data and rows with a
// populated target; a group passes when no legacy row is missing its
// document. An optional sample check rebuilds the expected document for a
// few rows and compares it with what is stored.
package verify

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"dbtidy/internal/consolidate"
	"dbtidy/internal/metrics"
	"dbtidy/internal/storage"
)

// Result is the outcome for one group.
type Result struct {
	Group       string `json:"group"`
	Target      string `json:"target"`
	LegacyCount int64  `json:"legacy_count"`
	NestedCount int64  `json:"nested_count"`
	// Deficit is LegacyCount-NestedCount when positive, else zero.
	Deficit int64 `json:"deficit"`
	// Sampled is the number of rows compared field by field.
	Sampled    int        `json:"sampled"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Passed     bool       `json:"passed"`
}

// Mismatch is one field whose stored value differs from the rebuilt one.
type Mismatch struct {
	Key      string `json:"key"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Stored   string `json:"stored"`
}

// Report is the outcome for every group in scope.
type Report struct {
	Table     string    `json:"table"`
	Results   []Result  `json:"results"`
	CheckedAt time.Time `json:"checked_at"`
}

// Passed reports whether every group passed. An empty report passes.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failing lists the names of groups that did not pass.
func (r Report) Failing() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res.Group)
		}
	}
	return out
}

// Verifier counts through Store, normally the read-only principal.
type Verifier struct {
	Store     storage.Store
	Table     string
	KeyColumn string
	Registry  *consolidate.Registry
	// Sample is the number of legacy rows to compare field by field per
	// group; zero disables the sample check.
	Sample int
	// Strict turns sample mismatches into a failure.
	Strict  bool
	Logger  *log.Logger
	Metrics *metrics.Recorder
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (v *Verifier) logger() *log.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return log.Default()
}

// Verify checks every group. A failing group is reported, not returned as
// an error; errors are I/O failures of the counting or sampling queries.
func (v *Verifier) Verify(ctx context.Context, groups []consolidate.Group) (rep Report, err error) {
	start := time.Now()
	defer func() { v.Metrics.Step("verify", err, time.Since(start)) }()

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	rep = Report{Table: v.Table, CheckedAt: now().UTC()}
	for _, g := range groups {
		res, err := v.verifyGroup(ctx, g)
		if err != nil {
			return Report{}, fmt.Errorf("verify %s: %w", g.Name, err)
		}
		rep.Results = append(rep.Results, res)

		lvl := log.InfoLevel
		if !res.Passed {
			lvl = log.WarnLevel
		}
		v.logger().Log(lvl, "verified", "group", g.Name, "legacy", res.LegacyCount,
			"nested", res.NestedCount, "deficit", res.Deficit,
			"mismatches", len(res.Mismatches), "passed", res.Passed)
	}
	return rep, nil
}

func (v *Verifier) verifyGroup(ctx context.Context, g consolidate.Group) (Result, error) {
	res := Result{Group: g.Name, Target: g.Target}

	var err error
	if res.LegacyCount, err = v.Store.Count(ctx, v.Table, g.Filter()); err != nil {
		return res, fmt.Errorf("legacy count: %w", err)
	}
	if res.NestedCount, err = v.Store.Count(ctx, v.Table, storage.Filter{NotNull: []string{g.Target}}); err != nil {
		return res, fmt.Errorf("nested count: %w", err)
	}
	if d := res.LegacyCount - res.NestedCount; d > 0 {
		res.Deficit = d
	}
	res.Passed = res.Deficit == 0

	if v.Sample > 0 {
		if err := v.sampleCheck(ctx, g, &res); err != nil {
			return res, err
		}
		if v.Strict && len(res.Mismatches) > 0 {
			res.Passed = false
		}
	}
	return res, nil
}

// sampleCheck compares up to Sample legacy rows field by field.
func (v *Verifier) sampleCheck(ctx context.Context, g consolidate.Group, res *Result) error {
	reg := v.Registry
	if reg == nil {
		reg = consolidate.NewRegistry("")
	}
	recs, err := v.Store.Scan(ctx, storage.ScanQuery{
		Table: v.Table, KeyColumn: v.KeyColumn,
		Columns: append([]string{g.Target}, g.Sources()...),
		Limit:   v.Sample, Where: g.Filter(),
	})
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	for _, rec := range recs {
		res.Sampled++
		doc, eligible := g.Build(reg, rec.Values)
		if !eligible {
			continue
		}
		res.Mismatches = append(res.Mismatches, compare(rec.Key, doc, consolidate.Stored(rec.Values[g.Target]))...)
	}
	return nil
}

// compare diffs the expected fields and unparsed values against stored.
func compare(key string, want consolidate.Document, stored any) []Mismatch {
	if stored == nil {
		return []Mismatch{{Key: key, Field: "*", Expected: "document", Stored: "null"}}
	}
	var out []Mismatch
	for _, f := range sortedKeys(want.Fields) {
		got, ok := consolidate.Lookup(stored, f)
		if !ok || !equal(want.Fields[f], got) {
			out = append(out, Mismatch{Key: key, Field: f, Expected: storage.Text(want.Fields[f]), Stored: text(got, ok)})
		}
	}

	bag, _ := consolidate.Lookup(stored, consolidate.UnparsedKey)
	u, _ := bag.(map[string]any)
	for _, f := range sortedKeys(want.Unparsed) {
		got, ok := u[f]
		if !ok || storage.Text(got) != want.Unparsed[f] {
			out = append(out, Mismatch{Key: key, Field: consolidate.UnparsedKey + "." + f, Expected: want.Unparsed[f], Stored: text(got, ok)})
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func text(v any, ok bool) string {
	if !ok {
		return "<absent>"
	}
	return storage.Text(v)
}

// equal compares values through their canonical encoding so int64(5) and
// json.Number("5") match.
func equal(a, b any) bool {
	ea, errA := consolidate.Canonical(a)
	eb, errB := consolidate.Canonical(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ea) == string(eb)
}
