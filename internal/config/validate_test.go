package config

import (
	"strings"
	"testing"

	"dbtidy/internal/consolidate"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPlan() Plan {
	return Plan{
		KeyColumn: "id",
		Groups: []consolidate.Group{
			{Name: "contact", Target: "contact_info", Mappings: []consolidate.Mapping{
				{Source: "mobile", Key: "phone.mobile", Transform: "phone"},
				{Source: "company_email", Key: "emails.company", Transform: "email"},
			}},
			{Name: "address", Target: "address_info", Mappings: []consolidate.Mapping{
				{Source: "street", Key: "street"},
			}},
		},
	}
}

func TestValidatePlanValid(t *testing.T) {
	t.Parallel()

	if issues := ValidatePlan(validPlan(), consolidate.NewRegistry("")); len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

// TestValidatePlanFindings covers each rule with a one-line mutation.
func TestValidatePlanFindings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Plan)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"empty key column", func(p *Plan) { p.KeyColumn = "" }, SeverityError, "key_column", "must not be empty"},
		{"bad country code", func(p *Plan) { p.CountryCode = "+60" }, SeverityError, "country_code", "digits"},
		{"blank setup", func(p *Plan) { p.Setup = []string{" "} }, SeverityWarning, "setup[0]", "skipped"},
		{"no groups", func(p *Plan) { p.Groups = nil }, SeverityError, "groups", "at least one group"},
		{"duplicate name", func(p *Plan) { p.Groups[1].Name = "contact" }, SeverityError, "groups[1].name", "duplicate group name"},
		{"shared target", func(p *Plan) { p.Groups[1].Target = "contact_info" }, SeverityError, "groups[1].target", "disjoint targets"},
		{"target is key", func(p *Plan) { p.Groups[0].Target = "id" }, SeverityError, "groups[0].target", "key column"},
		{"target is source", func(p *Plan) { p.Groups[1].Target = "mobile" }, SeverityError, "groups[1].target", "also a source"},
		{"no mappings", func(p *Plan) { p.Groups[1].Mappings = nil }, SeverityError, "groups[1].mappings", "at least one column"},
		{"empty source", func(p *Plan) { p.Groups[1].Mappings[0].Source = "" }, SeverityError, "groups[1].mappings[0].source", "must not be empty"},
		{"key as source", func(p *Plan) { p.Groups[1].Mappings[0].Source = "id" }, SeverityWarning, "groups[1].mappings[0].source", "never dropped"},
		{"empty segment", func(p *Plan) { p.Groups[0].Mappings[0].Key = "phone..mobile" }, SeverityError, "groups[0].mappings[0].key", "empty path segment"},
		{"reserved key", func(p *Plan) { p.Groups[1].Mappings[0].Key = "_unparsed.x" }, SeverityError, "groups[1].mappings[0].key", "reserved"},
		{"duplicate key", func(p *Plan) { p.Groups[0].Mappings[1].Key = "phone.mobile" }, SeverityError, "groups[0].mappings[1].key", "duplicate key"},
		{"prefix conflict", func(p *Plan) { p.Groups[0].Mappings[1].Key = "phone" }, SeverityError, "groups[0].mappings", "parent of"},
		{"unknown transform", func(p *Plan) { p.Groups[0].Mappings[0].Transform = "fax" }, SeverityError, "groups[0].mappings[0].transform", "unknown transform"},
		{"shared source", func(p *Plan) { p.Groups[1].Mappings[0].Source = "mobile" }, SeverityWarning, "groups", "every one of them verifies"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPlan()
			tt.mutate(&p)
			issues := ValidatePlan(p, consolidate.NewRegistry(""))
			if !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("missing %s at %s (%q); got %+v", tt.sev, tt.path, tt.msg, issues)
			}
		})
	}
}

func TestHasErrors(t *testing.T) {
	t.Parallel()

	if HasErrors([]Issue{{Severity: SeverityWarning}}) {
		t.Fatalf("warnings only should not count as errors")
	}
	if !HasErrors([]Issue{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Fatalf("expected errors")
	}
	if got := (Issue{Severity: SeverityError, Path: "groups", Message: "x"}).Error(); got != "error at groups: x" {
		t.Fatalf("Error() = %q", got)
	}
}
