package config

import (
	"fmt"
	"sort"
	"strings"

	"dbtidy/internal/consolidate"
)

// IssueSeverity is the severity of a plan finding.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one plan finding. Path is a dotted path into the plan, e.g.
// "groups[1].mappings[0].transform".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePlan lints a plan against reg, the transform registry it will
// run with. It never mutates the plan.
func ValidatePlan(p Plan, reg *consolidate.Registry) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.KeyColumn) == "" {
		add(SeverityError, "key_column", "key_column must not be empty")
	}
	if p.CountryCode != "" && strings.Trim(p.CountryCode, "0123456789") != "" {
		add(SeverityError, "country_code", "country_code must be digits, got %q", p.CountryCode)
	}
	for i, s := range p.Setup {
		if strings.TrimSpace(s) == "" {
			add(SeverityWarning, fmt.Sprintf("setup[%d]", i), "empty statement is skipped")
		}
	}
	if len(p.Groups) == 0 {
		add(SeverityError, "groups", "plan must define at least one group")
		return issues
	}

	names := map[string]int{}
	targets := map[string]int{}
	sourceGroups := map[string][]string{}
	for gi, g := range p.Groups {
		gp := fmt.Sprintf("groups[%d]", gi)
		if strings.TrimSpace(g.Name) == "" {
			add(SeverityError, gp+".name", "group name must not be empty")
		} else if prev, dup := names[g.Name]; dup {
			add(SeverityError, gp+".name", "duplicate group name %q (also groups[%d])", g.Name, prev)
		} else {
			names[g.Name] = gi
		}

		switch {
		case strings.TrimSpace(g.Target) == "":
			add(SeverityError, gp+".target", "target must not be empty")
		case g.Target == p.KeyColumn:
			add(SeverityError, gp+".target", "target %q is the key column", g.Target)
		default:
			if prev, dup := targets[g.Target]; dup {
				add(SeverityError, gp+".target", "target %q is also written by groups[%d]; groups must write disjoint targets", g.Target, prev)
			} else {
				targets[g.Target] = gi
			}
		}

		if len(g.Mappings) == 0 {
			add(SeverityError, gp+".mappings", "group must map at least one column")
		}
		keys := map[string]int{}
		for mi, m := range g.Mappings {
			mp := fmt.Sprintf("%s.mappings[%d]", gp, mi)
			if strings.TrimSpace(m.Source) == "" {
				add(SeverityError, mp+".source", "source must not be empty")
			} else {
				sourceGroups[m.Source] = appendOnce(sourceGroups[m.Source], g.Name)
				if m.Source == p.KeyColumn {
					add(SeverityWarning, mp+".source", "key column %q is copied but never dropped", m.Source)
				}
			}
			if msg := checkKey(m.Key); msg != "" {
				add(SeverityError, mp+".key", "%s", msg)
			} else if prev, dup := keys[m.Key]; dup {
				add(SeverityError, mp+".key", "duplicate key %q (also mappings[%d])", m.Key, prev)
			} else {
				keys[m.Key] = mi
			}
			if reg != nil && !reg.Has(m.Transform) {
				add(SeverityError, mp+".transform", "unknown transform %q (known: %s)", m.Transform, strings.Join(reg.Names(), ", "))
			}
		}
		for _, conflict := range prefixConflicts(keys) {
			add(SeverityError, gp+".mappings", "key %q is both a value and a parent of %q", conflict[0], conflict[1])
		}
	}

	for gi, g := range p.Groups {
		if _, isTarget := targets[g.Target]; !isTarget {
			continue
		}
		if groupsUsing, ok := sourceGroups[g.Target]; ok {
			add(SeverityError, fmt.Sprintf("groups[%d].target", gi), "target %q is also a source of %s", g.Target, strings.Join(groupsUsing, ", "))
		}
	}
	shared := make([]string, 0)
	for src, gs := range sourceGroups {
		if len(gs) > 1 {
			shared = append(shared, src)
		}
	}
	sort.Strings(shared)
	for _, src := range shared {
		add(SeverityWarning, "groups", "source %q is mapped by %s; a run drops it only when every one of them verifies", src, strings.Join(sourceGroups[src], ", "))
	}
	return issues
}

func appendOnce(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// checkKey returns a message for an invalid destination key.
func checkKey(key string) string {
	if strings.TrimSpace(key) == "" {
		return "key must not be empty"
	}
	for _, seg := range strings.Split(key, ".") {
		if strings.TrimSpace(seg) == "" {
			return fmt.Sprintf("key %q has an empty path segment", key)
		}
	}
	if root, _, _ := strings.Cut(key, "."); root == consolidate.UnparsedKey {
		return fmt.Sprintf("key %q uses the reserved %q prefix", key, consolidate.UnparsedKey)
	}
	return ""
}

// prefixConflicts finds keys that are a parent path of another key.
func prefixConflicts(keys map[string]int) [][2]string {
	all := make([]string, 0, len(keys))
	for k := range keys {
		all = append(all, k)
	}
	sort.Strings(all)
	var out [][2]string
	for _, a := range all {
		for _, b := range all {
			if strings.HasPrefix(b, a+".") {
				out = append(out, [2]string{a, b})
			}
		}
	}
	return out
}
