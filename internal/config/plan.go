package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dbtidy/internal/consolidate"
)

// Plan describes how one table is consolidated.
type Plan struct {
	// Table is optional; when set, commands refuse other tables.
	Table     string `json:"table,omitempty" yaml:"table,omitempty" toml:"table,omitempty"`
	KeyColumn string `json:"key_column" yaml:"key_column" toml:"key_column"`
	// CountryCode configures the phone transform.
	CountryCode string `json:"country_code,omitempty" yaml:"country_code,omitempty" toml:"country_code,omitempty"`
	// Setup statements run before consolidation, e.g. helper functions.
	Setup  []string            `json:"setup,omitempty" yaml:"setup,omitempty" toml:"setup,omitempty"`
	Groups []consolidate.Group `json:"groups" yaml:"groups" toml:"groups"`
}

// LoadPlan reads a plan file. The format follows the extension: .json,
// .yaml/.yml or .toml.
func LoadPlan(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	p, err := ParsePlan(raw, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// ParsePlan decodes raw in format ("json", "yaml", "yml" or "toml").
// Unknown fields are rejected. An empty key column defaults to "id".
func ParsePlan(raw []byte, format string) (Plan, error) {
	var p Plan
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Plan{}, fmt.Errorf("decode json: %w", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Plan{}, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		md, err := toml.Decode(string(raw), &p)
		if err != nil {
			return Plan{}, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Plan{}, fmt.Errorf("decode toml: unknown keys %v", undecoded)
		}
	default:
		return Plan{}, fmt.Errorf("unsupported plan format %q", format)
	}
	if p.KeyColumn == "" {
		p.KeyColumn = "id"
	}
	return p, nil
}

// Registry returns the transform registry configured by the plan.
func (p Plan) Registry() *consolidate.Registry {
	return consolidate.NewRegistry(p.CountryCode)
}

// Select returns the named groups in plan order; no names selects all.
func (p Plan) Select(names []string) ([]consolidate.Group, error) {
	if len(names) == 0 {
		return p.Groups, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []consolidate.Group
	for _, g := range p.Groups {
		if want[g.Name] {
			out = append(out, g)
			delete(want, g.Name)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range names {
			if want[n] {
				missing = append(missing, n)
			}
		}
		return nil, fmt.Errorf("unknown group(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}
