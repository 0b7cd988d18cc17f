package consolidate

import (
	"strings"

	"dbtidy/internal/storage"
)

// Mapping moves one legacy column to a destination key of the target
// document, optionally through a named transform.
type Mapping struct {
	Source    string `json:"source" yaml:"source" toml:"source"`
	Key       string `json:"key" yaml:"key" toml:"key"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty" toml:"transform,omitempty"`
}

// Group is a consolidation group: legacy columns folded into one document
// column.
type Group struct {
	Name     string    `json:"name" yaml:"name" toml:"name"`
	Target   string    `json:"target" yaml:"target" toml:"target"`
	Mappings []Mapping `json:"mappings" yaml:"mappings" toml:"mappings"`
}

// Sources returns the distinct source columns in mapping order.
func (g Group) Sources() []string {
	seen := make(map[string]bool, len(g.Mappings))
	out := make([]string, 0, len(g.Mappings))
	for _, m := range g.Mappings {
		if !seen[m.Source] {
			seen[m.Source] = true
			out = append(out, m.Source)
		}
	}
	return out
}

// Filter selects rows with legacy data for the group.
func (g Group) Filter() storage.Filter {
	return storage.Filter{AnyPresent: g.Sources()}
}

// Eligible reports whether any source column of row is present.
func (g Group) Eligible(row map[string]any) bool {
	for _, s := range g.Sources() {
		if storage.Present(row[s]) {
			return true
		}
	}
	return false
}

func (g Group) roots() map[string]bool {
	out := make(map[string]bool, len(g.Mappings))
	for _, m := range g.Mappings {
		root, _, _ := strings.Cut(m.Key, ".")
		out[root] = true
	}
	return out
}

// Build rebuilds the group document for row. Absent sources are skipped;
// values a transform rejects land in Unparsed. Top-level keys of the stored
// target value that no mapping produces are carried over as Extra.
// eligible is false when no source is present; the document is then empty.
func (g Group) Build(reg *Registry, row map[string]any) (doc Document, eligible bool) {
	if !g.Eligible(row) {
		return Document{}, false
	}
	doc = Document{Fields: map[string]any{}}
	for _, m := range g.Mappings {
		v := row[m.Source]
		if !storage.Present(v) {
			continue
		}
		out, ok := reg.Apply(m.Transform, v)
		if !ok || out == nil {
			if doc.Unparsed == nil {
				doc.Unparsed = map[string]string{}
			}
			doc.Unparsed[m.Key] = unparsedText(v)
			continue
		}
		doc.Fields[m.Key] = out
	}

	if stored, ok := Stored(row[g.Target]).(map[string]any); ok {
		roots := g.roots()
		for k, v := range stored {
			if k == UnparsedKey || roots[k] {
				continue
			}
			if doc.Extra == nil {
				doc.Extra = map[string]any{}
			}
			doc.Extra[k] = v
		}
	}
	return doc, true
}

// unparsedText is the trimmed text of v, or the raw text when trimming
// leaves nothing (a value made only of tabs or newlines).
func unparsedText(v any) string {
	raw := storage.Text(v)
	if t := strings.TrimSpace(raw); t != "" {
		return t
	}
	return raw
}
