// Package report renders command results for the terminal with lipgloss.
// Output goes to the writer given to New; colors are only emitted when
// that writer is a terminal.
package report

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Alignment specifies column text alignment.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Column is a table column.
type Column struct {
	Name  string
	Align Alignment
}

// table is a plain-text table whose column widths fit the content.
type table struct {
	r       *Printer
	columns []Column
	rows    [][]string
}

func (p *Printer) table(columns ...Column) *table {
	return &table{r: p, columns: columns}
}

func (t *table) add(values ...string) {
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.columns))
	for i, c := range t.columns {
		widths[i] = lipgloss.Width(c.Name)
	}
	for _, row := range t.rows {
		for i := range t.columns {
			if n := lipgloss.Width(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("  ")
	total := 0
	for i, c := range t.columns {
		sb.WriteString(pad(t.r.bold.Render(c.Name), widths[i], c.Align))
		total += widths[i]
		if i < len(t.columns)-1 {
			sb.WriteString("  ")
			total += 2
		}
	}
	sb.WriteString("\n  ")
	sb.WriteString(t.r.dim.Render(strings.Repeat("─", total)))
	sb.WriteString("\n")
	for _, row := range t.rows {
		sb.WriteString("  ")
		for i, c := range t.columns {
			sb.WriteString(pad(row[i], widths[i], c.Align))
			if i < len(t.columns)-1 {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("\n")
	}
	io.WriteString(w, sb.String())
}

// pad pads styled text to width, measuring printable cells only.
func pad(s string, width int, align Alignment) string {
	n := width - lipgloss.Width(s)
	if n <= 0 {
		return s
	}
	if align == AlignRight {
		return strings.Repeat(" ", n) + s
	}
	return s + strings.Repeat(" ", n)
}
