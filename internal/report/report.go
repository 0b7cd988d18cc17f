package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"dbtidy/internal/backup"
	"dbtidy/internal/config"
	"dbtidy/internal/consolidate"
	"dbtidy/internal/dropper"
	"dbtidy/internal/inspect"
	"dbtidy/internal/verify"
)

// Printer renders results to one writer.
type Printer struct {
	w     io.Writer
	bold  lipgloss.Style
	dim   lipgloss.Style
	pass  lipgloss.Style
	fail  lipgloss.Style
	warn  lipgloss.Style
	title lipgloss.Style
}

// New returns a Printer for w. Color support is detected on w itself.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		bold:  r.NewStyle().Bold(true),
		dim:   r.NewStyle().Faint(true),
		pass:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		fail:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("11")),
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
	}
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) heading(s string) {
	p.printf("%s\n", p.title.Render(s))
}

func (p *Printer) verdict(ok bool) string {
	if ok {
		return p.pass.Render("PASS")
	}
	return p.fail.Render("FAIL")
}

func num(n int64) string { return strconv.FormatInt(n, 10) }

// Inspection prints one table block per outcome.
func (p *Printer) Inspection(outcomes []inspect.Outcome) {
	for i, o := range outcomes {
		if i > 0 {
			p.printf("\n")
		}
		if o.Inaccessible {
			p.printf("%s %s\n", p.fail.Render("inaccessible"), p.bold.Render(o.Table))
			p.printf("  %s\n", o.Reason)
			continue
		}
		p.heading(fmt.Sprintf("%s (%d rows, %s)", o.Table, o.RowCount, o.Elapsed.Round(time.Millisecond)))
		t := p.table(
			Column{Name: "COLUMN"},
			Column{Name: "DATA TYPE"},
			Column{Name: "KIND"},
			Column{Name: "NON-NULL", Align: AlignRight},
			Column{Name: "KEYS"},
		)
		for _, c := range o.Columns {
			kind := string(c.Kind)
			if c.Array {
				kind += "[]"
			}
			if c.Looks != "" {
				kind += " (" + string(c.Looks) + "-like)"
			}
			t.add(c.Name, c.DataType, kind, num(c.NonNull), strings.Join(c.Keys, ","))
		}
		t.render(p.w)
	}
}

// Ledgers prints one row per consolidated group plus sampled errors.
func (p *Printer) Ledgers(ledgers []consolidate.Ledger) {
	if len(ledgers) == 0 {
		return
	}
	title := "Consolidation"
	if ledgers[0].DryRun {
		title += " " + p.warn.Render("(dry run)")
	}
	p.heading(title)
	t := p.table(
		Column{Name: "GROUP"},
		Column{Name: "TARGET"},
		Column{Name: "SCANNED", Align: AlignRight},
		Column{Name: "UPDATED", Align: AlignRight},
		Column{Name: "UNCHANGED", Align: AlignRight},
		Column{Name: "UNPARSED", Align: AlignRight},
		Column{Name: "FAILED", Align: AlignRight},
	)
	for _, l := range ledgers {
		failed := num(l.Failed)
		if l.Failed > 0 {
			failed = p.fail.Render(failed)
		}
		t.add(l.Group, l.Target, num(l.Scanned), num(l.Updated), num(l.Unchanged), num(l.Unparsed), failed)
	}
	t.render(p.w)
	for _, l := range ledgers {
		for _, e := range l.Errors {
			p.printf("  %s %s: %s\n", p.fail.Render("✗"), l.Group, e)
		}
	}
}

// Verification prints the per-group counts and any sampled mismatches.
func (p *Printer) Verification(r verify.Report) {
	p.heading(fmt.Sprintf("Verification of %s: %s", r.Table, p.verdict(r.Passed())))
	t := p.table(
		Column{Name: "GROUP"},
		Column{Name: "TARGET"},
		Column{Name: "LEGACY", Align: AlignRight},
		Column{Name: "NESTED", Align: AlignRight},
		Column{Name: "DEFICIT", Align: AlignRight},
		Column{Name: "SAMPLED", Align: AlignRight},
		Column{Name: "RESULT"},
	)
	for _, res := range r.Results {
		t.add(res.Group, res.Target, num(res.LegacyCount), num(res.NestedCount),
			num(res.Deficit), strconv.Itoa(res.Sampled), p.verdict(res.Passed))
	}
	t.render(p.w)
	for _, res := range r.Results {
		for _, m := range res.Mismatches {
			p.printf("  %s %s key=%s %s: expected %s, stored %s\n",
				p.warn.Render("≠"), res.Group, m.Key, m.Field, m.Expected, m.Stored)
		}
	}
}

// Checkpoint prints the dropper state. A blocked run leads with its reason.
func (p *Printer) Checkpoint(cp dropper.Checkpoint) {
	if cp.State == dropper.Blocked {
		p.printf("%s %s: %s\n", p.fail.Render("BLOCKED"), cp.Table, cp.Reason)
		if len(cp.Failing) > 0 {
			p.printf("  failing groups: %s\n", strings.Join(cp.Failing, ", "))
		}
	}
	p.heading(fmt.Sprintf("Drop %s: %s", cp.Table, cp.State))
	if cp.Backup != nil {
		p.printf("  backup   %s (%d rows, %s)\n", cp.Backup.Manifest, cp.Backup.RowCount, cp.Backup.Checksum)
	}
	if cp.State == dropper.VerifiedSafe {
		p.printf("  %s %s\n", p.warn.Render("report only:"), "re-run with --confirm-drop to drop "+strings.Join(cp.Scope, ", "))
	}
	if len(cp.Columns) == 0 {
		return
	}
	t := p.table(Column{Name: "COLUMN"}, Column{Name: "STATUS"}, Column{Name: "ERROR"})
	for _, c := range cp.Columns {
		status := string(c.Status)
		switch c.Status {
		case dropper.ColumnDropped, dropper.ColumnAbsent:
			status = p.pass.Render(status)
		case dropper.ColumnFailed:
			status = p.fail.Render(status)
		}
		t.add(c.Column, status, c.Error)
	}
	t.render(p.w)
}

// Artifact prints a backup manifest summary.
func (p *Printer) Artifact(a backup.Artifact) {
	p.heading("Backup " + a.Table)
	p.printf("  manifest  %s\n", a.Path)
	p.printf("  data      %s\n", a.DataPath())
	p.printf("  rows      %d in %d chunks\n", a.RowCount, len(a.Chunks))
	p.printf("  checksum  %s\n", a.Checksum)
	p.printf("  captured  %s\n", a.CapturedAt.UTC().Format(time.RFC3339))
}

// Restore prints a rollback result.
func (p *Printer) Restore(r backup.RestoreResult) {
	p.heading("Rollback")
	if len(r.Added) > 0 {
		p.printf("  re-added  %s\n", strings.Join(r.Added, ", "))
	}
	p.printf("  rows %d, updated %d, inserted %d, failed %d (%s)\n",
		r.Rows, r.Updated, r.Inserted, r.Failed, r.Elapsed.Round(time.Millisecond))
	for _, e := range r.Errors {
		p.printf("  %s %s\n", p.fail.Render("✗"), e)
	}
}

// Issues prints plan validation findings, errors first.
func (p *Printer) Issues(issues []config.Issue) {
	if len(issues) == 0 {
		p.printf("%s plan is valid\n", p.pass.Render("✓"))
		return
	}
	for _, sev := range []config.IssueSeverity{config.SeverityError, config.SeverityWarning} {
		for _, is := range issues {
			if is.Severity != sev {
				continue
			}
			label := p.warn.Render("warning")
			if sev == config.SeverityError {
				label = p.fail.Render("error")
			}
			p.printf("%s %s: %s\n", label, p.bold.Render(is.Path), is.Message)
		}
	}
}

// Summary tallies a run.
type Summary struct {
	Attempted int64
	Succeeded int64
	Failed    int64
	Skipped   int64
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Attempted += o.Attempted
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// LedgerSummary counts records: unchanged rows are skipped.
func LedgerSummary(ledgers []consolidate.Ledger) Summary {
	var s Summary
	for _, l := range ledgers {
		s.Attempted += l.Scanned
		s.Succeeded += l.Updated
		s.Failed += l.Failed
		s.Skipped += l.Unchanged
	}
	return s
}

// CheckpointSummary counts columns: already absent columns are skipped.
func CheckpointSummary(cp dropper.Checkpoint) Summary {
	var s Summary
	for _, c := range cp.Columns {
		switch c.Status {
		case dropper.ColumnDropped:
			s.Attempted++
			s.Succeeded++
		case dropper.ColumnAbsent:
			s.Attempted++
			s.Skipped++
		case dropper.ColumnFailed:
			s.Attempted++
			s.Failed++
		}
	}
	return s
}

// Summary prints the closing tally line.
func (p *Printer) Summary(s Summary) {
	failed := fmt.Sprintf("%d failed", s.Failed)
	if s.Failed > 0 {
		failed = p.fail.Render(failed)
	}
	p.printf("%s %d attempted, %d succeeded, %s, %d skipped\n",
		p.bold.Render("Summary:"), s.Attempted, s.Succeeded, failed, s.Skipped)
}
