// Package logging builds the process logger. Operational messages go to
// stderr; command results are written to stdout by the commands.
package logging

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a structured logger writing to w. verbose enables debug
// lines.
func New(w io.Writer, verbose bool) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "dbtidy",
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	return l
}
