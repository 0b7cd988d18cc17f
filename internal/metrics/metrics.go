// Package metrics records operational metrics for migration runs behind a
// narrow Backend interface. Concrete systems live in subpackages
// (prompush for a Prometheus Pushgateway, datadog for DogStatsD); the
// rest of the program only sees *Recorder.
//
// A nil *Recorder and a Recorder built with a nil Backend are both valid
// and record nothing.
package metrics

import (
	"time"
)

// Metric families emitted by Recorder.
const (
	StepTotal    = "dbtidy_step_total"
	StepDuration = "dbtidy_step_duration_seconds"
	RecordsTotal = "dbtidy_records_total"
	ColumnsTotal = "dbtidy_columns_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a latency/duration style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// Recorder binds a Backend to one table's run.
type Recorder struct {
	b     Backend
	table string
}

// New returns a Recorder for table. A nil backend records nothing.
func New(b Backend, table string) *Recorder {
	if b == nil {
		b = nopBackend{}
	}
	return &Recorder{b: b, table: table}
}

func (r *Recorder) backend() Backend {
	if r == nil || r.b == nil {
		return nopBackend{}
	}
	return r.b
}

func (r *Recorder) labels(extra ...string) Labels {
	l := Labels{}
	if r != nil {
		l["table"] = r.table
	}
	for i := 0; i+1 < len(extra); i += 2 {
		l[extra[i]] = extra[i+1]
	}
	return l
}

// Step records one stage execution (inspect, consolidate, verify, backup,
// drop) with its outcome and duration.
func (r *Recorder) Step(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	l := r.labels("step", step, "status", status)
	r.backend().IncCounter(StepTotal, 1, l)
	r.backend().ObserveHistogram(StepDuration, d.Seconds(), l)
}

// Records increments the record counter for kind (scanned, updated,
// unchanged, failed, unparsed).
func (r *Recorder) Records(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	r.backend().IncCounter(RecordsTotal, float64(delta), r.labels("kind", kind))
}

// Columns increments the column counter for a drop status.
func (r *Recorder) Columns(status string, delta int64) {
	if delta <= 0 {
		return
	}
	r.backend().IncCounter(ColumnsTotal, float64(delta), r.labels("status", status))
}

// Flush delegates to the backend.
func (r *Recorder) Flush() error {
	return r.backend().Flush()
}
