package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory Backend for tests.
type fakeBackend struct {
	mu         sync.Mutex
	counters   []call
	histograms []call
	flushes    int
	flushErr   error
}

type call struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, call{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, call{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

// TestRecorderStep verifies labels and both step metrics.
func TestRecorderStep(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	r := New(fb, "users")
	r.Step("verify", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.counters) != 1 || len(fb.histograms) != 1 {
		t.Fatalf("counters=%d histograms=%d, want 1/1", len(fb.counters), len(fb.histograms))
	}
	c := fb.counters[0]
	if c.name != StepTotal || c.labels["status"] != "failure" || c.labels["step"] != "verify" || c.labels["table"] != "users" {
		t.Fatalf("counter = %+v", c)
	}
	if h := fb.histograms[0]; h.name != StepDuration || h.value != 1.5 {
		t.Fatalf("histogram = %+v", h)
	}
}

func TestRecorderCountersSkipNonPositive(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	r := New(fb, "users")
	r.Records("updated", 0)
	r.Records("updated", 3)
	r.Columns("dropped", -1)
	r.Columns("dropped", 2)

	if len(fb.counters) != 2 {
		t.Fatalf("counters = %+v", fb.counters)
	}
	if fb.counters[0].name != RecordsTotal || fb.counters[0].value != 3 || fb.counters[0].labels["kind"] != "updated" {
		t.Fatalf("records counter = %+v", fb.counters[0])
	}
	if fb.counters[1].name != ColumnsTotal || fb.counters[1].labels["status"] != "dropped" {
		t.Fatalf("columns counter = %+v", fb.counters[1])
	}
}

// TestNilRecorderIsSafe ensures callers never need nil checks.
func TestNilRecorderIsSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.Step("drop", nil, time.Second)
	r.Records("scanned", 1)
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush on nil recorder: %v", err)
	}
	if err := New(nil, "t").Flush(); err != nil {
		t.Fatalf("Flush on nop backend: %v", err)
	}
}

func TestFlushPropagatesError(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{flushErr: errors.New("push failed")}
	if err := New(fb, "t").Flush(); err == nil || fb.flushes != 1 {
		t.Fatalf("Flush err = %v flushes = %d", err, fb.flushes)
	}
}
