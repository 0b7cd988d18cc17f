package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/storetest"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Step: time.Millisecond}
}

// TestDo covers the retry decision table.
func TestDo(t *testing.T) {
	t.Parallel()

	transient := storage.Transient(errors.New("conn reset"))
	semantic := fmt.Errorf("%w: email", storage.ErrColumnMissing)

	tests := []struct {
		name      string
		attempts  int
		failures  []error
		wantCalls int
		wantErr   error
	}{
		{name: "success first try", attempts: 3, wantCalls: 1},
		{name: "transient then success", attempts: 3, failures: []error{transient, transient}, wantCalls: 3},
		{name: "transient exhausts budget", attempts: 3, failures: []error{transient, transient, transient, transient}, wantCalls: 3, wantErr: transient},
		{name: "semantic never retried", attempts: 3, failures: []error{semantic}, wantCalls: 1, wantErr: storage.ErrColumnMissing},
		{name: "single attempt", attempts: 0, failures: []error{transient}, wantCalls: 1, wantErr: transient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			err := Do(context.Background(), fastPolicy(tt.attempts), func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestDoCallTimeout verifies a slow call is cut off and retried as
// transient.
func TestDoCallTimeout(t *testing.T) {
	t.Parallel()

	calls := 0
	p := Policy{MaxAttempts: 2, Step: time.Millisecond, CallTimeout: 10 * time.Millisecond}
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) || !storage.IsTransient(err) {
		t.Fatalf("err = %v, want transient deadline", err)
	}
}

func TestDoParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastPolicy(5), func(context.Context) error {
		calls++
		return storage.Transient(errors.New("x"))
	})
	if calls != 1 || err == nil {
		t.Fatalf("calls = %d err = %v, want a single attempt", calls, err)
	}
}

func TestLinearBackOff(t *testing.T) {
	t.Parallel()

	l := &linear{step: 10 * time.Millisecond}
	for i, want := range []time.Duration{10, 20, 30} {
		if got := l.NextBackOff(); got != want*time.Millisecond {
			t.Fatalf("step %d = %v, want %v", i, got, want*time.Millisecond)
		}
	}
	l.Reset()
	if got := l.NextBackOff(); got != 10*time.Millisecond {
		t.Fatalf("after Reset = %v", got)
	}
}

// TestWrapRetriesStoreCalls exercises the decorator against a flaky store.
func TestWrapRetriesStoreCalls(t *testing.T) {
	t.Parallel()

	mem := storetest.New()
	mem.CreateTable("users", "id", "email")
	mem.Put("users", map[string]any{"id": "a", "email": "a@x.io"})
	mem.SetHook(func(op storetest.Op, _, _ string, n int) error {
		if op == storetest.OpCount && n == 1 {
			return storage.Transient(errors.New("blip"))
		}
		if op == storetest.OpInsert {
			return storage.Transient(errors.New("blip"))
		}
		return nil
	})

	s := Wrap(mem, fastPolicy(3))
	n, err := s.Count(context.Background(), "users", storage.Filter{})
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if got := mem.Calls(storetest.OpCount); got != 2 {
		t.Fatalf("count calls = %d, want 2", got)
	}

	if err := s.Insert(context.Background(), "users", map[string]any{"id": "b"}); err == nil {
		t.Fatalf("expected insert failure")
	}
	if got := mem.Calls(storetest.OpInsert); got != 1 {
		t.Fatalf("insert calls = %d, want 1", got)
	}
	if s.Unwrap() != storage.Store(mem) {
		t.Fatalf("Unwrap returned a different store")
	}
}
