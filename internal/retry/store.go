package retry

import (
	"context"

	"dbtidy/internal/storage"
)

// Store decorates a storage.Store so every call goes through Do.
type Store struct {
	inner  storage.Store
	policy Policy
}

var _ storage.Store = (*Store)(nil)

// Wrap returns s with p applied to every call.
func Wrap(s storage.Store, p Policy) *Store {
	return &Store{inner: s, policy: p}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() storage.Store { return s.inner }

func (s *Store) Kind() string { return s.inner.Kind() }

func (s *Store) Close() { s.inner.Close() }

func (s *Store) Scan(ctx context.Context, q storage.ScanQuery) ([]storage.Record, error) {
	return Value(ctx, s.policy, func(ctx context.Context) ([]storage.Record, error) {
		return s.inner.Scan(ctx, q)
	})
}

func (s *Store) Count(ctx context.Context, table string, f storage.Filter) (int64, error) {
	return Value(ctx, s.policy, func(ctx context.Context) (int64, error) {
		return s.inner.Count(ctx, table, f)
	})
}

func (s *Store) Update(ctx context.Context, table, keyColumn, key string, values map[string]any) (int64, error) {
	return Value(ctx, s.policy, func(ctx context.Context) (int64, error) {
		return s.inner.Update(ctx, table, keyColumn, key, values)
	})
}

// Insert is not retried: a timed-out insert may have committed, and a
// second attempt would duplicate the row.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) error {
	return Do(ctx, Policy{MaxAttempts: 1, CallTimeout: s.policy.CallTimeout}, func(ctx context.Context) error {
		return s.inner.Insert(ctx, table, values)
	})
}

func (s *Store) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	return Value(ctx, s.policy, func(ctx context.Context) ([]storage.Column, error) {
		return s.inner.Columns(ctx, table)
	})
}

func (s *Store) AddColumn(ctx context.Context, table string, col storage.ColumnDef) error {
	return Do(ctx, s.policy, func(ctx context.Context) error {
		return s.inner.AddColumn(ctx, table, col)
	})
}

func (s *Store) DropColumn(ctx context.Context, table, column string) error {
	return Do(ctx, s.policy, func(ctx context.Context) error {
		return s.inner.DropColumn(ctx, table, column)
	})
}

func (s *Store) Exec(ctx context.Context, stmt string) error {
	return Do(ctx, s.policy, func(ctx context.Context) error {
		return s.inner.Exec(ctx, stmt)
	})
}
