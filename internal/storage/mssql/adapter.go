package mssql

import (
	"context"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/sqlstore"
)

// open is a test hook that points to sqlstore.Open by default.
var open = sqlstore.Open

var _ sqlstore.Dialect = Dialect{}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return open(ctx, Dialect{}, cfg)
	})
}
