package sqlite

import (
	"context"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/sqlstore"
)

// open is a test hook that points to sqlstore.Open by default.
var open = sqlstore.Open

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := open(ctx, Dialect{}, cfg)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer.
		s.DB().SetMaxOpenConns(1)
		return s, nil
	})
}
