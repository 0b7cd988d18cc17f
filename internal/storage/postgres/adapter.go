package postgres

import (
	"context"

	"dbtidy/internal/storage"
)

// open is a test hook that points to Open by default.
var open = Open

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return open(ctx, cfg)
	})
}
