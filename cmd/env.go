package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/store"
)

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initBlob opens the configured file backend.
func initBlob() (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "s3":
		return blob.NewS3(cfg.Blob.S3)
	case "local":
		return blob.NewLocal(cfg.Blob.Dir)
	default:
		return nil, eris.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}
