// Package store holds the canonical record store implementations.
package store

import (
	"context"
	"fmt"

	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/model"
)

// Open returns the store selected by cfg. dryRun swaps in a MemoryStore.
func Open(ctx context.Context, cfg config.StoreConfig, dryRun bool) (model.Store, error) {
	if dryRun {
		return NewMemoryStore(), nil
	}
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

var (
	_ model.Store = (*SQLiteStore)(nil)
	_ model.Store = (*PostgresStore)(nil)
	_ model.Store = (*MemoryStore)(nil)
)
