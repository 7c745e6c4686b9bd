package database

import (
	"context"
	"fmt"
)

// OpenBackend picks the backend from the URL scheme and applies the schema.
func OpenBackend(ctx context.Context, databaseURL string) (Backend, error) {
	var backend Backend
	if IsSQLiteURL(databaseURL) {
		b, err := OpenSQLite(databaseURL)
		if err != nil {
			return nil, err
		}
		backend = b
	} else {
		pool, err := NewPostgresPool(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		backend = NewPostgresBackend(pool)
	}

	if err := backend.Migrate(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", backend.Name(), err)
	}
	return backend, nil
}
