package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/models"
)

type SQLKVRepository struct {
	coord *database.Coordinator
	now   func() time.Time
}

func NewSQLKVRepository(coord *database.Coordinator) *SQLKVRepository {
	return &SQLKVRepository{coord: coord, now: time.Now}
}

func (r *SQLKVRepository) GetByKey(ctx context.Context, accountID, key string) (*models.KVEntry, error) {
	var entry *models.KVEntry
	err := r.coord.View(ctx, func(ctx context.Context, tx database.Tx) error {
		entry = &models.KVEntry{AccountID: accountID}
		err := tx.QueryRow(ctx, `SELECT kv_key, kv_value, version, updated_at
		          FROM kv_entries
		          WHERE account_id = $1 AND kv_key = $2`, accountID, key).
			Scan(&entry.Key, &entry.Value, &entry.Version, &entry.UpdatedAt)
		if isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get entry by key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *SQLKVRepository) ListByAccountID(ctx context.Context, accountID string) ([]*models.KVEntry, error) {
	var entries []*models.KVEntry
	err := r.coord.View(ctx, func(ctx context.Context, tx database.Tx) error {
		rows, err := tx.Query(ctx, `SELECT kv_key, kv_value, version, updated_at
		          FROM kv_entries
		          WHERE account_id = $1
		          ORDER BY kv_key ASC`, accountID)
		if err != nil {
			return fmt.Errorf("failed to query entries: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			entry := &models.KVEntry{AccountID: accountID}
			if err := rows.Scan(&entry.Key, &entry.Value, &entry.Version, &entry.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan entry: %w", err)
			}
			entries = append(entries, entry)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Upsert creates or updates an entry with optimistic locking. It must run
// inside a transaction.
// If the entry doesn't exist, it creates it with version 1.
// If it exists, it only updates if entry.Version matches the stored version.
// On success entry.Version and entry.UpdatedAt hold the new values.
func (r *SQLKVRepository) Upsert(ctx context.Context, entry *models.KVEntry) error {
	tx, ok := database.TxFrom(ctx)
	if !ok {
		return fmt.Errorf("upsert entry: %w", database.ErrNoTransaction)
	}

	_, err := r.GetByKey(ctx, entry.AccountID, entry.Key)
	if errors.Is(err, ErrNotFound) {
		return r.create(ctx, tx, entry)
	}
	if err != nil {
		return fmt.Errorf("failed to check existing entry: %w", err)
	}

	return r.update(ctx, tx, entry)
}

func (r *SQLKVRepository) create(ctx context.Context, tx database.Tx, entry *models.KVEntry) error {
	now := r.now().UnixMilli()
	_, err := tx.Exec(ctx, `INSERT INTO kv_entries (account_id, kv_key, kv_value, version, updated_at)
	          VALUES ($1, $2, $3, 1, $4)`,
		entry.AccountID,
		entry.Key,
		entry.Value,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}

	entry.Version = 1
	entry.UpdatedAt = now
	return nil
}

func (r *SQLKVRepository) update(ctx context.Context, tx database.Tx, entry *models.KVEntry) error {
	// The version in the WHERE clause is the optimistic lock: only the
	// version the client last saw may be replaced.
	now := r.now().UnixMilli()
	var newVersion int64
	err := tx.QueryRow(ctx, `UPDATE kv_entries
	          SET kv_value = $1,
	              version = version + 1,
	              updated_at = $2
	          WHERE account_id = $3 AND kv_key = $4 AND version = $5
	          RETURNING version`,
		entry.Value,
		now,
		entry.AccountID,
		entry.Key,
		entry.Version,
	).Scan(&newVersion)

	if isNoRows(err) {
		// No rows updated = version mismatch = conflict!
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	entry.Version = newVersion
	entry.UpdatedAt = now
	return nil
}

// Delete removes an entry if its version still matches. It must run inside
// a transaction.
func (r *SQLKVRepository) Delete(ctx context.Context, accountID, key string, version int64) error {
	tx, ok := database.TxFrom(ctx)
	if !ok {
		return fmt.Errorf("delete entry: %w", database.ErrNoTransaction)
	}

	affected, err := tx.Exec(ctx, `DELETE FROM kv_entries
	          WHERE account_id = $1 AND kv_key = $2 AND version = $3`, accountID, key, version)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	if affected == 0 {
		if _, err := r.GetByKey(ctx, accountID, key); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}
