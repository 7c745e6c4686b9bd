package repositories

import (
	"context"

	"github.com/prudhvinik1/changesync/internal/models"
)

type ChangeLedger interface {
	Append(ctx context.Context, accountID string, kind models.ChangeKind, entityID string, hint any) (int64, error)
	Query(ctx context.Context, accountID string, since int64, limit int) (*models.ChangesResponse, error)
	CurrentCursor(ctx context.Context, accountID string) (*models.AccountCursor, error)
	Compact(ctx context.Context, maxEntries int) (*CompactionResult, error)
}

type KVRepository interface {
	GetByKey(ctx context.Context, accountID, key string) (*models.KVEntry, error)
	ListByAccountID(ctx context.Context, accountID string) ([]*models.KVEntry, error)
	Upsert(ctx context.Context, entry *models.KVEntry) error
	Delete(ctx context.Context, accountID, key string, version int64) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListByAccountID(ctx context.Context, accountID string) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForAccount(ctx context.Context, accountID string) error
}

type PresenceRepository interface {
	SetPresence(ctx context.Context, presence *models.Presence) error
	GetPresence(ctx context.Context, connectionID string) (*models.Presence, error)
	DeletePresence(ctx context.Context, accountID, connectionID string) error
	ListByAccountID(ctx context.Context, accountID string) ([]*models.Presence, error)
}

var (
	_ ChangeLedger       = (*SQLChangeLedger)(nil)
	_ KVRepository       = (*SQLKVRepository)(nil)
	_ SessionRepository  = (*RedisSessionRepository)(nil)
	_ PresenceRepository = (*RedisPresenceRepository)(nil)
)
