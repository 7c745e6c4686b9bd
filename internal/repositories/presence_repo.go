package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix        = "presence:"
	accountConnectionsPrefix = "account:%s:connections"
	PresenceTTL              = 60 * time.Second // Presence expires after 60 seconds without heartbeat
)

// RedisPresenceRepository tracks live update connections across every
// server process. Entries expire unless the holder refreshes them.
type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client}
}

// SetPresence sets or refreshes a connection's presence with automatic TTL.
// Holders should call this about every PresenceTTL/2.
func (r *RedisPresenceRepository) SetPresence(ctx context.Context, presence *models.Presence) error {
	presence.LastSeen = time.Now()

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	accountKey := fmt.Sprintf(accountConnectionsPrefix, presence.AccountID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(presence.ConnectionID), data, PresenceTTL)
		pipe.SAdd(ctx, accountKey, presence.ConnectionID)
		pipe.Expire(ctx, accountKey, 2*PresenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) GetPresence(ctx context.Context, connectionID string) (*models.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(connectionID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &presence, nil
}

func (r *RedisPresenceRepository) DeletePresence(ctx context.Context, accountID, connectionID string) error {
	accountKey := fmt.Sprintf(accountConnectionsPrefix, accountID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(connectionID))
		pipe.SRem(ctx, accountKey, connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

// ListByAccountID returns every live connection of an account in a single
// MGET round trip; ids whose presence expired are pruned from the index.
func (r *RedisPresenceRepository) ListByAccountID(ctx context.Context, accountID string) ([]*models.Presence, error) {
	accountKey := fmt.Sprintf(accountConnectionsPrefix, accountID)
	ids, err := r.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account connections: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Presence{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presenceKey(id)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk presence: %w", err)
	}

	presences := make([]*models.Presence, 0, len(ids))
	var expired []interface{}
	for i, result := range results {
		data, ok := result.(string)
		if result == nil || !ok {
			expired = append(expired, ids[i])
			continue
		}

		var presence models.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			expired = append(expired, ids[i])
			continue
		}
		presences = append(presences, &presence)
	}

	if len(expired) > 0 {
		if err := r.client.SRem(ctx, accountKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired connections: %w", err)
		}
	}
	return presences, nil
}

// Helper: build Redis key for presence
func presenceKey(connectionID string) string {
	return presenceKeyPrefix + connectionID
}
