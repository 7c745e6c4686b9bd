package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "session:"
const accountSessionsPrefix = "account:%s:sessions"

type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *models.Session) error {
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}

	key := sessionPrefix + session.ID
	accountKey := fmt.Sprintf(accountSessionsPrefix, session.AccountID)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, jsonData, ttl)
		pipe.SAdd(ctx, accountKey, session.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	jsonData, err := r.client.Get(ctx, sessionPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(jsonData), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// ListByAccountID returns live sessions and lazily drops expired ids from
// the account index.
func (r *RedisSessionRepository) ListByAccountID(ctx context.Context, accountID string) ([]*models.Session, error) {
	accountKey := fmt.Sprintf(accountSessionsPrefix, accountID)
	sessionIDs, err := r.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account sessions: %w", err)
	}

	var sessions []*models.Session
	var expiredIDs []interface{}

	for _, id := range sessionIDs {
		session, err := r.GetByID(ctx, id)
		if err == ErrNotFound {
			expiredIDs = append(expiredIDs, id)
			continue
		}
		if err != nil {
			slog.Warn("Skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}

	// Clean up expired sessions
	if len(expiredIDs) > 0 {
		if err := r.client.SRem(ctx, accountKey, expiredIDs...).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove expired sessions: %w", err)
		}
	}
	return sessions, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	accountKey := fmt.Sprintf(accountSessionsPrefix, session.AccountID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, accountKey, id)
		pipe.Del(ctx, sessionPrefix+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) DeleteAllForAccount(ctx context.Context, accountID string) error {
	accountKey := fmt.Sprintf(accountSessionsPrefix, accountID)
	sessionIDs, err := r.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get account sessions: %w", err)
	}
	for _, id := range sessionIDs {
		if err := r.Delete(ctx, id); err != nil {
			slog.Warn("Failed to delete session", "session_id", id, "error", err)
		}
	}
	return nil
}
