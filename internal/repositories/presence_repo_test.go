package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepository_SetAndList(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	defer cleanupTestKeys(t, client, ctx, "presence:*", "account:*:connections")

	accountID := "acc-" + uuid.NewString()
	for _, scope := range []models.ConnectionScope{models.ScopeUser, models.ScopeSession} {
		err := repo.SetPresence(ctx, &models.Presence{
			ConnectionID: uuid.NewString(),
			AccountID:    accountID,
			Scope:        scope,
			InstanceID:   "instance-a",
		})
		require.NoError(t, err)
	}

	presences, err := repo.ListByAccountID(ctx, accountID)

	require.NoError(t, err)
	assert.Len(t, presences, 2)
	for _, p := range presences {
		assert.Equal(t, accountID, p.AccountID)
		assert.False(t, p.LastSeen.IsZero(), "LastSeen should be stamped")
	}
}

func TestPresenceRepository_Delete(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	defer cleanupTestKeys(t, client, ctx, "presence:*", "account:*:connections")

	presence := &models.Presence{
		ConnectionID: uuid.NewString(),
		AccountID:    "acc-" + uuid.NewString(),
		Scope:        models.ScopeUser,
	}
	require.NoError(t, repo.SetPresence(ctx, presence))

	err := repo.DeletePresence(ctx, presence.AccountID, presence.ConnectionID)
	require.NoError(t, err)

	_, err = repo.GetPresence(ctx, presence.ConnectionID)
	assert.ErrorIs(t, err, ErrNotFound)

	presences, err := repo.ListByAccountID(ctx, presence.AccountID)
	require.NoError(t, err)
	assert.Empty(t, presences)
}

func TestPresenceRepository_ListPrunesExpired(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	defer cleanupTestKeys(t, client, ctx, "presence:*", "account:*:connections")

	presence := &models.Presence{
		ConnectionID: uuid.NewString(),
		AccountID:    "acc-" + uuid.NewString(),
		Scope:        models.ScopeUser,
	}
	require.NoError(t, repo.SetPresence(ctx, presence))

	// Simulate the TTL running out.
	require.NoError(t, client.Del(ctx, presenceKey(presence.ConnectionID)).Err())

	presences, err := repo.ListByAccountID(ctx, presence.AccountID)
	require.NoError(t, err)
	assert.Empty(t, presences)

	members, err := client.SMembers(ctx, "account:"+presence.AccountID+":connections").Result()
	require.NoError(t, err)
	assert.Empty(t, members, "Expired connection should be pruned from the index")
}
