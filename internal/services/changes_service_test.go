package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/database/dbtest"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChanges(t *testing.T, coord *database.Coordinator, ledger *repositories.SQLChangeLedger, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
			_, err := ledger.Append(ctx, accountID, models.ChangeKindSession, fmt.Sprintf("s-%d", i), nil)
			return err
		})
		require.NoError(t, err)
	}
}

func TestChangesService_FetchChanges(t *testing.T) {
	coord := database.NewCoordinator(dbtest.NewSQLite(t))
	ledger := repositories.NewSQLChangeLedger(coord)
	svc := NewChangesService(ledger, 2)
	ctx := context.Background()

	seedChanges(t, coord, ledger, "acc-1", 5)

	resp, err := svc.FetchChanges(ctx, "acc-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, resp.Changes, 2, "Zero limit uses the configured page size")
	assert.Equal(t, int64(2), resp.NextCursor)

	resp, err = svc.FetchChanges(ctx, "acc-1", resp.NextCursor, 10)
	require.NoError(t, err)
	assert.Len(t, resp.Changes, 3)
	assert.Equal(t, int64(5), resp.NextCursor)
}

func TestChangesService_Validation(t *testing.T) {
	coord := database.NewCoordinator(dbtest.NewSQLite(t))
	svc := NewChangesService(repositories.NewSQLChangeLedger(coord), 200)
	ctx := context.Background()

	_, err := svc.FetchChanges(ctx, "acc-1", -1, 0)
	assert.True(t, models.IsValidationError(err), "Negative cursor")

	_, err = svc.FetchChanges(ctx, "acc-1", 0, repositories.MaxPageLimit+1)
	assert.True(t, models.IsValidationError(err), "Oversized limit")

	_, err = svc.FetchChanges(ctx, "", 0, 0)
	assert.True(t, models.IsValidationError(err), "Missing account")
}

func TestChangesService_CursorGone(t *testing.T) {
	coord := database.NewCoordinator(dbtest.NewSQLite(t))
	ledger := repositories.NewSQLChangeLedger(coord)
	svc := NewChangesService(ledger, 200)
	ctx := context.Background()

	seedChanges(t, coord, ledger, "acc-1", 6)
	_, err := ledger.Compact(ctx, 2)
	require.NoError(t, err)

	_, err = svc.FetchChanges(ctx, "acc-1", 1, 0)

	gone, ok := models.AsCursorGone(err)
	require.True(t, ok)
	assert.Equal(t, int64(6), gone.CurrentCursor)

	current, err := svc.GetCursor(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), current.Cursor)
	assert.Equal(t, int64(4), current.ChangesFloor)
}
