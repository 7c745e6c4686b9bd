package database_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/database/dbtest"
	"github.com/prudhvinik1/changesync/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records Begin calls so tests can assert on physical
// transactions and the options passed to them.
type fakeBackend struct {
	caps      database.Capabilities
	begins    []*database.TxOptions
	commits   int
	rollbacks int
	commitErr error
}

func (b *fakeBackend) Name() string                        { return "fake" }
func (b *fakeBackend) Capabilities() database.Capabilities { return b.caps }
func (b *fakeBackend) Migrate(context.Context) error       { return nil }
func (b *fakeBackend) Ping(context.Context) error          { return nil }
func (b *fakeBackend) Close()                              {}

func (b *fakeBackend) ClassifyError(err error) error { return err }

func (b *fakeBackend) Begin(_ context.Context, opts *database.TxOptions) (database.Tx, error) {
	b.begins = append(b.begins, opts)
	return &fakeTx{backend: b}, nil
}

type fakeTx struct {
	backend *fakeBackend
}

func (t *fakeTx) Exec(context.Context, string, ...any) (int64, error) { return 0, nil }
func (t *fakeTx) QueryRow(context.Context, string, ...any) database.Row {
	return nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (database.Rows, error) {
	return nil, nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.backend.commitErr != nil {
		return t.backend.commitErr
	}
	t.backend.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.backend.rollbacks++
	return nil
}

func newFastCoordinator(backend database.Backend, opts ...database.CoordinatorOption) *database.Coordinator {
	opts = append([]database.CoordinatorOption{database.WithRetryDelay(time.Millisecond)}, opts...)
	return database.NewCoordinator(backend, opts...)
}

func TestCoordinator_RequestsSerializableWhenSupported(t *testing.T) {
	backend := &fakeBackend{caps: database.Capabilities{SupportsIsolationLevels: true}}
	coord := newFastCoordinator(backend)

	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		return nil
	})

	require.NoError(t, err)
	require.Len(t, backend.begins, 1)
	require.NotNil(t, backend.begins[0])
	assert.Equal(t, database.IsolationSerializable, backend.begins[0].Isolation)
}

func TestCoordinator_SkipsIsolationWhenUnsupported(t *testing.T) {
	backend := &fakeBackend{caps: database.Capabilities{SupportsIsolationLevels: false}}
	coord := newFastCoordinator(backend)

	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		return nil
	})

	require.NoError(t, err)
	require.Len(t, backend.begins, 1)
	assert.Nil(t, backend.begins[0], "no isolation option for a fixed-isolation backend")
}

func TestCoordinator_HooksRunInOrderAfterCommit(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend)

	var order []string
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		require.NoError(t, database.OnCommit(ctx, func(context.Context) {
			assert.Equal(t, 1, backend.commits, "hook must run after commit")
			order = append(order, "first")
		}))
		require.NoError(t, database.OnCommit(ctx, func(context.Context) {
			order = append(order, "second")
		}))
		assert.Empty(t, order, "hooks must not run before commit")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestCoordinator_ErrorRollsBackAndSkipsHooks(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend)
	boom := errors.New("boom")

	ran := false
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		require.NoError(t, database.OnCommit(ctx, func(context.Context) { ran = true }))
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, ran, "hooks are discarded on rollback")
	assert.Equal(t, 1, backend.rollbacks)
	assert.Equal(t, 0, backend.commits)
}

func TestCoordinator_NestedCallsReuseTransaction(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend)

	var order []string
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, outer database.Tx) error {
		return coord.WithTransaction(ctx, func(ctx context.Context, inner database.Tx) error {
			assert.Same(t, outer, inner)
			return database.OnCommit(ctx, func(context.Context) { order = append(order, "inner") })
		})
	})

	require.NoError(t, err)
	assert.Len(t, backend.begins, 1, "one physical transaction per call chain")
	assert.Equal(t, []string{"inner"}, order)
}

func TestCoordinator_NestedErrorAbortsOuter(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend)
	boom := errors.New("inner failed")

	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		return coord.WithTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
			return boom
		})
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.commits)
}

func TestCoordinator_RetriesConflicts(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend, database.WithMaxRetries(3))

	attempts := 0
	hookRuns := 0
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		attempts++
		require.NoError(t, database.OnCommit(ctx, func(context.Context) { hookRuns++ }))
		if attempts < 3 {
			return fmt.Errorf("%w: serialization failure", database.ErrConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, hookRuns, "hooks from failed attempts are dropped")
}

func TestCoordinator_ConflictSurfacesAfterRetries(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend, database.WithMaxRetries(2))

	attempts := 0
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		attempts++
		return fmt.Errorf("%w: deadlock", database.ErrConflict)
	})

	require.ErrorIs(t, err, database.ErrConflict)
	assert.Equal(t, 3, attempts)
}

func TestCoordinator_CommitFailureIsStorageUnavailable(t *testing.T) {
	backend := &fakeBackend{commitErr: errors.New("connection reset")}
	coord := newFastCoordinator(backend)

	ran := false
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		return database.OnCommit(ctx, func(context.Context) { ran = true })
	})

	require.ErrorIs(t, err, database.ErrStorageUnavailable)
	assert.False(t, ran)
}

func TestCoordinator_RefusesAfterShutdown(t *testing.T) {
	backend := &fakeBackend{}
	life := lifecycle.New(nil)
	coord := newFastCoordinator(backend, database.WithLifecycle(life))
	life.InitiateShutdown("test")

	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		return nil
	})

	require.ErrorIs(t, err, lifecycle.ErrShutdownInProgress)
	assert.Empty(t, backend.begins)

	// Reads keep working while the process drains.
	err = coord.View(context.Background(), func(ctx context.Context, tx database.Tx) error { return nil })
	require.NoError(t, err)
}

func TestCoordinator_InflightMutationFinishesDuringShutdown(t *testing.T) {
	backend := &fakeBackend{}
	life := lifecycle.New(nil)
	coord := newFastCoordinator(backend, database.WithLifecycle(life))

	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		life.InitiateShutdown("mid-flight")
		// Nested work joins the running transaction instead of being refused.
		return coord.WithTransaction(ctx, func(ctx context.Context, tx database.Tx) error { return nil })
	})

	require.NoError(t, err)
	assert.Equal(t, 1, backend.commits)
}

func TestCoordinator_OnCommitOutsideTransaction(t *testing.T) {
	err := database.OnCommit(context.Background(), func(context.Context) {})

	require.ErrorIs(t, err, database.ErrNoTransaction)
}

func TestCoordinator_HookPanicDoesNotStopLaterHooks(t *testing.T) {
	backend := &fakeBackend{}
	coord := newFastCoordinator(backend)

	second := false
	err := coord.WithTransaction(context.Background(), func(ctx context.Context, tx database.Tx) error {
		_ = database.OnCommit(ctx, func(context.Context) { panic("hook exploded") })
		_ = database.OnCommit(ctx, func(context.Context) { second = true })
		return nil
	})

	require.NoError(t, err)
	assert.True(t, second)
}

func TestRunMutation_ReturnsValue(t *testing.T) {
	coord := newFastCoordinator(dbtest.NewSQLite(t))

	got, err := database.RunMutation(context.Background(), coord, func(ctx context.Context, tx database.Tx) (int64, error) {
		var n int64
		err := tx.QueryRow(ctx, "SELECT 41 + 1").Scan(&n)
		return n, err
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestCoordinator_SQLiteRollbackDiscardsWrites(t *testing.T) {
	backend := dbtest.NewSQLite(t)
	coord := newFastCoordinator(backend)
	ctx := context.Background()

	err := coord.WithTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO account_cursors (account_id, seq) VALUES ($1, $2)", "acc-1", 5)
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int
	err = coord.View(ctx, func(ctx context.Context, tx database.Tx) error {
		return tx.QueryRow(ctx, "SELECT COUNT(*) FROM account_cursors").Scan(&count)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLiteBackend_ClassifiesUniqueViolationAsConflict(t *testing.T) {
	backend := dbtest.NewSQLite(t)
	coord := newFastCoordinator(backend, database.WithMaxRetries(0))
	ctx := context.Background()

	insert := func(ctx context.Context, tx database.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO account_cursors (account_id, seq) VALUES ($1, $2)", "acc-1", 1)
		return err
	}
	require.NoError(t, coord.WithTransaction(ctx, insert))

	err := coord.WithTransaction(ctx, insert)

	require.ErrorIs(t, err, database.ErrConflict)
}
