package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger serves cursors 1..latest with entries below floor gone.
type fakeLedger struct {
	latest int64
	floor  int64
	calls  []int64
	err    error
}

func (f *fakeLedger) FetchChanges(_ context.Context, after int64, limit int) (*models.ChangesResponse, error) {
	f.calls = append(f.calls, after)
	if f.err != nil {
		return nil, f.err
	}
	if after < f.floor || after > f.latest {
		return nil, &models.CursorGoneError{CurrentCursor: f.latest}
	}
	resp := &models.ChangesResponse{Changes: []models.ChangeEntry{}, NextCursor: after}
	for c := after + 1; c <= f.latest && len(resp.Changes) < limit; c++ {
		resp.Changes = append(resp.Changes, models.ChangeEntry{
			Cursor:   c,
			Kind:     models.ChangeKindKV,
			EntityID: fmt.Sprintf("k%d", c),
			Hint:     []byte(fmt.Sprintf(`{"keys":["k%d"]}`, c)),
		})
		resp.NextCursor = c
	}
	return resp, nil
}

type recordingApplier struct {
	plans     []*Plan
	applied   []int64
	resyncs   int
	snapshot  int64
	applyErr  error
	resyncErr error
}

func (r *recordingApplier) Apply(_ context.Context, plan *Plan, changes []models.ChangeEntry) error {
	if r.applyErr != nil {
		return r.applyErr
	}
	r.plans = append(r.plans, plan)
	for _, c := range changes {
		r.applied = append(r.applied, c.Cursor)
	}
	return nil
}

func (r *recordingApplier) Resync(context.Context) (int64, error) {
	r.resyncs++
	return r.snapshot, r.resyncErr
}

func newTestPuller(t *testing.T, ledger *fakeLedger, applier *recordingApplier, pageLimit int) (*Puller, *CursorStore) {
	t.Helper()
	store := NewCursorStore(filepath.Join(t.TempDir(), "settings.json"))
	return NewPuller("alice", ledger, store, applier, pageLimit, nil), store
}

func TestPuller_PagesUntilShortPage(t *testing.T) {
	ledger := &fakeLedger{latest: 5}
	applier := &recordingApplier{}
	puller, store := newTestPuller(t, ledger, applier, 2)

	result, err := puller.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Cursor)
	assert.Equal(t, 5, result.Applied)
	assert.False(t, result.Resynced)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, applier.applied)
	assert.Equal(t, []int64{0, 2, 4}, ledger.calls)
	assert.Len(t, applier.plans, 3)

	stored, err := store.ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored)
}

func TestPuller_FullFinalPageFetchesOnceMore(t *testing.T) {
	ledger := &fakeLedger{latest: 4}
	applier := &recordingApplier{}
	puller, _ := newTestPuller(t, ledger, applier, 2)

	result, err := puller.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Cursor)
	assert.Equal(t, []int64{0, 2, 4}, ledger.calls)
}

func TestPuller_UpToDate(t *testing.T) {
	ledger := &fakeLedger{latest: 3}
	applier := &recordingApplier{}
	puller, store := newTestPuller(t, ledger, applier, 10)
	require.NoError(t, store.WriteCursor("alice", 3))

	result, err := puller.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Empty(t, applier.plans)
	assert.Equal(t, int64(3), result.Cursor)
}

func TestPuller_CursorGoneResyncs(t *testing.T) {
	ledger := &fakeLedger{latest: 40, floor: 20}
	applier := &recordingApplier{snapshot: 41}
	puller, store := newTestPuller(t, ledger, applier, 10)
	require.NoError(t, store.WriteCursor("alice", 12))

	result, err := puller.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, result.Resynced)
	assert.Equal(t, 1, applier.resyncs)
	assert.Equal(t, int64(41), result.Cursor)
	assert.Empty(t, applier.applied)

	stored, err := store.ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(41), stored)
}

func TestPuller_CursorGoneFallsBackToCurrentCursor(t *testing.T) {
	ledger := &fakeLedger{latest: 40, floor: 20}
	applier := &recordingApplier{}
	puller, store := newTestPuller(t, ledger, applier, 10)
	require.NoError(t, store.WriteCursor("alice", 12))

	result, err := puller.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(40), result.Cursor)
}

func TestPuller_FailedResyncLeavesCursorCleared(t *testing.T) {
	ledger := &fakeLedger{latest: 40, floor: 20}
	applier := &recordingApplier{resyncErr: errors.New("offline")}
	puller, store := newTestPuller(t, ledger, applier, 10)
	require.NoError(t, store.WriteCursor("alice", 12))

	_, err := puller.SyncOnce(context.Background())

	require.Error(t, err)
	stored, err := store.ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored)
}

func TestPuller_ResyncOnFullPage(t *testing.T) {
	ledger := &fakeLedger{latest: 50}
	applier := &recordingApplier{}
	puller, _ := newTestPuller(t, ledger, applier, 10)
	puller.ResyncOnFullPage = true

	result, err := puller.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, result.Resynced)
	assert.Equal(t, int64(10), result.Cursor)
	assert.Empty(t, applier.applied)
}

func TestPuller_ApplyFailureKeepsCursor(t *testing.T) {
	ledger := &fakeLedger{latest: 3}
	applier := &recordingApplier{applyErr: errors.New("disk full")}
	puller, store := newTestPuller(t, ledger, applier, 10)
	require.NoError(t, store.WriteCursor("alice", 1))

	_, err := puller.SyncOnce(context.Background())

	require.Error(t, err)
	stored, err := store.ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)
}

func TestPuller_RunSyncsOnHint(t *testing.T) {
	ledger := &fakeLedger{latest: 1}
	applier := &recordingApplier{}
	puller, store := newTestPuller(t, ledger, applier, 10)

	ctx, cancel := context.WithCancel(context.Background())
	hints := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- puller.Run(ctx, time.Hour, hints) }()

	require.Eventually(t, func() bool {
		c, _ := store.ReadCursor("alice")
		return c == 1
	}, 2*time.Second, 10*time.Millisecond)

	ledger.latest = 2
	hints <- struct{}{}

	require.Eventually(t, func() bool {
		c, _ := store.ReadCursor("alice")
		return c == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
