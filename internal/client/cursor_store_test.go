package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *CursorStore {
	t.Helper()
	return NewCursorStore(filepath.Join(t.TempDir(), "settings", "settings.json"))
}

func readSettings(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var settings map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &settings))
	return settings
}

func TestCursorStore_MissingFileReadsZero(t *testing.T) {
	store := newTestStore(t)

	cursor, err := store.ReadCursor("alice")

	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
}

func TestCursorStore_WriteAndRead(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteCursor("alice", 12))
	require.NoError(t, store.WriteCursor("bob", 3))

	cursor, err := store.ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(12), cursor)

	reopened := NewCursorStore(store.Path())
	cursor, err = reopened.ReadCursor("bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)
}

func TestCursorStore_ZeroRemovesRecordAndKeepsOtherSettings(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"theme":"dark","lastChangesCursorByAccountId":{"alice":12}}`), 0o600))

	require.NoError(t, store.WriteCursor("alice", 0))

	settings := readSettings(t, store.Path())
	assert.JSONEq(t, `"dark"`, string(settings["theme"]))
	_, ok := settings[cursorsSettingsKey]
	assert.False(t, ok, "empty cursor map should be dropped")

	cursor, err := store.ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
}

func TestCursorStore_ZeroKeepsOtherAccounts(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.WriteCursor("alice", 12))
	require.NoError(t, store.WriteCursor("bob", 7))

	require.NoError(t, store.WriteCursor("alice", 0))

	settings := readSettings(t, store.Path())
	assert.JSONEq(t, `{"bob":7}`, string(settings[cursorsSettingsKey]))
}

func TestCursorStore_RejectsBadInput(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.WriteCursor("", 1))
	assert.Error(t, store.WriteCursor("alice", -1))
}

func TestCursorStore_CorruptFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{not json`), 0o600))

	_, err := store.ReadCursor("alice")

	assert.Error(t, err)
}
