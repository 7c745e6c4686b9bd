package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL, "token-1", nil, WithRetries(2, time.Millisecond, 5*time.Millisecond))
}

func TestAPIClient_FetchChanges(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/changes", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("after"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"changes":[{"cursor":8,"kind":"kv","entityId":"theme","changedAt":1,"hint":{"keys":["theme"]}}],"nextCursor":8}`))
	})

	resp, err := client.FetchChanges(context.Background(), 7, 50)

	require.NoError(t, err)
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, int64(8), resp.NextCursor)
	assert.Equal(t, models.ChangeKindKV, resp.Changes[0].Kind)
	assert.JSONEq(t, `{"keys":["theme"]}`, string(resp.Changes[0].Hint))
}

func TestAPIClient_CursorGone(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte(`{"error":"cursor-gone","currentCursor":42}`))
	})

	_, err := client.FetchChanges(context.Background(), 3, 0)

	gone, ok := models.AsCursorGone(err)
	require.True(t, ok, "expected cursor gone, got %v", err)
	assert.Equal(t, int64(42), gone.CurrentCursor)
}

func TestAPIClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"shutting down"}`))
			return
		}
		json.NewEncoder(w).Encode(CursorInfo{Cursor: 9, ChangesFloor: 2})
	})

	info, err := client.GetCursor(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Cursor)
	assert.Equal(t, int64(2), info.ChangesFloor)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"conflict"}`))
	})

	_, err := client.PutKV(context.Background(), "theme", "dark", 1)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "conflict", apiErr.Code)
}

func TestAPIClient_PutKVSendsBody(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v2/kv/theme", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dark", body["value"])
		assert.EqualValues(t, 0, body["version"])
		w.Write([]byte(`{"entry":{"key":"theme","value":"dark","version":1},"cursor":5}`))
	})

	result, err := client.PutKV(context.Background(), "theme", "dark", 0)

	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Cursor)
	require.NotNil(t, result.Entry)
	assert.Equal(t, int64(1), result.Entry.Version)
}
