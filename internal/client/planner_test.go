package client

import (
	"encoding/json"
	"testing"

	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/stretchr/testify/assert"
)

func change(kind models.ChangeKind, entityID, hint string) models.ChangeEntry {
	entry := models.ChangeEntry{Kind: kind, EntityID: entityID}
	if hint != "" {
		entry.Hint = json.RawMessage(hint)
	}
	return entry
}

func TestPlanChanges(t *testing.T) {
	tests := []struct {
		name    string
		changes []models.ChangeEntry
		check   func(t *testing.T, plan *Plan)
	}{
		{
			name:    "empty",
			changes: nil,
			check: func(t *testing.T, plan *Plan) {
				assert.True(t, plan.Empty())
				assert.Equal(t, KVActionNone, plan.KV.Type)
			},
		},
		{
			name: "sessions and shares collect ids",
			changes: []models.ChangeEntry{
				change(models.ChangeKindSession, "s2", ""),
				change(models.ChangeKindShare, "s1", ""),
				change(models.ChangeKindSession, "s2", ""),
			},
			check: func(t *testing.T, plan *Plan) {
				assert.True(t, plan.Invalidate.Sessions)
				assert.Equal(t, []string{"s1", "s2"}, plan.SessionIDs)
			},
		},
		{
			name:    "account refreshes settings and profile",
			changes: []models.ChangeEntry{change(models.ChangeKindAccount, "alice", "")},
			check: func(t *testing.T, plan *Plan) {
				assert.True(t, plan.Invalidate.Settings)
				assert.True(t, plan.Invalidate.Profile)
				assert.False(t, plan.Invalidate.Sessions)
			},
		},
		{
			name: "friend kinds",
			changes: []models.ChangeEntry{
				change(models.ChangeKindFriendRequest, "bob", ""),
				change(models.ChangeKindFriendAccepted, "carol", ""),
			},
			check: func(t *testing.T, plan *Plan) {
				assert.True(t, plan.Invalidate.Friends)
			},
		},
		{
			name: "machine artifact feed",
			changes: []models.ChangeEntry{
				change(models.ChangeKindMachine, "m1", ""),
				change(models.ChangeKindArtifact, "a1", ""),
				change(models.ChangeKindFeed, "f1", ""),
			},
			check: func(t *testing.T, plan *Plan) {
				assert.Equal(t, Invalidations{Machines: true, Artifacts: true, Feed: true}, plan.Invalidate)
			},
		},
		{
			name: "kv keys merge and sort",
			changes: []models.ChangeEntry{
				change(models.ChangeKindKV, "b", `{"keys":["b"]}`),
				change(models.ChangeKindKV, "a", `{"keys":["a","b"]}`),
			},
			check: func(t *testing.T, plan *Plan) {
				assert.Equal(t, KVAction{Type: KVActionKeys, Keys: []string{"a", "b"}}, plan.KV)
			},
		},
		{
			name: "kv full hint wins",
			changes: []models.ChangeEntry{
				change(models.ChangeKindKV, "a", `{"keys":["a"]}`),
				change(models.ChangeKindKV, "*", `{"full":true}`),
			},
			check: func(t *testing.T, plan *Plan) {
				assert.Equal(t, KVActionRefresh, plan.KV.Type)
				assert.Empty(t, plan.KV.Keys)
			},
		},
		{
			name:    "kv missing hint refreshes",
			changes: []models.ChangeEntry{change(models.ChangeKindKV, "a", "")},
			check: func(t *testing.T, plan *Plan) {
				assert.Equal(t, KVActionRefresh, plan.KV.Type)
			},
		},
		{
			name:    "kv unreadable hint refreshes",
			changes: []models.ChangeEntry{change(models.ChangeKindKV, "a", `["a"]`)},
			check: func(t *testing.T, plan *Plan) {
				assert.Equal(t, KVActionRefresh, plan.KV.Type)
			},
		},
		{
			name:    "unknown kind refreshes sessions",
			changes: []models.ChangeEntry{change("mystery", "x", "")},
			check: func(t *testing.T, plan *Plan) {
				assert.True(t, plan.Invalidate.Sessions)
				assert.Empty(t, plan.SessionIDs)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, PlanChanges(tt.changes))
		})
	}
}
