package client

import (
	"encoding/json"
	"sort"

	"github.com/prudhvinik1/changesync/internal/models"
)

type KVActionType string

const (
	KVActionNone    KVActionType = "none"
	KVActionRefresh KVActionType = "refresh"
	KVActionKeys    KVActionType = "keys"
)

type KVAction struct {
	Type KVActionType
	Keys []string
}

type Invalidations struct {
	Sessions  bool
	Machines  bool
	Artifacts bool
	Settings  bool
	Profile   bool
	Friends   bool
	Feed      bool
}

// Plan is the set of refreshes a batch of changes calls for.
type Plan struct {
	SessionIDs []string
	Invalidate Invalidations
	KV         KVAction
}

func (p *Plan) Empty() bool {
	return len(p.SessionIDs) == 0 && p.Invalidate == (Invalidations{}) && p.KV.Type == KVActionNone
}

type kvHint struct {
	Full bool     `json:"full"`
	Keys []string `json:"keys"`
}

// PlanChanges folds changes into refresh actions. A kv hint that cannot be
// read means the whole store is refreshed; unknown kinds refresh sessions.
func PlanChanges(changes []models.ChangeEntry) *Plan {
	plan := &Plan{}
	sessionIDs := make(map[string]struct{})
	kvKeys := make(map[string]struct{})
	kvFull := false

	for _, change := range changes {
		switch change.Kind {
		case models.ChangeKindSession, models.ChangeKindShare:
			plan.Invalidate.Sessions = true
			if change.EntityID != "" {
				sessionIDs[change.EntityID] = struct{}{}
			}
		case models.ChangeKindAccount:
			plan.Invalidate.Settings = true
			plan.Invalidate.Profile = true
		case models.ChangeKindMachine:
			plan.Invalidate.Machines = true
		case models.ChangeKindArtifact:
			plan.Invalidate.Artifacts = true
		case models.ChangeKindFriends, models.ChangeKindFriendRequest, models.ChangeKindFriendAccepted:
			plan.Invalidate.Friends = true
		case models.ChangeKindFeed:
			plan.Invalidate.Feed = true
		case models.ChangeKindKV:
			var hint kvHint
			if len(change.Hint) == 0 || json.Unmarshal(change.Hint, &hint) != nil || hint.Full || hint.Keys == nil {
				kvFull = true
				continue
			}
			for _, key := range hint.Keys {
				if key != "" {
					kvKeys[key] = struct{}{}
				}
			}
		default:
			plan.Invalidate.Sessions = true
		}
	}

	plan.SessionIDs = sortedKeys(sessionIDs)
	switch {
	case kvFull:
		plan.KV = KVAction{Type: KVActionRefresh}
	case len(kvKeys) > 0:
		plan.KV = KVAction{Type: KVActionKeys, Keys: sortedKeys(kvKeys)}
	default:
		plan.KV = KVAction{Type: KVActionNone}
	}
	return plan
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
