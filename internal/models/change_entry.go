package models

import (
	"encoding/json"
	"fmt"
)

type ChangeKind string

const (
	ChangeKindAccount        ChangeKind = "account"
	ChangeKindArtifact       ChangeKind = "artifact"
	ChangeKindFeed           ChangeKind = "feed"
	ChangeKindFriends        ChangeKind = "friends"
	ChangeKindFriendRequest  ChangeKind = "friend_request"
	ChangeKindFriendAccepted ChangeKind = "friend_accepted"
	ChangeKindKV             ChangeKind = "kv"
	ChangeKindMachine        ChangeKind = "machine"
	ChangeKindSession        ChangeKind = "session"
	ChangeKindShare          ChangeKind = "share"
)

var changeKinds = map[ChangeKind]struct{}{
	ChangeKindAccount:        {},
	ChangeKindArtifact:       {},
	ChangeKindFeed:           {},
	ChangeKindFriends:        {},
	ChangeKindFriendRequest:  {},
	ChangeKindFriendAccepted: {},
	ChangeKindKV:             {},
	ChangeKindMachine:        {},
	ChangeKindSession:        {},
	ChangeKindShare:          {},
}

func (k ChangeKind) Valid() bool {
	_, ok := changeKinds[k]
	return ok
}

func ParseChangeKind(s string) (ChangeKind, error) {
	kind := ChangeKind(s)
	if !kind.Valid() {
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown change kind %q", s)}
	}
	return kind, nil
}

// ChangeEntry is one row of an account's change stream.
// Hint is raw JSON; nil encodes as null.
type ChangeEntry struct {
	Cursor    int64           `json:"cursor"`
	Kind      ChangeKind      `json:"kind"`
	EntityID  string          `json:"entityId"`
	ChangedAt int64           `json:"changedAt"`
	Hint      json.RawMessage `json:"hint"`
}

type ChangesResponse struct {
	Changes    []ChangeEntry `json:"changes"`
	NextCursor int64         `json:"nextCursor"`
}

// AccountCursor is the per-account counter row. ChangesFloor is the highest
// cursor discarded by compaction; readers behind it must resync.
type AccountCursor struct {
	AccountID    string `json:"-"`
	Cursor       int64  `json:"cursor"`
	ChangesFloor int64  `json:"changesFloor"`
}
