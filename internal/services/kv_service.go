package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/events"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
)

const MaxValueBytes = 64 << 10

// UpdateEmitter schedules fanout for the transaction carried in ctx.
type UpdateEmitter interface {
	EmitAfterCommit(ctx context.Context, userID string, update events.Update, filter events.RecipientFilter) error
}

type KVService struct {
	coord   *database.Coordinator
	kv      repositories.KVRepository
	ledger  repositories.ChangeLedger
	emitter UpdateEmitter
}

type MutateRequest struct {
	AccountID    string
	ConnectionID string // originating update connection, skipped by fanout
	Key          string
	Value        string
	Version      int64 // version the client last saw, 0 for a new key
	Delete       bool
}

type MutateResult struct {
	Entry  *models.KVEntry `json:"entry,omitempty"`
	Cursor int64           `json:"cursor"`
}

// kvUpdateBody is the body of a kv update pushed to live connections.
type kvUpdateBody struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Version int64  `json:"version"`
	Deleted bool   `json:"deleted,omitempty"`
}

func NewKVService(
	coord *database.Coordinator,
	kv repositories.KVRepository,
	ledger repositories.ChangeLedger,
	emitter UpdateEmitter,
) *KVService {
	return &KVService{coord: coord, kv: kv, ledger: ledger, emitter: emitter}
}

// Mutate writes or deletes one key, records the change in the ledger and
// schedules fanout, all in one transaction.
func (s *KVService) Mutate(ctx context.Context, req MutateRequest) (*MutateResult, error) {
	if err := models.ValidateID("accountId", req.AccountID); err != nil {
		return nil, err
	}
	if err := models.ValidateID("key", req.Key); err != nil {
		return nil, err
	}
	if len(req.Value) > MaxValueBytes {
		return nil, &models.ValidationError{Field: "value", Reason: fmt.Sprintf("exceeds %d bytes", MaxValueBytes)}
	}
	if req.Version < 0 {
		return nil, &models.ValidationError{Field: "version", Reason: "must not be negative"}
	}

	return database.RunMutation(ctx, s.coord, func(ctx context.Context, tx database.Tx) (*MutateResult, error) {
		// Fresh per attempt: a conflict retry must not see the previous
		// attempt's version bump.
		entry := &models.KVEntry{
			AccountID: req.AccountID,
			Key:       req.Key,
			Value:     req.Value,
			Version:   req.Version,
		}

		body := kvUpdateBody{Key: req.Key}
		if req.Delete {
			if err := s.kv.Delete(ctx, req.AccountID, req.Key, req.Version); err != nil {
				return nil, err
			}
			body.Deleted = true
			entry = nil
		} else {
			if err := s.kv.Upsert(ctx, entry); err != nil {
				return nil, err
			}
			body.Value = entry.Value
			body.Version = entry.Version
		}

		cursor, err := s.ledger.Append(ctx, req.AccountID, models.ChangeKindKV, req.Key, map[string][]string{"keys": {req.Key}})
		if err != nil {
			return nil, err
		}

		update, err := events.NewUpdate(cursor, models.ChangeKindKV, req.Key, body)
		if err != nil {
			return nil, err
		}
		if err := s.emitter.EmitAfterCommit(ctx, req.AccountID, update, events.UserScopedOnly(req.ConnectionID)); err != nil {
			return nil, err
		}

		return &MutateResult{Entry: entry, Cursor: cursor}, nil
	})
}

func (s *KVService) Get(ctx context.Context, accountID, key string) (*models.KVEntry, error) {
	if err := models.ValidateID("key", key); err != nil {
		return nil, err
	}
	return s.kv.GetByKey(ctx, accountID, key)
}

func (s *KVService) List(ctx context.Context, accountID string) ([]*models.KVEntry, error) {
	entries, err := s.kv.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.KVEntry{}
	}
	return entries, nil
}

// IsConflict reports whether err is a lost optimistic-locking race.
func IsConflict(err error) bool {
	return errors.Is(err, repositories.ErrVersionConflict) || errors.Is(err, database.ErrConflict)
}
