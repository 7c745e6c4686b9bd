package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/metrics"
	"github.com/prudhvinik1/changesync/internal/models"
)

const (
	DefaultPageLimit = 200
	MaxPageLimit     = 500

	// maxHintKeys bounds a "keys" hint; larger hints degrade to {"full":true}.
	maxHintKeys = 200
)

var fullRefreshHint = json.RawMessage(`{"full":true}`)

type CompactionResult struct {
	DeletedRows      int64
	AffectedAccounts int
}

// SQLChangeLedger is the per-account change log. Appends run inside the
// caller's transaction; reads open their own read-only one.
type SQLChangeLedger struct {
	coord *database.Coordinator
	now   func() time.Time
}

func NewSQLChangeLedger(coord *database.Coordinator) *SQLChangeLedger {
	return &SQLChangeLedger{coord: coord, now: time.Now}
}

// Append records a change and returns its cursor. It must be called with a
// context carrying an active transaction: the cursor counter is incremented
// in that transaction, so concurrent writers for one account serialize on
// the counter row and a rollback also rolls the counter back.
func (l *SQLChangeLedger) Append(ctx context.Context, accountID string, kind models.ChangeKind, entityID string, hint any) (int64, error) {
	if err := models.ValidateID("accountId", accountID); err != nil {
		return 0, err
	}
	if err := models.ValidateID("entityId", entityID); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown change kind %q", kind)}
	}

	tx, ok := database.TxFrom(ctx)
	if !ok {
		return 0, fmt.Errorf("append change: %w", database.ErrNoTransaction)
	}

	compacted, err := compactHint(hint)
	if err != nil {
		return 0, err
	}

	var cursor int64
	err = tx.QueryRow(ctx, `INSERT INTO account_cursors (account_id, seq)
	          VALUES ($1, 1)
	          ON CONFLICT (account_id) DO UPDATE SET seq = account_cursors.seq + 1
	          RETURNING seq`, accountID).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate cursor: %w", err)
	}

	var hintText *string
	if compacted != nil {
		s := string(compacted)
		hintText = &s
	}

	_, err = tx.Exec(ctx, `INSERT INTO account_changes (account_id, cursor, kind, entity_id, changed_at, hint)
	          VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID,
		cursor,
		string(kind),
		entityID,
		l.now().UnixMilli(),
		hintText,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append change: %w", err)
	}

	metrics.ChangesAppended.WithLabelValues(string(kind)).Inc()
	return cursor, nil
}

// Query returns entries with cursor > since in ascending order, at most
// limit of them. A cursor below the compaction floor, or above the current
// cursor, yields *models.CursorGoneError instead of a partial list.
func (l *SQLChangeLedger) Query(ctx context.Context, accountID string, since int64, limit int) (*models.ChangesResponse, error) {
	if err := models.ValidateID("accountId", accountID); err != nil {
		return nil, err
	}
	if err := models.ValidateCursor(since); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	resp := &models.ChangesResponse{Changes: []models.ChangeEntry{}, NextCursor: since}

	err := l.coord.View(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := readAccountCursor(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if since > current.Cursor || since < current.ChangesFloor {
			return &models.CursorGoneError{CurrentCursor: current.Cursor}
		}

		rows, err := tx.Query(ctx, `SELECT cursor, kind, entity_id, changed_at, hint
		          FROM account_changes
		          WHERE account_id = $1 AND cursor > $2
		          ORDER BY cursor ASC
		          LIMIT $3`, accountID, since, limit)
		if err != nil {
			return fmt.Errorf("failed to query changes: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				entry models.ChangeEntry
				kind  string
				hint  *string
			)
			if err := rows.Scan(&entry.Cursor, &kind, &entry.EntityID, &entry.ChangedAt, &hint); err != nil {
				return fmt.Errorf("failed to scan change: %w", err)
			}
			entry.Kind = models.ChangeKind(kind)
			if hint != nil {
				entry.Hint = json.RawMessage(*hint)
			}
			resp.Changes = append(resp.Changes, entry)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating changes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if n := len(resp.Changes); n > 0 {
		resp.NextCursor = resp.Changes[n-1].Cursor
	}
	return resp, nil
}

// CurrentCursor returns the account's latest cursor and compaction floor.
// Accounts that never changed report zeros.
func (l *SQLChangeLedger) CurrentCursor(ctx context.Context, accountID string) (*models.AccountCursor, error) {
	if err := models.ValidateID("accountId", accountID); err != nil {
		return nil, err
	}

	var current *models.AccountCursor
	err := l.coord.View(ctx, func(ctx context.Context, tx database.Tx) error {
		var err error
		current, err = readAccountCursor(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

// Compact keeps at most maxEntries entries per account. Discarded cursors
// raise the account's floor in the same transaction, so readers behind the
// floor get CursorGone instead of a list with a hole in it.
func (l *SQLChangeLedger) Compact(ctx context.Context, maxEntries int) (*CompactionResult, error) {
	if maxEntries < 1 {
		return nil, &models.ValidationError{Field: "maxEntries", Reason: "must be positive"}
	}

	type candidate struct {
		accountID string
		threshold int64
	}
	var candidates []candidate

	err := l.coord.View(ctx, func(ctx context.Context, tx database.Tx) error {
		rows, err := tx.Query(ctx, `SELECT account_id, seq
		          FROM account_cursors
		          WHERE seq - changes_floor > $1`, maxEntries)
		if err != nil {
			return fmt.Errorf("failed to find accounts to compact: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var c candidate
			var seq int64
			if err := rows.Scan(&c.accountID, &seq); err != nil {
				return fmt.Errorf("failed to scan account cursor: %w", err)
			}
			c.threshold = seq - int64(maxEntries)
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	result := &CompactionResult{}
	for _, c := range candidates {
		deleted, err := database.RunMutation(ctx, l.coord, func(ctx context.Context, tx database.Tx) (int64, error) {
			return compactAccount(ctx, tx, c.accountID, c.threshold)
		})
		if err != nil {
			return result, fmt.Errorf("failed to compact account %s: %w", c.accountID, err)
		}
		if deleted > 0 {
			result.DeletedRows += deleted
			result.AffectedAccounts++
		}
	}

	metrics.CompactedEntries.Add(float64(result.DeletedRows))
	return result, nil
}

func compactAccount(ctx context.Context, tx database.Tx, accountID string, threshold int64) (int64, error) {
	deleted, err := tx.Exec(ctx, `DELETE FROM account_changes
	          WHERE account_id = $1 AND cursor <= $2`, accountID, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete changes: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE account_cursors
	          SET changes_floor = $2
	          WHERE account_id = $1 AND changes_floor < $2`, accountID, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to raise changes floor: %w", err)
	}
	return deleted, nil
}

func readAccountCursor(ctx context.Context, tx database.Tx, accountID string) (*models.AccountCursor, error) {
	current := &models.AccountCursor{AccountID: accountID}
	err := tx.QueryRow(ctx, `SELECT seq, changes_floor FROM account_cursors WHERE account_id = $1`, accountID).
		Scan(&current.Cursor, &current.ChangesFloor)
	if isNoRows(err) {
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account cursor: %w", err)
	}
	return current, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// compactHint normalizes a hint to raw JSON. A "keys" list is cleaned and
// capped; if anything had to be dropped the hint becomes a full refresh so
// a client never applies a partial key set.
func compactHint(hint any) (json.RawMessage, error) {
	var raw []byte
	switch h := hint.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = h
	case []byte:
		raw = h
	default:
		encoded, err := json.Marshal(h)
		if err != nil {
			return nil, &models.ValidationError{Field: "hint", Reason: err.Error()}
		}
		raw = encoded
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, &models.ValidationError{Field: "hint", Reason: "is not valid JSON"}
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(raw, &record); err != nil {
		// Not an object; keep as-is.
		return json.RawMessage(raw), nil
	}

	keysRaw, ok := record["keys"]
	if !ok {
		return json.RawMessage(raw), nil
	}
	var keys []any
	if err := json.Unmarshal(keysRaw, &keys); err != nil {
		return json.RawMessage(raw), nil
	}

	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		s, ok := k.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		cleaned = append(cleaned, s)
	}
	if len(cleaned) > maxHintKeys {
		cleaned = cleaned[:maxHintKeys]
	}
	if len(cleaned) != len(keys) {
		return fullRefreshHint, nil
	}

	encodedKeys, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}
	record["keys"] = encodedKeys
	out, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// isNoRows matches both drivers' "no rows" sentinels.
func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgxNoRows) || errors.Is(err, sqlNoRows)
}
