package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prudhvinik1/changesync/internal/models"
)

const DefaultPageLimit = 200

type ChangesFetcher interface {
	FetchChanges(ctx context.Context, after int64, limit int) (*models.ChangesResponse, error)
}

type CursorStorage interface {
	ReadCursor(accountID string) (int64, error)
	WriteCursor(accountID string, cursor int64) error
}

// Applier brings local state up to date.
type Applier interface {
	// Apply performs the refreshes in plan. changes are the entries the
	// plan was built from, in cursor order.
	Apply(ctx context.Context, plan *Plan, changes []models.ChangeEntry) error
	// Resync rebuilds local state from a full snapshot. It returns the
	// cursor the snapshot is current as of, or 0 if it cannot tell.
	Resync(ctx context.Context) (int64, error)
}

type SyncResult struct {
	From     int64
	Cursor   int64
	Applied  int
	Resynced bool
}

// Puller keeps one account's local state in step with the server's change
// ledger.
type Puller struct {
	accountID string
	fetcher   ChangesFetcher
	store     CursorStorage
	applier   Applier
	pageLimit int
	// ResyncOnFullPage treats a full page as a sign the client fell far
	// behind: a snapshot is cheaper than paging through the backlog.
	ResyncOnFullPage bool
	logger           *slog.Logger
}

func NewPuller(accountID string, fetcher ChangesFetcher, store CursorStorage, applier Applier, pageLimit int, logger *slog.Logger) *Puller {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Puller{
		accountID: accountID,
		fetcher:   fetcher,
		store:     store,
		applier:   applier,
		pageLimit: pageLimit,
		logger:    logger.With("module", "puller", "account_id", accountID),
	}
}

// SyncOnce fetches everything after the stored cursor, applying and
// persisting page by page. The cursor only moves forward after the page
// it covers was applied.
func (p *Puller) SyncOnce(ctx context.Context) (*SyncResult, error) {
	cursor, err := p.store.ReadCursor(p.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	result := &SyncResult{From: cursor, Cursor: cursor}

	for {
		resp, err := p.fetcher.FetchChanges(ctx, cursor, p.pageLimit)
		if gone, ok := models.AsCursorGone(err); ok {
			p.logger.Info("Cursor gone, resyncing", "cursor", cursor, "current_cursor", gone.CurrentCursor)
			next, err := p.resync(ctx, gone.CurrentCursor)
			if err != nil {
				return result, err
			}
			result.Cursor = next
			result.Resynced = true
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("failed to fetch changes: %w", err)
		}

		if len(resp.Changes) == 0 {
			if resp.NextCursor != cursor {
				if err := p.store.WriteCursor(p.accountID, resp.NextCursor); err != nil {
					return result, err
				}
				result.Cursor = resp.NextCursor
			}
			return result, nil
		}

		full := len(resp.Changes) >= p.pageLimit
		if full && p.ResyncOnFullPage {
			p.logger.Info("Full page of changes, resyncing", "cursor", cursor, "next_cursor", resp.NextCursor)
			next, err := p.resync(ctx, resp.NextCursor)
			if err != nil {
				return result, err
			}
			result.Cursor = next
			result.Resynced = true
			return result, nil
		}

		if err := p.applier.Apply(ctx, PlanChanges(resp.Changes), resp.Changes); err != nil {
			return result, fmt.Errorf("failed to apply changes: %w", err)
		}
		if err := p.store.WriteCursor(p.accountID, resp.NextCursor); err != nil {
			return result, err
		}
		cursor = resp.NextCursor
		result.Cursor = cursor
		result.Applied += len(resp.Changes)

		if !full {
			return result, nil
		}
	}
}

// resync drops the stored cursor, rebuilds from a snapshot and resumes from
// the snapshot's cursor, or fallback when the snapshot does not report one.
// The stored cursor stays 0 if the snapshot fails, so the next sync retries.
func (p *Puller) resync(ctx context.Context, fallback int64) (int64, error) {
	if err := p.store.WriteCursor(p.accountID, 0); err != nil {
		return 0, err
	}

	snapshot, err := p.applier.Resync(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resync: %w", err)
	}

	next := fallback
	if snapshot > 0 {
		next = snapshot
	}
	if err := p.store.WriteCursor(p.accountID, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Run syncs immediately, then on every interval tick and every hint (for
// example an update received on a live connection). Failures back off
// exponentially. It returns when ctx is done.
func (p *Puller) Run(ctx context.Context, interval time.Duration, hints <-chan struct{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = interval
	bo.MaxElapsedTime = 0

	for {
		wait := interval
		result, err := p.SyncOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return nil
		case err != nil:
			wait = bo.NextBackOff()
			p.logger.Warn("Sync failed", "error", err, "retry_in", wait)
		default:
			bo.Reset()
			if result.Applied > 0 || result.Resynced {
				p.logger.Debug("Synced", "from", result.From, "cursor", result.Cursor, "applied", result.Applied, "resynced", result.Resynced)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-hints:
			timer.Stop()
		case <-timer.C:
		}
	}
}
