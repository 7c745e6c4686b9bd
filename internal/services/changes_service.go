package services

import (
	"context"
	"fmt"

	"github.com/prudhvinik1/changesync/internal/metrics"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
)

// ChangesService answers catch-up requests against the change ledger.
type ChangesService struct {
	ledger    repositories.ChangeLedger
	pageLimit int
}

func NewChangesService(ledger repositories.ChangeLedger, pageLimit int) *ChangesService {
	if pageLimit <= 0 || pageLimit > repositories.MaxPageLimit {
		pageLimit = repositories.DefaultPageLimit
	}
	return &ChangesService{ledger: ledger, pageLimit: pageLimit}
}

// FetchChanges returns entries after the given cursor. A zero limit means
// the configured page size.
func (s *ChangesService) FetchChanges(ctx context.Context, accountID string, after int64, limit int) (*models.ChangesResponse, error) {
	if err := models.ValidateID("accountId", accountID); err != nil {
		metrics.ChangesRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := models.ValidateCursor(after); err != nil {
		metrics.ChangesRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if limit < 0 || limit > repositories.MaxPageLimit {
		metrics.ChangesRequests.WithLabelValues("invalid").Inc()
		return nil, &models.ValidationError{
			Field:  "limit",
			Reason: fmt.Sprintf("must be between 1 and %d", repositories.MaxPageLimit),
		}
	}
	if limit == 0 {
		limit = s.pageLimit
	}

	resp, err := s.ledger.Query(ctx, accountID, after, limit)
	if err != nil {
		if _, ok := models.AsCursorGone(err); ok {
			metrics.ChangesRequests.WithLabelValues("cursor-gone").Inc()
		} else {
			metrics.ChangesRequests.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.ChangesRequests.WithLabelValues("ok").Inc()
	metrics.ChangesReturned.Add(float64(len(resp.Changes)))
	return resp, nil
}

func (s *ChangesService) GetCursor(ctx context.Context, accountID string) (*models.AccountCursor, error) {
	return s.ledger.CurrentCursor(ctx, accountID)
}
