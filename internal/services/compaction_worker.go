package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/prudhvinik1/changesync/internal/repositories"
)

// CompactionWorker trims the change ledger on a fixed interval.
type CompactionWorker struct {
	ledger     repositories.ChangeLedger
	interval   time.Duration
	maxEntries int
	clock      clock.Clock
	logger     *slog.Logger
}

func NewCompactionWorker(ledger repositories.ChangeLedger, interval time.Duration, maxEntries int, clk clock.Clock, logger *slog.Logger) *CompactionWorker {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompactionWorker{
		ledger:     ledger,
		interval:   interval,
		maxEntries: maxEntries,
		clock:      clk,
		logger:     logger.With("module", "compaction"),
	}
}

// Run compacts once immediately and then every interval until ctx is done.
// Failed passes are logged; the next tick tries again.
func (w *CompactionWorker) Run(ctx context.Context) error {
	w.logger.Info("Compaction worker started", "interval", w.interval, "max_entries", w.maxEntries)
	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Compaction worker stopped")
			return nil
		case <-w.clock.After(w.interval):
		}
	}
}

func (w *CompactionWorker) RunOnce(ctx context.Context) *repositories.CompactionResult {
	start := w.clock.Now()
	result, err := w.ledger.Compact(ctx, w.maxEntries)
	if err != nil {
		w.logger.Error("Compaction failed", "error", err)
		return result
	}
	if result.DeletedRows > 0 {
		w.logger.Info("Compacted change ledger",
			"deleted_rows", result.DeletedRows,
			"accounts", result.AffectedAccounts,
			"duration", w.clock.Now().Sub(start),
		)
	}
	return result
}
