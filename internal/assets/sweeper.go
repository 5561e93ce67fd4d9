package assets

import (
	"context"
	"fmt"
	"time"

	"github.com/gracechurch/publisher/internal/contentstore"
	"github.com/gracechurch/publisher/internal/logger"
)

// OrphanLedger lists and clears the assets recorded by Manager.Delete.
type OrphanLedger interface {
	OrphanRecorder
	// ListOrphans returns up to limit entries that are due, oldest first.
	ListOrphans(ctx context.Context, limit int64) ([]string, error)
	ClearOrphan(ctx context.Context, assetID string) error
	// DeferOrphan keeps the entry but hides it from ListOrphans until until.
	DeferOrphan(ctx context.Context, assetID, reason string, until time.Time) error
}

// DefaultRetryAfter is how long a failed orphan waits before the next attempt.
const DefaultRetryAfter = 10 * time.Minute

// SweepResult summarises one sweep.
type SweepResult struct {
	Attempted int `json:"attempted"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Sweeper retries deletes that failed during rollback or garbage collection.
type Sweeper struct {
	store      contentstore.AssetStore
	ledger     OrphanLedger
	batchSize  int64
	retryAfter time.Duration
	now        func() time.Time
}

// NewSweeper creates a Sweeper. Orphans whose delete fails again are retried
// after retryAfter, so they never block newer entries.
func NewSweeper(store contentstore.AssetStore, ledger OrphanLedger, batchSize int64, retryAfter time.Duration) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &Sweeper{store: store, ledger: ledger, batchSize: batchSize, retryAfter: retryAfter, now: time.Now}
}

// Sweep deletes up to one batch of due orphans. Entries that still fail stay
// in the ledger and move behind everything else until retryAfter has passed.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	ids, err := s.ledger.ListOrphans(ctx, s.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list orphans: %w", err)
	}

	log := logger.WithContext(ctx)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++

		if err := s.store.DeleteAsset(ctx, id); err != nil {
			result.Failed++
			log.Warn().Err(err).Str("asset_id", id).Msg("Orphan delete failed again")
			if derr := s.ledger.DeferOrphan(ctx, id, err.Error(), s.now().Add(s.retryAfter)); derr != nil {
				return result, fmt.Errorf("failed to defer orphan %s: %w", id, derr)
			}
			continue
		}
		if err := s.ledger.ClearOrphan(ctx, id); err != nil {
			return result, fmt.Errorf("failed to clear orphan %s: %w", id, err)
		}
		result.Deleted++
	}

	if result.Attempted > 0 {
		log.Info().
			Int("attempted", result.Attempted).
			Int("deleted", result.Deleted).
			Int("failed", result.Failed).
			Msg("Orphan sweep finished")
	}
	return result, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Get().Error().Err(err).Msg("Orphan sweep failed")
			}
		}
	}
}
