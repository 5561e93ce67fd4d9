// Package assets uploads and deletes article images and keeps track of the
// deletes that failed.
package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gracechurch/publisher/internal/contentstore"
	"github.com/gracechurch/publisher/internal/domain"
	"github.com/gracechurch/publisher/internal/logger"
	"github.com/gracechurch/publisher/internal/models"
)

// OrphanRecorder remembers assets that could not be deleted.
type OrphanRecorder interface {
	RecordOrphan(ctx context.Context, assetID, reason string) error
}

// ManagerConfig holds upload limits.
type ManagerConfig struct {
	UploadTimeout time.Duration
	MaxAssetSize  int64
}

// Manager wraps an asset store with timeouts, error classification and
// best-effort deletion.
type Manager struct {
	store   contentstore.AssetStore
	orphans OrphanRecorder
	cfg     ManagerConfig

	failedDeletes atomic.Int64
}

// NewManager creates a Manager. orphans may be nil.
func NewManager(store contentstore.AssetStore, orphans OrphanRecorder, cfg ManagerConfig) *Manager {
	return &Manager{store: store, orphans: orphans, cfg: cfg}
}

// UploadImage decodes an inline image and uploads it as name.<ext>.
func (m *Manager) UploadImage(ctx context.Context, img *models.ImageBlock, name string) (string, error) {
	if !img.IsInline() {
		return "", fmt.Errorf("image %s is not inline", name)
	}
	uri, err := models.ParseDataURI(img.Src, m.cfg.MaxAssetSize)
	if err != nil {
		return "", &domain.ValidationError{
			Message: fmt.Sprintf("image %s: %v", name, err),
			Fields:  map[string]string{name: "datauri"},
		}
	}
	return m.Upload(ctx, uri.Data, name+"."+uri.Extension(), uri.MimeType)
}

// Upload stores data and returns the asset id. A failure is a *domain.TimeoutError
// when the upload or the caller's deadline ran out, otherwise a *domain.UploadError.
func (m *Manager) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(filename, err)
	}

	uctx := ctx
	if m.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(ctx, m.cfg.UploadTimeout)
		defer cancel()
	}

	start := time.Now()
	asset, err := m.store.UploadAsset(uctx, data, filename, contentType)
	if err != nil {
		if uctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", uctx.Err(), err)
		}
		return "", classify(filename, err)
	}
	if asset.ID == "" {
		return "", &domain.UploadError{Filename: filename, Err: errors.New("store returned no asset id")}
	}

	logger.WithContext(ctx).Debug().
		Str("asset_id", asset.ID).
		Str("filename", filename).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Msg("Asset uploaded")
	return asset.ID, nil
}

func classify(filename string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: "upload " + filename, Err: err}
	}
	return &domain.UploadError{Filename: filename, Err: err}
}

// Delete removes an asset. It never fails: errors are logged, counted and
// recorded in the orphan ledger for a later sweep.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	err := m.store.DeleteAsset(ctx, id)
	if err == nil {
		return true
	}

	total := m.failedDeletes.Add(1)
	log := logger.WithContext(ctx)
	log.Warn().
		Err(err).
		Str("asset_id", id).
		Int64("failed_cleanups", total).
		Msg("Failed to delete asset")

	if m.orphans != nil {
		// The caller's context may be the one that expired.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := m.orphans.RecordOrphan(rctx, id, err.Error()); rerr != nil {
			log.Error().Err(rerr).Str("asset_id", id).Msg("Failed to record orphaned asset")
		}
	}
	return false
}

// DeleteAll deletes ids concurrently and waits for all of them. It returns
// how many deletes failed.
func (m *Manager) DeleteAll(ctx context.Context, ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, id := range unique {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if !m.Delete(ctx, id) {
				failed.Add(1)
			}
		}(id)
	}
	wg.Wait()

	return int(failed.Load())
}

// FailedDeletes returns how many deletes have failed since start.
func (m *Manager) FailedDeletes() int64 {
	return m.failedDeletes.Load()
}
