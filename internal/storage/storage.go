// Package storage keeps image assets on the local filesystem. It backs the
// "local" asset backend used in development.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gracechurch/publisher/internal/models"
	"github.com/gracechurch/publisher/internal/utils"
)

const metaSuffix = ".meta.json"

// AssetMeta is written next to every stored asset.
type AssetMeta struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int       `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AssetStore struct {
	basePath  string
	publicURL string
	now       func() time.Time
	mu        sync.RWMutex
}

func NewAssetStore(basePath, publicURL string) (*AssetStore, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &AssetStore{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}, nil
}

// UploadAsset writes data under a dated directory (YYYY/MM/DD).
func (s *AssetStore) UploadAsset(ctx context.Context, data []byte, filename, contentType string) (models.Asset, error) {
	select {
	case <-ctx.Done():
		return models.Asset{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rel := now.Format("2006/01/02")
	datePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if err := os.MkdirAll(datePath, 0755); err != nil {
		return models.Asset{}, fmt.Errorf("failed to create date directory: %w", err)
	}

	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		ext = "bin"
	}
	id := fmt.Sprintf("image-%s-%s", strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	name := id + "." + ext

	if err := os.WriteFile(filepath.Join(datePath, name), data, 0644); err != nil {
		return models.Asset{}, fmt.Errorf("failed to write asset file: %w", err)
	}

	meta, err := json.MarshalIndent(AssetMeta{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Size:        len(data),
		SHA256:      utils.Hash(string(data)),
		CreatedAt:   now,
	}, "", "  ")
	if err != nil {
		return models.Asset{}, fmt.Errorf("failed to marshal asset metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(datePath, id+metaSuffix), meta, 0644); err != nil {
		return models.Asset{}, fmt.Errorf("failed to write asset metadata: %w", err)
	}

	return models.Asset{ID: id, URL: s.publicURL + "/" + path.Join(rel, name)}, nil
}

// DeleteAsset removes the asset and its metadata. Unknown ids are not an error.
func (s *AssetStore) DeleteAsset(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.find(id)
	if err != nil {
		return err
	}
	if dir == "" {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
	if err != nil {
		return fmt.Errorf("failed to list asset files: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", m, err)
		}
	}
	return nil
}

// Meta reads the metadata written for id.
func (s *AssetStore) Meta(ctx context.Context, id string) (*AssetMeta, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("asset %s: %w", id, fs.ErrNotExist)
	}

	data, err := os.ReadFile(filepath.Join(dir, id+metaSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset metadata: %w", err)
	}
	var meta AssetMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset metadata: %w", err)
	}
	return &meta, nil
}

// find returns the directory holding id's metadata, or "" when absent.
func (s *AssetStore) find(id string) (string, error) {
	var found string
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == id+metaSuffix {
			found = filepath.Dir(p)
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("error walking the path: %w", err)
	}
	return found, nil
}
