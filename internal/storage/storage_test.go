package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gracechurch/publisher/internal/utils"
)

func TestAssetStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewAssetStore(dir, "http://localhost:8080/assets/")
	if err != nil {
		t.Fatalf("NewAssetStore failed: %v", err)
	}
	store.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	asset, err := store.UploadAsset(ctx, []byte("png-bytes"), "content-1.png", "image/png")
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}
	if !strings.HasPrefix(asset.ID, "image-") || !strings.HasSuffix(asset.ID, "-png") {
		t.Errorf("Unexpected asset id %s", asset.ID)
	}
	wantURL := "http://localhost:8080/assets/2026/03/09/" + asset.ID + ".png"
	if asset.URL != wantURL {
		t.Errorf("Expected URL %s, got %s", wantURL, asset.URL)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026", "03", "09", asset.ID+".png"))
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("Asset not written: %v", err)
	}

	meta, err := store.Meta(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.Filename != "content-1.png" || meta.Size != 9 || meta.SHA256 != utils.Hash("png-bytes") {
		t.Errorf("Unexpected metadata %+v", meta)
	}

	if err := store.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2026", "03", "09", asset.ID+".png")); !os.IsNotExist(err) {
		t.Error("Asset file should be gone")
	}
	if _, err := store.Meta(ctx, asset.ID); err == nil {
		t.Error("Metadata should be gone")
	}
}

func TestDeleteUnknownAsset(t *testing.T) {
	store, err := NewAssetStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewAssetStore failed: %v", err)
	}
	if err := store.DeleteAsset(context.Background(), "image-missing-png"); err != nil {
		t.Errorf("Deleting an unknown asset should succeed, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	store, err := NewAssetStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewAssetStore failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.UploadAsset(ctx, []byte("x"), "a.png", "image/png"); err == nil {
		t.Error("Expected context error")
	}
}
