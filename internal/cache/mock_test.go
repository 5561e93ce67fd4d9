package cache

import (
	"context"
	"testing"
	"time"
)

var _ RedisInterface = (*MockRedisClient)(nil)
var _ RedisInterface = (*RedisClient)(nil)

func TestMockOrphanLedger(t *testing.T) {
	ctx := context.Background()
	m := NewMockRedisClient()

	for _, id := range []string{"image-a", "image-b", "image-c"} {
		if err := m.RecordOrphan(ctx, id, "delete failed"); err != nil {
			t.Fatalf("RecordOrphan failed: %v", err)
		}
	}
	// Recording again keeps the original position.
	_ = m.RecordOrphan(ctx, "image-a", "retry failed")

	ids, err := m.ListOrphans(ctx, 2)
	if err != nil {
		t.Fatalf("ListOrphans failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "image-a" || ids[1] != "image-b" {
		t.Errorf("Expected oldest two orphans, got %v", ids)
	}
	if reason, _ := m.OrphanReason("image-a"); reason != "retry failed" {
		t.Errorf("Expected updated reason, got %q", reason)
	}

	if err := m.ClearOrphan(ctx, "image-a"); err != nil {
		t.Fatalf("ClearOrphan failed: %v", err)
	}
	ids, _ = m.ListOrphans(ctx, 10)
	if len(ids) != 2 || ids[0] != "image-b" {
		t.Errorf("Unexpected orphans after clear: %v", ids)
	}
}

func TestMockOrphanOrderAfterClear(t *testing.T) {
	ctx := context.Background()
	m := NewMockRedisClient()
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	for _, id := range []string{"image-a", "image-b", "image-c"} {
		_ = m.RecordOrphan(ctx, id, "delete failed")
	}
	_ = m.ClearOrphan(ctx, "image-a")
	_ = m.RecordOrphan(ctx, "image-d", "delete failed")

	for i := 0; i < 5; i++ {
		ids, _ := m.ListOrphans(ctx, 10)
		if len(ids) != 3 || ids[0] != "image-b" || ids[1] != "image-c" || ids[2] != "image-d" {
			t.Fatalf("Expected insertion order b, c, d, got %v", ids)
		}
	}
}

func TestMockDeferOrphan(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMockRedisClient()
	m.now = func() time.Time { return now }

	_ = m.RecordOrphan(ctx, "image-a", "delete failed")
	_ = m.RecordOrphan(ctx, "image-b", "delete failed")

	if err := m.DeferOrphan(ctx, "image-a", "403", now.Add(time.Minute)); err != nil {
		t.Fatalf("DeferOrphan failed: %v", err)
	}
	ids, _ := m.ListOrphans(ctx, 10)
	if len(ids) != 1 || ids[0] != "image-b" {
		t.Errorf("Deferred entry should be hidden, got %v", ids)
	}
	if reason, _ := m.OrphanReason("image-a"); reason != "403" {
		t.Errorf("Expected latest reason, got %q", reason)
	}

	now = now.Add(2 * time.Minute)
	ids, _ = m.ListOrphans(ctx, 10)
	if len(ids) != 2 || ids[0] != "image-b" || ids[1] != "image-a" {
		t.Errorf("Deferred entry should come back behind older ones, got %v", ids)
	}

	// Deferring an unknown entry does not create it.
	_ = m.DeferOrphan(ctx, "image-x", "gone", now)
	if _, ok := m.OrphanReason("image-x"); ok {
		t.Error("DeferOrphan must not add entries")
	}
}

func TestMockLock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMockRedisClient()
	m.now = func() time.Time { return now }

	token, ok, err := m.AcquireLock(ctx, "article:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected lock, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.AcquireLock(ctx, "article:1", time.Minute); ok {
		t.Fatal("Second acquire must fail while held")
	}

	// A stale token does not release someone else's lock.
	_ = m.ReleaseLock(ctx, "article:1", "not-mine")
	if !m.Locked("article:1") {
		t.Fatal("Lock released with the wrong token")
	}

	if err := m.ReleaseLock(ctx, "article:1", token); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if m.Locked("article:1") {
		t.Fatal("Lock should be free")
	}

	_, _, _ = m.AcquireLock(ctx, "article:2", time.Minute)
	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.AcquireLock(ctx, "article:2", time.Minute); !ok {
		t.Fatal("Expired lock should be acquirable")
	}
}
