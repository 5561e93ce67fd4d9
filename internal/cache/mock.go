package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRedisClient provides a mock implementation for testing when Redis is not available
type MockRedisClient struct {
	mu      sync.Mutex
	orphans map[string]orphan
	locks   map[string]lock
	now     func() time.Time
	seq     int

	// Err, when set, is returned by every call.
	Err error
}

type orphan struct {
	reason string
	due    time.Time
	seq    int
}

type lock struct {
	token   string
	expires time.Time
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		orphans: make(map[string]orphan),
		locks:   make(map[string]lock),
		now:     time.Now,
	}
}

func (m *MockRedisClient) Close() error {
	return nil
}

func (m *MockRedisClient) RecordOrphan(ctx context.Context, assetID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if o, ok := m.orphans[assetID]; ok {
		o.reason = reason
		m.orphans[assetID] = o
		return nil
	}
	m.seq++
	m.orphans[assetID] = orphan{reason: reason, due: m.now(), seq: m.seq}
	return nil
}

func (m *MockRedisClient) ListOrphans(ctx context.Context, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	now := m.now()
	ids := make([]string, 0, len(m.orphans))
	for id, o := range m.orphans {
		if !o.due.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.orphans[ids[i]], m.orphans[ids[j]]
		if !a.due.Equal(b.due) {
			return a.due.Before(b.due)
		}
		return a.seq < b.seq
	})
	if int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MockRedisClient) ClearOrphan(ctx context.Context, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.orphans, assetID)
	return nil
}

func (m *MockRedisClient) DeferOrphan(ctx context.Context, assetID, reason string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	o, ok := m.orphans[assetID]
	if !ok {
		return nil
	}
	m.seq++
	o.reason, o.due, o.seq = reason, until, m.seq
	m.orphans[assetID] = o
	return nil
}

// OrphanReason returns the recorded reason for assetID.
func (m *MockRedisClient) OrphanReason(assetID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orphans[assetID]
	return o.reason, ok
}

func (m *MockRedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	if l, ok := m.locks[key]; ok && m.now().Before(l.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[key] = lock{token: token, expires: m.now().Add(ttl)}
	return token, true, nil
}

func (m *MockRedisClient) ReleaseLock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if l, ok := m.locks[key]; ok && l.token == token {
		delete(m.locks, key)
	}
	return nil
}

// Locked reports whether key is currently held.
func (m *MockRedisClient) Locked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	return ok && m.now().Before(l.expires)
}
