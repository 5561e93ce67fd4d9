package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gracechurch/publisher/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisInterface is what the publishing pipeline keeps in Redis: the ledger of
// assets whose cleanup failed and short-lived edit locks.
type RedisInterface interface {
	Close() error
	RecordOrphan(ctx context.Context, assetID, reason string) error
	ListOrphans(ctx context.Context, limit int64) ([]string, error)
	ClearOrphan(ctx context.Context, assetID string) error
	DeferOrphan(ctx context.Context, assetID, reason string, until time.Time) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

const (
	orphansKey       = "orphans"
	orphanReasonsKey = "orphan-reasons"
	lockPrefix       = "lock:"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisClient struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		prefix: cfg.RedisPrefix,
	}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// RecordOrphan adds an asset to the ledger. The ledger is a sorted set scored
// by the time the entry is next due; an existing entry keeps its score.
func (r *RedisClient) RecordOrphan(ctx context.Context, assetID, reason string) error {
	pipe := r.client.TxPipeline()
	pipe.ZAddNX(ctx, r.prefix+orphansKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: assetID})
	pipe.HSet(ctx, r.prefix+orphanReasonsKey, assetID, reason)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record orphan %s: %w", assetID, err)
	}
	return nil
}

// ListOrphans returns up to limit due ledger entries, oldest first.
func (r *RedisClient) ListOrphans(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.ZRangeByScore(ctx, r.prefix+orphansKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore error: %w", err)
	}
	return ids, nil
}

// DeferOrphan moves an existing entry to until and stores the latest failure.
func (r *RedisClient) DeferOrphan(ctx context.Context, assetID, reason string, until time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.ZAddXX(ctx, r.prefix+orphansKey, redis.Z{Score: float64(until.UnixMilli()), Member: assetID})
	pipe.HSet(ctx, r.prefix+orphanReasonsKey, assetID, reason)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to defer orphan %s: %w", assetID, err)
	}
	return nil
}

func (r *RedisClient) ClearOrphan(ctx context.Context, assetID string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.prefix+orphansKey, assetID)
	pipe.HDel(ctx, r.prefix+orphanReasonsKey, assetID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear orphan %s: %w", assetID, err)
	}
	return nil
}

// AcquireLock takes key for ttl. ok is false when someone else holds it.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+lockPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx error: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisClient) ReleaseLock(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, r.client, []string{r.prefix + lockPrefix + key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
