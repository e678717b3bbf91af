package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/labintel-backend/internal/platform/envutil"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

// Cache is a TTL'd JSON cache for derived analysis (forecasts, evidence).
// Values are small, recomputable, and safe to lose.
type Cache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// New returns a redis-backed cache when REDIS_ADDR is set and reachable,
// otherwise an in-process map cache so single-node deployments run without
// a redis dependency.
func New(log *logger.Logger) (Cache, error) {
	addr := strings.TrimSpace(envutil.Str("REDIS_ADDR", ""))
	if addr == "" {
		log.Info("REDIS_ADDR not set, using in-process cache")
		return NewLocal(), nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisCache{
		log: log.With("service", "RedisCache"),
		rdb: rdb,
	}, nil
}

type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func (c *redisCache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Treat a corrupt entry as a miss; the caller recomputes.
		c.log.Warn("dropping corrupt cache entry", "key", key, "error", err)
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *redisCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *redisCache) Close() error { return c.rdb.Close() }

// NewLocal builds the in-process fallback. Also used directly by tests.
func NewLocal() Cache {
	return &localCache{entries: map[string]localEntry{}}
}

type localEntry struct {
	raw       []byte
	expiresAt time.Time
}

type localCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
}

func (c *localCache) GetJSON(_ context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.raw, out); err != nil {
		return false, nil
	}
	return true, nil
}

func (c *localCache) SetJSON(_ context.Context, key string, val any, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	entry := localEntry{raw: raw}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *localCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *localCache) Close() error { return nil }
