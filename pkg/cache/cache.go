// Package cache wraps Redis for short-lived coordination state: distributed
// locks and small key/value records with a TTL.
//
// A nil *Cache is valid and behaves as a cache that never holds anything and
// whose locks always succeed, so Redis stays optional in development.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/farmacia/farmacia-backend/pkg/config"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another process")

// KeyPrefix namespaces every key written by this service.
const KeyPrefix = "farmacia:"

// Cache holds the Redis client and its lock client.
type Cache struct {
	rdb     *redis.Client
	locker  *redislock.Client
	lockTTL time.Duration
	logger  *logger.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewWithClient(rdb, cfg.LockTTL, log), nil
}

// NewWithClient builds a Cache around an existing client.
func NewWithClient(rdb *redis.Client, lockTTL time.Duration, log *logger.Logger) *Cache {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Cache{
		rdb:     rdb,
		locker:  redislock.New(rdb),
		lockTTL: lockTTL,
		logger:  log.WithComponent("cache"),
	}
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Health reports whether Redis answers a ping.
func (c *Cache) Health(ctx context.Context) map[string]string {
	if c == nil {
		return map[string]string{"status": "disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return map[string]string{"status": "down", "error": err.Error()}
	}
	return map[string]string{"status": "up"}
}

// Lock obtains the named lock without waiting. The returned release function
// is safe to call more than once. ErrLocked means someone else holds it.
func (c *Cache) Lock(ctx context.Context, name string) (func(), error) {
	if c == nil {
		return func() {}, nil
	}

	lock, err := c.locker.Obtain(ctx, KeyPrefix+"lock:"+name, c.lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", name, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The lock may already have expired; a background context lets the
		// release run even when the request context is cancelled.
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			c.logger.Warn().Err(err).Str("lock", name).Msg("failed to release lock")
		}
	}, nil
}

// Get returns the value stored at key. ok is false when the key is absent.
func (c *Cache) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	if c == nil {
		return "", false, nil
	}

	value, err = c.rdb.Get(ctx, KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value at key for ttl.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	return c.rdb.Set(ctx, KeyPrefix+key, value, ttl).Err()
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = KeyPrefix + k
	}
	return c.rdb.Del(ctx, prefixed...).Err()
}
