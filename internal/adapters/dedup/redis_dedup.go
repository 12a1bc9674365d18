// Package dedup provides the processed-message dedup cache backed by Redis.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultTTL = 72 * time.Hour

// RedisCache remembers recently processed message ids so repeated verdict
// submissions short-circuit before hitting the store.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

// Seen reports whether the message id was already recorded. It never
// writes; ids are recorded by Mark only after the analysis persists, so a
// failed persist stays retryable within the TTL.
func (c *RedisCache) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records the message id as processed for the cache TTL
func (c *RedisCache) Mark(ctx context.Context, messageID string) error {
	if err := c.client.Set(ctx, c.key(messageID), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

func (c *RedisCache) key(messageID string) string {
	sum := sha256.Sum256([]byte(messageID))
	return "intel:seen:" + hex.EncodeToString(sum[:16])
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
