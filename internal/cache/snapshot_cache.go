// Package cache keeps the last seen snapshot of each game in Redis so a
// viewer can show something before the push stream connects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/go-redis/redis/v8"
)

const (
	snapshotCachePrefix = "game_snapshot:"

	defaultSnapshotTTL = 12 * time.Hour
)

// SnapshotCache stores game snapshots as JSON with a TTL
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
	}
}

// NewRedisClient builds a client from a redis:// URL. A non-empty password
// overrides the one in the URL.
func NewRedisClient(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	return redis.NewClient(opts), nil
}

func snapshotKey(gameID string) string {
	return snapshotCachePrefix + gameID
}

// Save caches the snapshot of a game
func (c *SnapshotCache) Save(ctx context.Context, gs *models.GameSession) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("failed to marshal game snapshot: %w", err)
	}

	if err := c.client.Set(ctx, snapshotKey(gs.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache game snapshot: %w", err)
	}
	return nil
}

// Load returns the cached snapshot of a game, or nil on a cache miss
func (c *SnapshotCache) Load(ctx context.Context, gameID string) (*models.GameSession, error) {
	data, err := c.client.Get(ctx, snapshotKey(gameID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get cached game snapshot: %w", err)
	}

	gs, err := models.ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	return gs, nil
}

// Invalidate removes the cached snapshot of a game
func (c *SnapshotCache) Invalidate(ctx context.Context, gameID string) error {
	return c.client.Del(ctx, snapshotKey(gameID)).Err()
}

// Publish sends a snapshot on the game's pub/sub channel, where a
// stream.RedisSource picks it up
func (c *SnapshotCache) Publish(ctx context.Context, channel string, gs *models.GameSession) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("failed to marshal game snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish game snapshot: %w", err)
	}
	return nil
}
