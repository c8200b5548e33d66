// Package cache provides the shared key-addressed read cache in front of the
// artifact store. Entries are keyed by (owner, scope) and invalidated both by
// local writes and by the realtime bridge.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scopes address the three cached read paths per owner.
const ScopeAll = "all"

func ScopeType(toolType string) string {
	return "type:" + toolType
}

func ScopeID(artifactID string) string {
	return "id:" + artifactID
}

// Cache is a Redis-backed read-through cache. Values are stored as JSON with
// a TTL as a backstop; correctness comes from invalidation, not expiry.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a cache from a Redis URL and verifies connectivity.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		prefix: "bp:cache:",
		ttl:    10 * time.Minute,
	}
}

func (c *Cache) key(ownerID, scope string) string {
	return c.prefix + ownerID + ":" + scope
}

// Invalidate drops the given scopes for an owner. Invalidating a key that is
// already gone is a no-op, so out-of-order notifications are harmless.
func (c *Cache) Invalidate(ctx context.Context, ownerID string, scopes ...string) error {
	if len(scopes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		keys = append(keys, c.key(ownerID, scope))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, ownerID, scope string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.key(ownerID, scope)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}
	return raw, true, nil
}

func (c *Cache) set(ctx context.Context, ownerID, scope string, raw []byte) error {
	if err := c.client.Set(ctx, c.key(ownerID, scope), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Fetch reads (owner, scope) through the cache: a hit is decoded and
// returned, a miss calls load and caches its result. Cache failures degrade
// to a direct load; the caller never sees a cache-layer error for reads.
func Fetch[T any](ctx context.Context, c *Cache, ownerID, scope string, load func(context.Context) (T, error)) (T, error) {
	var value T

	raw, ok, err := c.get(ctx, ownerID, scope)
	if err == nil && ok {
		if unmarshalErr := json.Unmarshal(raw, &value); unmarshalErr == nil {
			return value, nil
		}
		// Corrupt entry: drop it and fall through to the loader.
		_ = c.Invalidate(ctx, ownerID, scope)
	}

	value, err = load(ctx)
	if err != nil {
		return value, err
	}

	if raw, marshalErr := json.Marshal(value); marshalErr == nil {
		_ = c.set(ctx, ownerID, scope, raw)
	}
	return value, nil
}
