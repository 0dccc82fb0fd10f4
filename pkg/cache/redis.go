// Package cache wraps the shared Redis instance used as the research-capsule
// hand-off cache, the cross-thread tier-detection cache, the user-profile
// cache, and the optional pub/sub "ready" bus (§2, §4.10, §9). Grounded on
// the manifold example's internal/skills/redis_cache.go client construction.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tarsync/memoryplane/pkg/config"
)

// Cache is a thin, typed wrapper over *redis.Client.
type Cache struct {
	rdb *redis.Client
}

// New builds a Cache from the shared Redis configuration and verifies
// connectivity with a Ping.
func New(ctx context.Context, cfg *config.RedisConfig) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.rdb.Close() }

// capsuleKey builds the factPack:{threadId}:{batchId} key named in §3/§4.10.
func capsuleKey(threadID, batchID string) string {
	return fmt.Sprintf("factPack:%s:%s", threadID, batchID)
}

// SetCapsule publishes a research capsule payload with a TTL derived from
// its topic class (§6: cache TTL, minutes to hours).
func (c *Cache) SetCapsule(ctx context.Context, threadID, batchID string, payload []byte, ttl time.Duration) error {
	key := capsuleKey(threadID, batchID)
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set capsule %s: %w", key, err)
	}
	return c.rdb.Publish(ctx, capsuleChannel(threadID), batchID).Err()
}

// capsuleChannel is the pub/sub channel used as the optional shared bus
// alerting a gateway instance that a capsule for threadID landed.
func capsuleChannel(threadID string) string {
	return "factpack-ready:" + threadID
}

// SubscribeCapsuleReady subscribes to capsule-ready notifications for a
// thread. Callers should also poll (§4.10 poll-based injection) since
// pub/sub delivery to a given subscriber is best-effort.
func (c *Cache) SubscribeCapsuleReady(ctx context.Context, threadID string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, capsuleChannel(threadID))
}

// ScanCapsules returns the keys for every unconsumed capsule batch for a
// thread, used by the poll-based injector (§4.10).
func (c *Cache) ScanCapsules(ctx context.Context, threadID string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, fmt.Sprintf("factPack:%s:*", threadID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// GetCapsule fetches one capsule payload by its full key.
func (c *Cache) GetCapsule(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteCapsule removes a capsule after it has been consumed once (§3:
// "Consumed once, survives via TTL").
func (c *Cache) DeleteCapsule(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// SetProfile caches a user's distilled profile JSON.
func (c *Cache) SetProfile(ctx context.Context, userID string, profileJSON []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, "profile:"+userID, profileJSON, ttl).Err()
}

// GetProfile fetches a cached user profile, if present.
func (c *Cache) GetProfile(ctx context.Context, userID string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, "profile:"+userID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// SetIngestionChunks caches previously-ingested document chunks for a
// thread/topic pair, the ingestion gather layer's backing store (§2
// data-flow "IngestionContext").
func (c *Cache) SetIngestionChunks(ctx context.Context, threadID, topic string, payload []byte, ttl time.Duration) error {
	key := ingestionKey(threadID, topic)
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ingestion chunks %s: %w", key, err)
	}
	return nil
}

// GetIngestionChunks fetches cached chunks for a thread/topic pair, if any.
func (c *Cache) GetIngestionChunks(ctx context.Context, threadID, topic string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, ingestionKey(threadID, topic)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func ingestionKey(threadID, topic string) string {
	return fmt.Sprintf("ingestion:%s:%s", threadID, topic)
}

// ObserveTier implements the §9 cross-thread tier-detection cache:
// observe(user, normalizedContent, threadId) -> (seenBefore, seenThreadID).
// The first thread to mention a normalized phrase owns it in the cache;
// subsequent threads asking about the same phrase report seenBefore=true
// with the original thread, which the audit pipeline uses to classify T1.
func (c *Cache) ObserveTier(ctx context.Context, userID, normalizedContent, threadID string, ttl time.Duration) (seenBefore bool, seenThreadID string, err error) {
	key := fmt.Sprintf("tier-observe:%s:%s", userID, normalizedContent)
	ok, err := c.rdb.SetNX(ctx, key, threadID, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to observe tier key: %w", err)
	}
	if ok {
		return false, threadID, nil
	}
	prev, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to read tier key: %w", err)
	}
	return prev != threadID, prev, nil
}
