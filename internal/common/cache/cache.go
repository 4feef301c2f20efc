// Package cache is the TTL store the gateway uses for idempotent reads.
//
// Two backends are provided: LocalCache wraps github.com/patrickmn/go-cache for
// a single process, RedisCache stores entries as Redis hashes so several
// gateway processes can share responses. Expired entries are logically absent:
// reads evict them lazily and Sweep removes the rest.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Entry is a cached response together with its bookkeeping.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int64     `json:"hit_count"`
}

// Expired reports whether the entry is past its expiry at now
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache defines the interface for cache operations
type Cache interface {
	// Get returns a snapshot of the entry and increments its hit count
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Sweep evicts expired entries and returns how many were removed
	Sweep(ctx context.Context) int
}

// ErrInvalidTTL is returned when a non-positive TTL would break expiresAt > storedAt
var ErrInvalidTTL = fmt.Errorf("cache ttl must be positive")

type localEntry struct {
	entry Entry
	hits  atomic.Int64
}

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
	now   func() time.Time
}

// NewLocalCache creates a new local cache. go-cache's own janitor is disabled;
// expiry is driven by lazy eviction and the owner's periodic Sweep.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		cache: gocache.New(gocache.NoExpiration, 0),
		now:   time.Now,
	}
}

// WithClock replaces the time source, used by tests
func (l *LocalCache) WithClock(now func() time.Time) *LocalCache {
	l.now = now
	return l
}

// Get retrieves a value from the local cache
func (l *LocalCache) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, found := l.cache.Get(key)
	if !found {
		return nil, false
	}
	le := raw.(*localEntry)
	if le.entry.Expired(l.now()) {
		l.cache.Delete(key)
		return nil, false
	}

	snapshot := le.entry
	snapshot.HitCount = le.hits.Add(1)
	return &snapshot, true
}

// Set stores a value in the local cache
func (l *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	now := l.now()
	le := &localEntry{entry: Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}}
	l.cache.Set(key, le, gocache.NoExpiration)
	return nil
}

// Delete removes a value from the local cache
func (l *LocalCache) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// Clear removes all items from the local cache
func (l *LocalCache) Clear(ctx context.Context) error {
	l.cache.Flush()
	return nil
}

// Sweep removes expired entries
func (l *LocalCache) Sweep(ctx context.Context) int {
	now := l.now()
	removed := 0
	for key, item := range l.cache.Items() {
		if le, ok := item.Object.(*localEntry); ok && le.entry.Expired(now) {
			l.cache.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (l *LocalCache) Len() int {
	return l.cache.ItemCount()
}

// RedisCache wraps go-redis for distributed caching
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a value from Redis
func (r *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	redisKey := r.keyPrefix + key

	pipe := r.client.TxPipeline()
	fields := pipe.HGetAll(ctx, redisKey)
	hits := pipe.HIncrBy(ctx, redisKey, "hits", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false
	}

	values := fields.Val()
	if len(values) == 0 {
		// HINCRBY on a missing key created it; drop it again
		r.client.Del(ctx, redisKey)
		return nil, false
	}

	storedAt, _ := strconv.ParseInt(values["stored_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(values["expires_at"], 10, 64)
	entry := &Entry{
		Key:       key,
		Value:     []byte(values["value"]),
		StoredAt:  time.Unix(0, storedAt),
		ExpiresAt: time.Unix(0, expiresAt),
		HitCount:  hits.Val(),
	}
	if entry.Expired(time.Now()) {
		r.client.Del(ctx, redisKey)
		return nil, false
	}
	return entry, true
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	redisKey := r.keyPrefix + key
	now := time.Now()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisKey)
	pipe.HSet(ctx, redisKey,
		"value", value,
		"stored_at", now.UnixNano(),
		"expires_at", now.Add(ttl).UnixNano(),
		"hits", 0,
	)
	pipe.PExpire(ctx, redisKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a value from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// Clear removes all items with the key prefix from Redis
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}

	return nil
}

// Sweep is a no-op: Redis expires keys on its own
func (r *RedisCache) Sweep(ctx context.Context) int {
	return 0
}
