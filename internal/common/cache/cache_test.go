package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLocalCache_SetGet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLocalCache().WithClock(clock.Now)

	require.NoError(t, c.Set(ctx, "GET /documents/1", []byte(`{"id":"1"}`), time.Minute))

	entry, found := c.Get(ctx, "GET /documents/1")
	require.True(t, found)
	assert.Equal(t, []byte(`{"id":"1"}`), entry.Value)
	assert.Equal(t, int64(1), entry.HitCount)
	assert.True(t, entry.ExpiresAt.After(entry.StoredAt))

	entry, _ = c.Get(ctx, "GET /documents/1")
	assert.Equal(t, int64(2), entry.HitCount)
}

func TestLocalCache_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := NewLocalCache().WithClock(clock.Now)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	clock.Advance(time.Second)

	_, found := c.Get(ctx, "k")
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := NewLocalCache().WithClock(clock.Now)

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, 1, c.Len())
	_, found := c.Get(ctx, "long")
	assert.True(t, found)
}

func TestLocalCache_InvalidTTL(t *testing.T) {
	c := NewLocalCache()
	assert.ErrorIs(t, c.Set(context.Background(), "k", []byte("v"), 0), ErrInvalidTTL)
}

func TestLocalCache_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache()
	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, time.Minute))
	value[0] = 'z'

	entry, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(entry.Value))
}

func TestLocalCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, c.Delete(ctx, "a"))
	_, found := c.Get(ctx, "a")
	assert.False(t, found)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "test:"), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedisCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"status":"signed"}`), time.Minute))

	entry, found := c.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, `{"status":"signed"}`, string(entry.Value))
	assert.Equal(t, int64(1), entry.HitCount)

	entry, _ = c.Get(ctx, "k")
	assert.Equal(t, int64(2), entry.HitCount)
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, found := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestRedisCache_MissDoesNotCreateKey(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	_, found := c.Get(ctx, "missing")
	assert.False(t, found)
	assert.False(t, mr.Exists("test:missing"))
}

func TestRedisCache_Clear(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Clear(ctx))

	assert.Empty(t, mr.Keys())
	assert.Equal(t, 0, c.Sweep(ctx))
}

func TestFactory(t *testing.T) {
	c, err := New(Config{Type: TypeLocal})
	require.NoError(t, err)
	assert.IsType(t, &LocalCache{}, c)

	_, err = New(Config{Type: TypeRedis})
	assert.Error(t, err)

	_, err = New(Config{Type: "memcached"})
	assert.Error(t, err)
}
