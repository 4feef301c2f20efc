package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		mr := miniredis.RunT(t)
		config := &Config{Address: mr.Addr()}

		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NoError(t, client.Health())
		assert.NotNil(t, client.GoRedis())
	})

	t.Run("connection failure", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewClient(&Config{Address: addr})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestIncrWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	count, ttl, err := client.IncrWindow(ctx, "rl:gateway", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, time.Minute, ttl)

	count, _, err = client.IncrWindow(ctx, "rl:gateway", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	peek, peekTTL, err := client.PeekWindow(ctx, "rl:gateway")
	require.NoError(t, err)
	assert.Equal(t, 2, peek)
	assert.True(t, peekTTL > 0 && peekTTL <= time.Minute)

	// Window expires and the counter starts over
	mr.FastForward(time.Minute + time.Second)

	count, _, err = client.IncrWindow(ctx, "rl:gateway", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPeekWindow_Missing(t *testing.T) {
	client, _ := setupTestRedis(t)

	count, ttl, err := client.PeekWindow(context.Background(), "rl:none")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestIncrWindow_ServerDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	_, _, err := client.IncrWindow(context.Background(), "rl:gateway", time.Minute)
	assert.Error(t, err)
	assert.Error(t, client.Health())
}
