package ratelimit

import (
	"context"
	"fmt"
	"time"

	"signflow/internal/common/logging"
)

// RedisInterface defines the minimal Redis interface needed for a shared window
type RedisInterface interface {
	// IncrWindow atomically increments key, starting a window of the given
	// length on first use, and returns the new count and the time left.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
	// PeekWindow returns the count and time left without incrementing.
	PeekWindow(ctx context.Context, key string) (int, time.Duration, error)
	Health() error
}

// DistributedWindow implements a fixed window shared through Redis
type DistributedWindow struct {
	config      Config
	key         string
	redisClient RedisInterface
	logger      logging.Logger
}

// NewDistributedWindow creates a Redis-backed fixed-window limiter
func NewDistributedWindow(config Config, key string, redisClient RedisInterface, logger logging.Logger) (*DistributedWindow, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required for distributed rate limiter")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &DistributedWindow{
		config:      config,
		key:         key,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// TryAcquire increments the shared counter; the permit is granted while the
// count stays within the limit.
func (dw *DistributedWindow) TryAcquire(ctx context.Context) (Window, bool) {
	if !dw.config.Enabled {
		return Window{}, true
	}

	count, ttl, err := dw.redisClient.IncrWindow(ctx, dw.key, dw.config.Window)
	if err != nil {
		// Fail open: an unreachable Redis must not stop outbound traffic
		dw.logger.Warn("Shared rate limit unavailable, allowing request",
			logging.String("key", dw.key),
			logging.Err(err))
		return Window{Remaining: dw.config.Limit, Limit: dw.config.Limit, ResetAt: time.Now().Add(dw.config.Window)}, true
	}

	w := dw.window(count, ttl)
	return w, count <= dw.config.Limit
}

// Snapshot reads the shared counter without consuming a permit
func (dw *DistributedWindow) Snapshot(ctx context.Context) Window {
	count, ttl, err := dw.redisClient.PeekWindow(ctx, dw.key)
	if err != nil {
		return Window{Remaining: dw.config.Limit, Limit: dw.config.Limit}
	}
	return dw.window(count, ttl)
}

// ResetExpired is a no-op: the Redis key expires with the window
func (dw *DistributedWindow) ResetExpired(ctx context.Context) {}

func (dw *DistributedWindow) window(count int, ttl time.Duration) Window {
	remaining := dw.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	if ttl <= 0 {
		ttl = dw.config.Window
	}
	return Window{Remaining: remaining, Limit: dw.config.Limit, ResetAt: time.Now().Add(ttl)}
}

// Health checks the Redis backend
func (dw *DistributedWindow) Health() error {
	return dw.redisClient.Health()
}

var _ Limiter = (*DistributedWindow)(nil)
