package cache

import (
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Type represents the cache backend type
type Type string

const (
	TypeLocal Type = "local"
	TypeRedis Type = "redis"
)

// Config holds cache configuration
type Config struct {
	Type        Type          `json:"type"`
	KeyPrefix   string        `json:"key_prefix,omitempty"`
	RedisClient *redis.Client `json:"-"`
}

// New creates a cache instance based on configuration
func New(config Config) (Cache, error) {
	switch config.Type {
	case TypeLocal, "":
		return NewLocalCache(), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis cache")
		}
		prefix := config.KeyPrefix
		if prefix == "" {
			prefix = "signflow:cache:"
		}
		return NewRedisCache(config.RedisClient, prefix), nil

	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}
