package app

import (
	"fmt"

	"signflow/internal/common/logging"
	"signflow/internal/locks"
	"signflow/internal/redis"
)

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (shared rate limit, redis cache and distributed locks disabled)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	return nil
}

// initializeLocks picks Redlock when Redis is available so that several
// replicas serialize work on the same order
func (app *App) initializeLocks() {
	if app.RedisClient != nil {
		manager, err := locks.NewRedsyncManager(app.RedisClient, app.Logger)
		if err == nil {
			app.Locks = manager
			app.Logger.Info("Distributed Locks: Enabled")
			return
		}
		app.Logger.Warn("Distributed locks unavailable, using in-process locks", logging.Err(err))
	}
	app.Locks = locks.NewLocalManager()
}
