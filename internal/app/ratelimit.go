package app

import (
	"net/http"

	"signflow/internal/common/logging"
	"signflow/internal/common/ratelimit"
)

// gatewayRateLimit is the fixed window applied to outbound provider calls
func (app *App) gatewayRateLimit() ratelimit.Config {
	return ratelimit.Config{
		Enabled: app.Config.RateLimitEnabled,
		Limit:   app.Config.RateLimitRequests,
		Window:  app.Config.RateLimitWindow,
	}
}

// initializeRateLimiter returns a Redis-backed window shared by every replica
// when RATE_LIMIT_SHARED is set, otherwise nil so the gateway keeps its own
// in-process window
func (app *App) initializeRateLimiter() (ratelimit.Limiter, error) {
	config := app.gatewayRateLimit()
	if !config.Enabled || !app.Config.RateLimitShared || app.RedisClient == nil {
		return nil, nil
	}

	limiter, err := ratelimit.NewDistributedWindow(config, "signflow:gateway:window", app.RedisClient, app.Logger)
	if err != nil {
		return nil, err
	}
	app.Logger.Info("Rate Limiting: shared window",
		logging.Int("limit", config.Limit),
		logging.Duration("window", config.Window))
	return limiter, nil
}

// WebhookRateLimiter builds the per-IP ingress limiter for webhook routes;
// nil when WEBHOOK_RATE_LIMIT_RPS is zero
func (app *App) WebhookRateLimiter() func(http.Handler) http.Handler {
	if app.Config.WebhookRateLimitRPS <= 0 {
		return nil
	}
	limiter := ratelimit.NewKeyedLimiter(app.Config.WebhookRateLimitRPS, app.Config.WebhookRateLimitBurst)
	return ratelimit.HTTPMiddleware(limiter, ratelimit.IPKey)
}
