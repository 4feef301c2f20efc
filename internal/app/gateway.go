package app

import (
	"strings"

	"signflow/internal/circuitbreaker"
	"signflow/internal/common/cache"
	httpclient "signflow/internal/common/http"
	"signflow/internal/common/logging"
	"signflow/internal/common/utils"
	"signflow/internal/gateway"
)

func (app *App) initializeGateway() error {
	cfg := app.Config

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.BaseDelay = cfg.RetryBaseDelay
	retry.MaxDelay = cfg.RetryMaxDelay

	gatewayConfig := gateway.Config{
		BaseURL:            cfg.ProviderBaseURL,
		BackendBaseURL:     cfg.BackendBaseURL,
		ClientIdentity:     cfg.ClientIdentity,
		Environment:        cfg.Environment,
		Timeout:            cfg.HTTPTimeout,
		Retry:              retry,
		RetryBudget:        cfg.RetryBudget,
		CacheTTL:           cfg.CacheTTL,
		CacheSweepInterval: cfg.CacheSweepInterval,
		RateLimit:          app.gatewayRateLimit(),
		MetricsMaxEntries:  cfg.MetricsMaxEntries,
		MetricsMaxAge:      cfg.MetricsMaxAge,
	}

	logger := app.Logger.WithFields(logging.String("component", "gateway"))
	httpClient := httpclient.NewHTTPClient(
		httpclient.WithTimeout(cfg.HTTPTimeout),
		httpclient.WithClientIdentity(cfg.ClientIdentity),
	)

	opts := []gateway.Option{
		gateway.WithHTTPClient(httpClient),
		gateway.WithLogger(logger),
	}

	responseCache, err := app.initializeCache()
	if err != nil {
		return err
	}
	opts = append(opts, gateway.WithCache(responseCache))

	limiter, err := app.initializeRateLimiter()
	if err != nil {
		return err
	}
	if limiter != nil {
		opts = append(opts, gateway.WithRateLimiter(limiter))
	}

	if cfg.TokenURL != "" {
		var scope []string
		if cfg.TokenScope != "" {
			scope = strings.Fields(cfg.TokenScope)
		}
		opts = append(opts, gateway.WithTokenProvider(gateway.NewClientCredentials(gateway.ClientCredentialsConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scope:        scope,
		}, httpClient)))
	} else {
		opts = append(opts, gateway.WithTokenProvider(gateway.StaticToken(cfg.APIKey)))
	}

	if cfg.BreakerEnabled {
		breakerConfig := circuitbreaker.DefaultConfig()
		breakerConfig.MaxFailures = cfg.BreakerMaxFailures
		breakerConfig.Timeout = cfg.BreakerTimeout
		opts = append(opts, gateway.WithCircuitBreaker(circuitbreaker.New("provider", breakerConfig, logger)))
	}

	gw, err := gateway.New(gatewayConfig, opts...)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	app.Gateway = gw
	return nil
}

func (app *App) initializeCache() (cache.Cache, error) {
	cacheConfig := cache.Config{Type: cache.TypeLocal}
	if app.Config.CacheType == "redis" && app.RedisClient != nil {
		cacheConfig.Type = cache.TypeRedis
		cacheConfig.RedisClient = app.RedisClient.GoRedis()
		cacheConfig.KeyPrefix = "signflow:gateway:"
	}
	return cache.New(cacheConfig)
}
