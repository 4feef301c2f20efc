// Package config loads the service configuration from environment variables.
//
// Environment Variables:
//
// Application:
//   - PORT: HTTP port (default: 8080)
//   - LOG_LEVEL, LOG_FORMAT (json or console), LOG_FILE: read by the logging package
//   - ENVIRONMENT: environment tag sent on every outbound call (default: production)
//   - CLIENT_IDENTITY: identity sent as X-Client-Identity (required)
//
// Provider and backend:
//   - PROVIDER_BASE_URL: signing provider API root (required)
//   - BACKEND_BASE_URL: order/document backend API root
//   - API_KEY: static bearer token
//   - TOKEN_URL, CLIENT_ID, CLIENT_SECRET, TOKEN_SCOPE: client-credentials token endpoint
//   - HTTP_TIMEOUT (15s), RETRY_MAX_ATTEMPTS (3), RETRY_BASE_DELAY (500ms),
//     RETRY_MAX_DELAY (10s), RETRY_BUDGET (45s)
//   - CACHE_TYPE: memory or redis (default: memory), CACHE_TTL (5m), CACHE_SWEEP_INTERVAL (1m)
//   - RATE_LIMIT_ENABLED (true), RATE_LIMIT_REQUESTS (60), RATE_LIMIT_WINDOW (1m),
//     RATE_LIMIT_SHARED: share the window through Redis (false)
//   - BREAKER_ENABLED (true), BREAKER_MAX_FAILURES (5), BREAKER_TIMEOUT (30s)
//   - METRICS_MAX_ENTRIES (500), METRICS_MAX_AGE (1h)
//
// Webhooks:
//   - WEBHOOK_VERIFICATION: enforce or disabled (default: enforce)
//   - WEBHOOK_SECRET: HMAC secret, required when enforcing
//   - WEBHOOK_SIGNATURE_HEADER (X-Signature)
//   - WEBHOOK_RATE_LIMIT_RPS (20), WEBHOOK_RATE_LIMIT_BURST (40); 0 disables
//
// Storage:
//   - DATABASE_TYPE: memory, sqlite or postgres (default: sqlite)
//   - DATABASE_PATH (./signflow.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis (enables distributed order locks when set):
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB (0), REDIS_POOL_SIZE (10)
//
// Notifications:
//   - SMTP_ENABLED (false), SMTP_HOST, SMTP_PORT (587), SMTP_USERNAME, SMTP_PASSWORD,
//     SMTP_FROM, SMTP_FROM_NAME, SMTP_USE_SSL, SMTP_SKIP_VERIFY, NOTIFY_RECIPIENT
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting of the service. Load fills it and Validate
// must pass before it is used.
type Config struct {
	Port           string
	LogLevel       string
	Environment    string
	ClientIdentity string

	ProviderBaseURL string
	BackendBaseURL  string
	APIKey          string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	TokenScope      string

	HTTPTimeout        time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryBudget        time.Duration
	CacheType          string
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitShared   bool

	BreakerEnabled     bool
	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	MetricsMaxEntries int
	MetricsMaxAge     time.Duration

	WebhookVerification    string
	WebhookSecret          string
	WebhookSignatureHeader string
	WebhookRateLimitRPS    float64
	WebhookRateLimitBurst  int

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	SMTPEnabled     bool
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPFromName    string
	SMTPUseSSL      bool
	SMTPSkipVerify  bool
	NotifyRecipient string

	// parse failures found by Load, reported by Validate
	loadErrors []string
}

// Load reads the environment. Malformed numbers and durations fall back to
// their defaults and are reported by Validate.
func Load() *Config {
	c := &Config{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Environment:    getEnv("ENVIRONMENT", "production"),
		ClientIdentity: getEnv("CLIENT_IDENTITY", ""),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", ""),
		BackendBaseURL:  getEnv("BACKEND_BASE_URL", ""),
		APIKey:          getEnv("API_KEY", ""),
		TokenURL:        getEnv("TOKEN_URL", ""),
		ClientID:        getEnv("CLIENT_ID", ""),
		ClientSecret:    getEnv("CLIENT_SECRET", ""),
		TokenScope:      getEnv("TOKEN_SCOPE", ""),

		CacheType:        getEnv("CACHE_TYPE", "memory"),
		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitShared:  getBoolEnv("RATE_LIMIT_SHARED", false),
		BreakerEnabled:   getBoolEnv("BREAKER_ENABLED", true),

		WebhookVerification:    strings.ToLower(getEnv("WEBHOOK_VERIFICATION", "enforce")),
		WebhookSecret:          getEnv("WEBHOOK_SECRET", ""),
		WebhookSignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Signature"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./signflow.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresDB:       getEnv("POSTGRES_DB", "signflow"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		SMTPEnabled:     getBoolEnv("SMTP_ENABLED", false),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:        getEnv("SMTP_FROM", ""),
		SMTPFromName:    getEnv("SMTP_FROM_NAME", "signflow"),
		SMTPUseSSL:      getBoolEnv("SMTP_USE_SSL", false),
		SMTPSkipVerify:  getBoolEnv("SMTP_SKIP_VERIFY", false),
		NotifyRecipient: getEnv("NOTIFY_RECIPIENT", ""),
	}

	c.HTTPTimeout = c.getDurationEnv("HTTP_TIMEOUT", 15*time.Second)
	c.RetryMaxAttempts = c.getIntEnv("RETRY_MAX_ATTEMPTS", 3)
	c.RetryBaseDelay = c.getDurationEnv("RETRY_BASE_DELAY", 500*time.Millisecond)
	c.RetryMaxDelay = c.getDurationEnv("RETRY_MAX_DELAY", 10*time.Second)
	c.RetryBudget = c.getDurationEnv("RETRY_BUDGET", 45*time.Second)
	c.CacheTTL = c.getDurationEnv("CACHE_TTL", 5*time.Minute)
	c.CacheSweepInterval = c.getDurationEnv("CACHE_SWEEP_INTERVAL", time.Minute)
	c.RateLimitRequests = c.getIntEnv("RATE_LIMIT_REQUESTS", 60)
	c.RateLimitWindow = c.getDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	c.BreakerMaxFailures = c.getIntEnv("BREAKER_MAX_FAILURES", 5)
	c.BreakerTimeout = c.getDurationEnv("BREAKER_TIMEOUT", 30*time.Second)
	c.MetricsMaxEntries = c.getIntEnv("METRICS_MAX_ENTRIES", 500)
	c.MetricsMaxAge = c.getDurationEnv("METRICS_MAX_AGE", time.Hour)
	c.WebhookRateLimitRPS = c.getFloatEnv("WEBHOOK_RATE_LIMIT_RPS", 20)
	c.WebhookRateLimitBurst = c.getIntEnv("WEBHOOK_RATE_LIMIT_BURST", 40)
	c.PostgresPort = c.getIntEnv("POSTGRES_PORT", 5432)
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)
	c.SMTPPort = c.getIntEnv("SMTP_PORT", 587)

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings; anything else yields the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a whole number", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a number", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a valid duration (e.g., '30s', '1m')", key))
		return defaultValue
	}
	return parsed
}

// Validate checks required settings and cross-field rules. The first
// problem found is returned.
func (c *Config) Validate() error {
	if len(c.loadErrors) > 0 {
		return fmt.Errorf("%s", c.loadErrors[0])
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.ClientIdentity == "" {
		return fmt.Errorf("CLIENT_IDENTITY environment variable is required")
	}

	if c.ProviderBaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL environment variable is required")
	}
	if err := validateURL("PROVIDER_BASE_URL", c.ProviderBaseURL); err != nil {
		return err
	}
	if c.BackendBaseURL != "" {
		if err := validateURL("BACKEND_BASE_URL", c.BackendBaseURL); err != nil {
			return err
		}
	}

	if c.APIKey == "" && c.TokenURL == "" {
		return fmt.Errorf("API_KEY or TOKEN_URL is required to authenticate with the provider")
	}
	if c.TokenURL != "" {
		if err := validateURL("TOKEN_URL", c.TokenURL); err != nil {
			return err
		}
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("CLIENT_ID and CLIENT_SECRET are required when TOKEN_URL is set")
		}
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.HTTPTimeout <= 0 || c.RetryBudget <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT and RETRY_BUDGET must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must not be shorter than RETRY_BASE_DELAY")
	}

	switch c.CacheType {
	case "memory":
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when CACHE_TYPE is redis")
		}
	default:
		return fmt.Errorf("CACHE_TYPE must be 'memory' or 'redis'")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.RateLimitEnabled {
		if c.RateLimitRequests < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be a positive number")
		}
		if c.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
		if c.RateLimitShared && c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when RATE_LIMIT_SHARED is true")
		}
	}

	switch c.WebhookVerification {
	case "enforce":
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_VERIFICATION is enforce; set WEBHOOK_VERIFICATION=disabled to accept unsigned webhooks")
		}
	case "disabled":
	default:
		return fmt.Errorf("WEBHOOK_VERIFICATION must be 'enforce' or 'disabled'")
	}
	if c.WebhookRateLimitRPS < 0 || c.WebhookRateLimitBurst < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_RPS and WEBHOOK_RATE_LIMIT_BURST must not be negative")
	}

	switch c.DatabaseType {
	case "memory", "sqlite":
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'memory', 'sqlite' or 'postgres'")
	}

	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.SMTPEnabled {
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when SMTP_ENABLED is true")
		}
	}

	return nil
}

// StorageType normalizes the postgresql alias
func (c *Config) StorageType() string {
	if c.DatabaseType == "postgresql" {
		return "postgres"
	}
	return c.DatabaseType
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	return nil
}
