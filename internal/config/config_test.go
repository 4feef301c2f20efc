package config

import (
	"strings"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "ENVIRONMENT", "CLIENT_IDENTITY", "PROVIDER_BASE_URL", "BACKEND_BASE_URL",
	"API_KEY", "TOKEN_URL", "CLIENT_ID", "CLIENT_SECRET", "HTTP_TIMEOUT", "RETRY_MAX_ATTEMPTS",
	"RETRY_BASE_DELAY", "RETRY_MAX_DELAY", "RETRY_BUDGET", "CACHE_TYPE", "CACHE_TTL",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "RATE_LIMIT_SHARED",
	"WEBHOOK_VERIFICATION", "WEBHOOK_SECRET", "WEBHOOK_SIGNATURE_HEADER", "WEBHOOK_RATE_LIMIT_RPS",
	"DATABASE_TYPE", "DATABASE_PATH", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER",
	"REDIS_ADDRESS", "REDIS_DB", "REDIS_POOL_SIZE", "SMTP_ENABLED", "SMTP_HOST", "SMTP_FROM",
}

// clearTestEnvVars blanks every variable for the duration of the test
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		t.Setenv(key, "")
	}
}

func setTestEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func validEnv() map[string]string {
	return map[string]string{
		"CLIENT_IDENTITY":   "shop-plugin",
		"PROVIDER_BASE_URL": "https://api.signing.example/v1",
		"API_KEY":           "key-1",
		"WEBHOOK_SECRET":    "whsec",
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	c := Load()

	if c.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", c.Port, "8080")
	}
	if c.Environment != "production" {
		t.Errorf("Load() Environment = %v, want production", c.Environment)
	}
	if c.HTTPTimeout != 15*time.Second {
		t.Errorf("Load() HTTPTimeout = %v, want 15s", c.HTTPTimeout)
	}
	if c.RetryMaxAttempts != 3 {
		t.Errorf("Load() RetryMaxAttempts = %v, want 3", c.RetryMaxAttempts)
	}
	if c.RetryBudget != 45*time.Second {
		t.Errorf("Load() RetryBudget = %v, want 45s", c.RetryBudget)
	}
	if !c.RateLimitEnabled || c.RateLimitRequests != 60 || c.RateLimitWindow != time.Minute {
		t.Errorf("Load() rate limit = %v/%v/%v, want true/60/1m", c.RateLimitEnabled, c.RateLimitRequests, c.RateLimitWindow)
	}
	if c.WebhookVerification != "enforce" {
		t.Errorf("Load() WebhookVerification = %v, want enforce", c.WebhookVerification)
	}
	if c.WebhookSignatureHeader != "X-Signature" {
		t.Errorf("Load() WebhookSignatureHeader = %v, want X-Signature", c.WebhookSignatureHeader)
	}
	if c.DatabaseType != "sqlite" || c.DatabasePath != "./signflow.db" {
		t.Errorf("Load() database = %v %v, want sqlite ./signflow.db", c.DatabaseType, c.DatabasePath)
	}
	if c.RedisAddress != "" {
		t.Errorf("Load() RedisAddress = %v, want empty", c.RedisAddress)
	}
	if c.PostgresPort != 5432 {
		t.Errorf("Load() PostgresPort = %v, want 5432", c.PostgresPort)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	setTestEnvVars(t, map[string]string{
		"PORT":                   "9090",
		"RETRY_MAX_ATTEMPTS":     "5",
		"RETRY_BASE_DELAY":       "250ms",
		"CACHE_TTL":              "30s",
		"RATE_LIMIT_ENABLED":     "false",
		"WEBHOOK_VERIFICATION":   "DISABLED",
		"WEBHOOK_RATE_LIMIT_RPS": "2.5",
		"REDIS_ADDRESS":          "redis:6379",
		"REDIS_DB":               "3",
	})

	c := Load()

	if c.Port != "9090" {
		t.Errorf("Port = %v, want 9090", c.Port)
	}
	if c.RetryMaxAttempts != 5 || c.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("retry = %v/%v, want 5/250ms", c.RetryMaxAttempts, c.RetryBaseDelay)
	}
	if c.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v, want 30s", c.CacheTTL)
	}
	if c.RateLimitEnabled {
		t.Errorf("RateLimitEnabled = true, want false")
	}
	if c.WebhookVerification != "disabled" {
		t.Errorf("WebhookVerification = %v, want disabled", c.WebhookVerification)
	}
	if c.WebhookRateLimitRPS != 2.5 {
		t.Errorf("WebhookRateLimitRPS = %v, want 2.5", c.WebhookRateLimitRPS)
	}
	if c.RedisAddress != "redis:6379" || c.RedisDB != 3 {
		t.Errorf("redis = %v/%v, want redis:6379/3", c.RedisAddress, c.RedisDB)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "valid", env: map[string]string{}},
		{name: "missing client identity", env: map[string]string{"CLIENT_IDENTITY": ""}, wantErr: "CLIENT_IDENTITY"},
		{name: "missing provider url", env: map[string]string{"PROVIDER_BASE_URL": ""}, wantErr: "PROVIDER_BASE_URL"},
		{name: "relative provider url", env: map[string]string{"PROVIDER_BASE_URL": "/api"}, wantErr: "absolute URL"},
		{name: "invalid port", env: map[string]string{"PORT": "99999"}, wantErr: "PORT"},
		{name: "malformed duration", env: map[string]string{"HTTP_TIMEOUT": "soon"}, wantErr: "HTTP_TIMEOUT"},
		{name: "malformed number", env: map[string]string{"RETRY_MAX_ATTEMPTS": "three"}, wantErr: "RETRY_MAX_ATTEMPTS"},
		{name: "zero attempts", env: map[string]string{"RETRY_MAX_ATTEMPTS": "0"}, wantErr: "RETRY_MAX_ATTEMPTS"},
		{name: "no provider credentials", env: map[string]string{"API_KEY": ""}, wantErr: "API_KEY or TOKEN_URL"},
		{name: "client credentials instead of api key", env: map[string]string{
			"API_KEY": "", "TOKEN_URL": "https://auth.example/token", "CLIENT_ID": "id", "CLIENT_SECRET": "secret",
		}},
		{name: "token url without credentials", env: map[string]string{"TOKEN_URL": "https://auth.example/token"}, wantErr: "CLIENT_ID"},
		{name: "enforce without secret", env: map[string]string{"WEBHOOK_SECRET": ""}, wantErr: "WEBHOOK_SECRET"},
		{name: "disabled without secret", env: map[string]string{"WEBHOOK_SECRET": "", "WEBHOOK_VERIFICATION": "disabled"}},
		{name: "unknown verification mode", env: map[string]string{"WEBHOOK_VERIFICATION": "maybe"}, wantErr: "WEBHOOK_VERIFICATION"},
		{name: "unknown database", env: map[string]string{"DATABASE_TYPE": "mysql"}, wantErr: "DATABASE_TYPE"},
		{name: "postgres alias", env: map[string]string{"DATABASE_TYPE": "postgresql"}},
		{name: "redis cache without redis", env: map[string]string{"CACHE_TYPE": "redis"}, wantErr: "REDIS_ADDRESS"},
		{name: "shared limiter without redis", env: map[string]string{"RATE_LIMIT_SHARED": "true"}, wantErr: "REDIS_ADDRESS"},
		{name: "redis db out of range", env: map[string]string{"REDIS_ADDRESS": "r:6379", "REDIS_DB": "16"}, wantErr: "REDIS_DB"},
		{name: "smtp without host", env: map[string]string{"SMTP_ENABLED": "true"}, wantErr: "SMTP_HOST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			setTestEnvVars(t, validEnv())
			setTestEnvVars(t, tt.env)

			err := Load().Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStorageType(t *testing.T) {
	c := &Config{DatabaseType: "postgresql"}
	if got := c.StorageType(); got != "postgres" {
		t.Errorf("StorageType() = %v, want postgres", got)
	}
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("SIGNFLOW_TEST_BOOL", "not-a-bool")
	if !getBoolEnv("SIGNFLOW_TEST_BOOL", true) {
		t.Errorf("getBoolEnv() with invalid value should return default")
	}
	t.Setenv("SIGNFLOW_TEST_BOOL", "0")
	if getBoolEnv("SIGNFLOW_TEST_BOOL", true) {
		t.Errorf("getBoolEnv(\"0\") = true, want false")
	}
}
