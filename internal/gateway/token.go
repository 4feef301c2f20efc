package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"signflow/internal/common/errors"
)

// refreshBuffer is how long before expiry a cached token is considered stale
const refreshBuffer = 30 * time.Second

// TokenProvider supplies the bearer token for outbound calls
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a long-lived API key
type StaticToken string

// Token returns the key, or a configuration error when it is empty
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", errors.ConfigError("api key is not configured")
	}
	return string(s), nil
}

// ClientCredentialsConfig configures the OAuth2 client-credentials flow
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        []string
}

// ClientCredentials fetches short-lived tokens from a token endpoint and
// caches each one until shortly before it expires.
type ClientCredentials struct {
	config      ClientCredentialsConfig
	httpClient  *http.Client
	accessToken string
	expiresAt   time.Time
	now         func() time.Time
	mu          sync.RWMutex
}

// NewClientCredentials creates a token provider for the client-credentials grant
func NewClientCredentials(config ClientCredentialsConfig, httpClient *http.Client) *ClientCredentials {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ClientCredentials{
		config:     config,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns a valid access token, refreshing if necessary
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.accessToken != "" && c.now().Add(refreshBuffer).Before(c.expiresAt) {
		token := c.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	return c.refresh(ctx)
}

func (c *ClientCredentials) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited
	if c.accessToken != "" && c.now().Add(refreshBuffer).Before(c.expiresAt) {
		return c.accessToken, nil
	}

	if c.config.TokenURL == "" || c.config.ClientID == "" || c.config.ClientSecret == "" {
		return "", errors.ConfigError("token endpoint is not configured: missing credentials")
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	if len(c.config.Scope) > 0 {
		data.Set("scope", strings.Join(c.config.Scope, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", errors.ConfigError(fmt.Sprintf("invalid token endpoint: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NetworkError("token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NetworkError("failed to read token response", err)
	}

	if appErr := classifyStatus(resp.StatusCode, body); appErr != nil {
		// A rejected client-credentials request is a credentials problem
		if appErr.Type == errors.ErrTypeValidation {
			appErr = errors.ConfigError(fmt.Sprintf("token endpoint rejected credentials: %s", appErr.Message))
		}
		return "", appErr
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", errors.UnknownError("failed to parse token response", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.UnknownError("no access token in response", nil)
	}

	c.accessToken = tokenResp.AccessToken
	c.expiresAt = c.tokenExpiry(tokenResp.AccessToken, tokenResp.ExpiresIn)

	return c.accessToken, nil
}

// tokenExpiry prefers the JWT exp claim, then expires_in, then one hour
func (c *ClientCredentials) tokenExpiry(token string, expiresIn int) time.Time {
	if exp, ok := jwtExpiry(token); ok {
		return exp
	}
	if expiresIn > 0 {
		return c.now().Add(time.Duration(expiresIn) * time.Second)
	}
	return c.now().Add(time.Hour)
}

// jwtExpiry reads the exp claim without verifying the signature. The token
// is only inspected to size the local cache; the provider verifies it.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiresAt returns the expiry of the cached token, zero when none is cached
func (c *ClientCredentials) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}
