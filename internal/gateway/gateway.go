// Package gateway executes outbound HTTP calls to the order backend and the
// signing provider.
//
// Every call gets a fresh correlation id, consults the response cache for
// idempotent reads, takes a permit from the rate limiter, retries transient
// failures with exponential backoff and jitter, and is recorded in a bounded
// metrics buffer. Network and HTTP failures never surface as Go errors from
// Request: they are classified into an *errors.AppError on the Result.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"signflow/internal/circuitbreaker"
	"signflow/internal/common/cache"
	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/common/ratelimit"
	"signflow/internal/common/utils"
	"signflow/internal/correlation"
	"signflow/internal/metrics"
)

const (
	HeaderClientIdentity   = "X-Client-Identity"
	HeaderEnvironment      = "X-Environment"
	HeaderRequestTimestamp = "X-Request-Timestamp"
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderContentSHA256    = "X-Content-SHA256"

	outcomeOK = "ok"

	maxResponseBytes = 10 << 20
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Config holds gateway configuration
type Config struct {
	// BaseURL is prepended to relative endpoints (the signing provider)
	BaseURL string
	// BackendBaseURL is the order/document backend
	BackendBaseURL string
	// ClientIdentity is sent on every call and is required
	ClientIdentity string
	Environment    string

	// Timeout caps a single HTTP attempt
	Timeout time.Duration
	Retry   utils.RetryConfig
	// RetryBudget caps the whole retry sequence; zero means no extra cap
	RetryBudget time.Duration

	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	RateLimit ratelimit.Config

	MetricsMaxEntries int
	MetricsMaxAge     time.Duration
}

// DefaultConfig returns production defaults without endpoints or identity
func DefaultConfig() Config {
	return Config{
		Timeout:            15 * time.Second,
		Retry:              utils.DefaultRetryConfig(),
		RetryBudget:        45 * time.Second,
		CacheTTL:           5 * time.Minute,
		CacheSweepInterval: time.Minute,
		RateLimit:          ratelimit.Config{Enabled: true, Limit: 60, Window: time.Minute},
		MetricsMaxEntries:  500,
		MetricsMaxAge:      time.Hour,
	}
}

// RequestOptions describes a single call
type RequestOptions struct {
	Method string
	// Body is marshalled to JSON; []byte and json.RawMessage are sent as is
	Body    interface{}
	Headers map[string]string
	// Idempotent marks a non-GET call as a cacheable read
	Idempotent bool
	// SkipCache forces a fresh read, used when polling status
	SkipCache bool
	CacheTTL  time.Duration
	// IdempotencyKey overrides the key derived from the correlation id
	IdempotencyKey string
	// Operation labels the call in metrics
	Operation string
}

// Result is the outcome of a gateway call. Exactly one of Data and Error is meaningful.
type Result struct {
	Success       bool             `json:"success"`
	Data          json.RawMessage  `json:"data,omitempty"`
	Error         *errors.AppError `json:"error,omitempty"`
	CorrelationID string           `json:"correlation_id"`
	Timestamp     time.Time        `json:"timestamp"`
	StatusCode    int              `json:"status_code,omitempty"`
	Attempts      int              `json:"attempts"`
	CacheHit      bool             `json:"cache_hit"`
}

// Decode unmarshals Data into v
func (r Result) Decode(v interface{}) error {
	if !r.Success {
		return r.Error
	}
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return errors.UnknownError("failed to decode response", err)
	}
	return nil
}

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// WithCache enables caching of idempotent reads
func WithCache(c cache.Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithRateLimiter replaces the local fixed-window limiter, e.g. with a shared one
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithTokenProvider sets the source of the bearer token
func WithTokenProvider(p TokenProvider) Option {
	return func(g *Gateway) { g.tokens = p }
}

// WithCircuitBreaker wraps the transport in a breaker
func WithCircuitBreaker(b *circuitbreaker.Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway is the resilient outbound HTTP client. Cache, limiter, recorder
// and timers are owned by the instance.
type Gateway struct {
	config   Config
	client   *http.Client
	cache    cache.Cache
	limiter  ratelimit.Limiter
	tokens   TokenProvider
	breaker  *circuitbreaker.Breaker
	recorder *Recorder
	logger   logging.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a gateway. A local fixed-window limiter is created from
// config.RateLimit unless WithRateLimiter is given.
func New(config Config, opts ...Option) (*Gateway, error) {
	if strings.TrimSpace(config.ClientIdentity) == "" {
		return nil, errors.ConfigError("client identity is not configured")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = utils.DefaultRetryConfig()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	if config.CacheSweepInterval <= 0 {
		config.CacheSweepInterval = DefaultConfig().CacheSweepInterval
	}

	g := &Gateway{
		config:   config,
		recorder: NewRecorder(config.MetricsMaxEntries, config.MetricsMaxAge),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		g.client = &http.Client{Timeout: config.Timeout}
	}
	if g.logger == nil {
		g.logger = logging.GetGlobalLogger()
	}
	if g.tokens == nil {
		g.tokens = StaticToken("")
	}
	if g.limiter == nil {
		limiter, err := ratelimit.NewFixedWindow(config.RateLimit)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("invalid rate limit: %v", err))
		}
		g.limiter = limiter
	}

	metrics.RegisterDefault()
	return g, nil
}

// Start launches the cache sweep, the rate-window reset and metrics pruning.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cron != nil {
		return nil
	}

	c := cron.New()
	if g.cache != nil {
		if _, err := c.AddFunc(every(g.config.CacheSweepInterval), g.sweepCache); err != nil {
			return fmt.Errorf("failed to schedule cache sweep: %w", err)
		}
	}
	if g.config.RateLimit.Enabled && g.config.RateLimit.Window > 0 {
		if _, err := c.AddFunc(every(g.config.RateLimit.Window), g.resetWindow); err != nil {
			return fmt.Errorf("failed to schedule rate window reset: %w", err)
		}
	}
	if _, err := c.AddFunc(every(time.Minute), func() { g.recorder.Prune() }); err != nil {
		return fmt.Errorf("failed to schedule metrics pruning: %w", err)
	}

	c.Start()
	g.cron = c
	g.logger.Info("Gateway timers started",
		logging.Duration("cache_sweep_interval", g.config.CacheSweepInterval),
		logging.Duration("rate_window", g.config.RateLimit.Window))
	return nil
}

// Stop stops the timers and waits for a running job to finish
func (g *Gateway) Stop() {
	g.mu.Lock()
	c := g.cron
	g.cron = nil
	g.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	g.logger.Info("Gateway timers stopped")
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

func (g *Gateway) sweepCache() {
	removed := g.cache.Sweep(context.Background())
	if removed > 0 {
		g.logger.Debug("Swept expired cache entries", logging.Int("removed", removed))
	}
}

func (g *Gateway) resetWindow() {
	ctx := context.Background()
	g.limiter.ResetExpired(ctx)
	metrics.GatewayRateLimitRemaining.Set(float64(g.limiter.Snapshot(ctx).Remaining))
}

// Metrics returns the ring-buffer summary
func (g *Gateway) Metrics() MetricsSummary {
	return g.recorder.Summary()
}

// RateWindow returns the current rate-limit window
func (g *Gateway) RateWindow(ctx context.Context) ratelimit.Window {
	return g.limiter.Snapshot(ctx)
}

// call carries the per-call state through Request
type call struct {
	endpoint  string
	method    string
	target    string
	body      []byte
	operation string
	corr      correlation.Context
	start     time.Time
	logger    logging.Logger
}

// Request performs a call to endpoint. Relative endpoints are resolved
// against Config.BaseURL.
func (g *Gateway) Request(ctx context.Context, endpoint string, opts RequestOptions) Result {
	corr := correlation.Child(ctx)
	ctx = correlation.WithContext(ctx, corr)

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	operation := opts.Operation
	if operation == "" {
		operation = "request"
	}

	c := &call{
		endpoint:  endpoint,
		method:    method,
		operation: operation,
		corr:      corr,
		start:     g.now(),
		logger: g.logger.WithContext(ctx).WithFields(
			logging.String("operation", operation),
			logging.String("method", method),
			logging.String("endpoint", endpoint)),
	}

	if appErr := g.prepare(c, opts); appErr != nil {
		c.logger.Error("Malformed gateway call", appErr)
		return g.finish(c, Result{Error: appErr}, 0)
	}

	idempotent := method == http.MethodGet || opts.Idempotent
	useCache := idempotent && !opts.SkipCache && g.cache != nil
	cacheKey := ""
	if useCache {
		cacheKey = g.cacheKey(c)
		if entry, ok := g.cache.Get(ctx, cacheKey); ok {
			metrics.GatewayCacheHits.Inc()
			c.logger.Debug("Gateway cache hit", logging.Int64("hit_count", entry.HitCount))
			return g.finish(c, Result{
				Success:    true,
				Data:       json.RawMessage(entry.Value),
				StatusCode: http.StatusOK,
				CacheHit:   true,
			}, 0)
		}
	}

	window, ok := g.limiter.TryAcquire(ctx)
	if g.config.RateLimit.Enabled {
		metrics.GatewayRateLimitRemaining.Set(float64(window.Remaining))
	}
	if !ok {
		appErr := errors.RateLimitError("gateway").
			WithContext("reset_at", window.ResetAt.UTC().Format(time.RFC3339))
		c.logger.Warn("Gateway rate limit exhausted",
			logging.Time("reset_at", window.ResetAt),
			logging.Int("limit", window.Limit))
		return g.finish(c, Result{Error: appErr}, 0)
	}

	idemKey := ""
	if !idempotent {
		idemKey = opts.IdempotencyKey
		if idemKey == "" {
			idemKey = utils.IdempotencyKey(method, corr.ID)
		}
	}

	result, attempts := g.execute(ctx, c, opts.Headers, idemKey)

	if result.Success && useCache {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = g.config.CacheTTL
		}
		if err := g.cache.Set(ctx, cacheKey, result.Data, ttl); err != nil {
			c.logger.Warn("Failed to cache gateway response", logging.Err(err))
		}
	}

	return g.finish(c, result, attempts)
}

// prepare validates the call and serializes the body
func (g *Gateway) prepare(c *call, opts RequestOptions) *errors.AppError {
	if strings.TrimSpace(c.endpoint) == "" {
		return errors.ProgrammerError("endpoint is required", nil)
	}
	if !allowedMethods[c.method] {
		return errors.ProgrammerError(fmt.Sprintf("unsupported method %q", c.method), nil)
	}
	if strings.TrimSpace(g.config.ClientIdentity) == "" {
		return errors.ProgrammerError("client identity is missing", nil)
	}

	target, err := g.resolve(c.endpoint)
	if err != nil {
		return errors.ProgrammerError(fmt.Sprintf("invalid endpoint %q", c.endpoint), err)
	}
	c.target = target

	switch b := opts.Body.(type) {
	case nil:
	case []byte:
		c.body = b
	case json.RawMessage:
		c.body = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return errors.ProgrammerError("request body is not serializable", err)
		}
		c.body = data
	}
	return nil
}

func (g *Gateway) resolve(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if g.config.BaseURL == "" {
		return "", fmt.Errorf("relative endpoint without base url")
	}
	joined := strings.TrimRight(g.config.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if _, err := url.Parse(joined); err != nil {
		return "", err
	}
	return joined, nil
}

// cacheKey is derived from method, resolved endpoint and serialized body
func (g *Gateway) cacheKey(c *call) string {
	return "gw:" + utils.ContentHash([]byte(c.method+" "+c.target+" "+string(c.body)))
}

// execute runs the retry loop and returns the final result and attempt count
func (g *Gateway) execute(ctx context.Context, c *call, headers map[string]string, idemKey string) (Result, int) {
	if g.config.RetryBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RetryBudget)
		defer cancel()
	}

	retry := g.config.Retry
	retry.RetryableErrors = errors.IsRetryable
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.GatewayRetries.WithLabelValues(c.operation).Inc()
		c.logger.Warn("Retrying gateway call",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err))
	}

	var (
		attempts int
		status   int
		data     []byte
		lastErr  *errors.AppError
	)

	err := utils.RetryWithBackoff(ctx, retry, func(attempt int) error {
		attempts = attempt
		var appErr *errors.AppError
		status, data, appErr = g.attempt(ctx, c, headers, idemKey)
		if appErr != nil {
			lastErr = appErr
			return appErr
		}
		return nil
	})

	if err == nil {
		return Result{Success: true, Data: json.RawMessage(data), StatusCode: status}, attempts
	}

	appErr, ok := errors.As(err)
	if !ok {
		// Cancelled or out of budget while backing off
		if lastErr != nil {
			appErr = lastErr.WithContext("retry_interrupted", err.Error())
		} else {
			appErr = errors.NetworkError("request cancelled", err)
		}
	}
	return Result{Error: appErr, StatusCode: status}, attempts
}

// attempt performs one HTTP exchange
func (g *Gateway) attempt(ctx context.Context, c *call, headers map[string]string, idemKey string) (int, []byte, *errors.AppError) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			return 0, nil, appErr
		}
		return 0, nil, errors.ConfigError(fmt.Sprintf("failed to resolve access token: %v", err))
	}

	var bodyReader io.Reader
	if c.body != nil {
		bodyReader = bytes.NewReader(c.body)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.target, bodyReader)
	if err != nil {
		return 0, nil, errors.ProgrammerError("failed to create request", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(correlation.HeaderName, c.corr.ID)
	req.Header.Set(HeaderClientIdentity, g.config.ClientIdentity)
	if g.config.Environment != "" {
		req.Header.Set(HeaderEnvironment, g.config.Environment)
	}
	req.Header.Set(HeaderRequestTimestamp, g.now().UTC().Format(time.RFC3339))
	if idemKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idemKey)
		req.Header.Set(HeaderContentSHA256, utils.ContentHash(c.body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var (
		status   int
		respBody []byte
		appErr   *errors.AppError
	)
	send := func() error {
		status, respBody, appErr = g.send(req)
		if appErr != nil {
			return appErr
		}
		return nil
	}

	if g.breaker != nil {
		if err := g.breaker.Execute(ctx, send); err != nil && appErr == nil {
			// Rejected by an open breaker without reaching the network
			appErr = classifyTransport(err)
		}
	} else {
		send()
	}

	return status, respBody, appErr
}

func (g *Gateway) send(req *http.Request) (int, []byte, *errors.AppError) {
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, errors.NetworkError("failed to read response body", err)
	}

	return resp.StatusCode, body, classifyStatus(resp.StatusCode, body)
}

// finish stamps the result and records it
func (g *Gateway) finish(c *call, result Result, attempts int) Result {
	now := g.now()
	result.CorrelationID = c.corr.ID
	result.Timestamp = now.UTC()
	result.Attempts = attempts
	if result.Error != nil {
		result.Success = false
		result.Data = nil
	}

	outcome := outcomeOK
	if result.Error != nil {
		outcome = string(result.Error.Type)
	}
	latency := now.Sub(c.start)

	g.recorder.Record(MetricsEntry{
		Endpoint:      c.endpoint,
		Method:        c.method,
		Status:        result.StatusCode,
		Outcome:       outcome,
		Latency:       latency,
		Attempts:      attempts,
		CorrelationID: c.corr.ID,
		CacheHit:      result.CacheHit,
		Timestamp:     now,
	})
	metrics.GatewayRequests.WithLabelValues(c.operation, outcome).Inc()
	metrics.GatewayDuration.WithLabelValues(c.operation).Observe(float64(latency.Milliseconds()))

	if result.Error != nil && !result.Error.Programmer {
		c.logger.Warn("Gateway call failed",
			logging.String("kind", string(result.Error.Type)),
			logging.Bool("retryable", result.Error.Retryable),
			logging.Int("status", result.StatusCode),
			logging.Int("attempts", attempts),
			logging.Err(result.Error))
	} else if result.Error == nil {
		c.logger.Debug("Gateway call succeeded",
			logging.Int("status", result.StatusCode),
			logging.Int("attempts", attempts),
			logging.Bool("cache_hit", result.CacheHit),
			logging.Duration("latency", latency))
	}

	return result
}
