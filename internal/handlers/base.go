// Package handlers exposes the signing flow over HTTP: provider webhooks and
// the client API.
package handlers

import (
	"context"
	"time"

	"signflow/internal/common/logging"
	"signflow/internal/gateway"
	"signflow/internal/signature"
	"signflow/internal/signing"
)

// DefaultMaxBodyBytes caps inbound request bodies
const DefaultMaxBodyBytes = 1 << 20

// SigningService is the orchestrator surface the handlers drive
type SigningService interface {
	StartSession(ctx context.Context, req signing.StartRequest) (*signing.Session, error)
	GetSession(ctx context.Context, orderRef string) (*signing.Session, error)
	ApplyEvent(ctx context.Context, ev signing.Event) (signing.Outcome, error)
	TriggerCompletion(ctx context.Context, orderRef string) (*signing.Session, error)
	CancelSession(ctx context.Context, sessionID string) error
	InitiateIdentity(ctx context.Context, orderRef, redirectURL string) (*signing.Session, error)
}

// GatewayMetrics exposes the gateway's recent-call ring buffer
type GatewayMetrics interface {
	Metrics() gateway.MetricsSummary
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	signing      SigningService
	verifier     *signature.Verifier
	gateway      GatewayMetrics
	checks       map[string]HealthCheck
	logger       logging.Logger
	maxBodyBytes int64
	now          func() time.Time
}

// Option configures Handlers
type Option func(*Handlers)

func WithLogger(l logging.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// WithHealthCheck adds a named dependency to GET /health
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handlers) { h.checks[name] = check }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithClock overrides time.Now for webhook receipt timestamps
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

func New(svc SigningService, verifier *signature.Verifier, gw GatewayMetrics, opts ...Option) *Handlers {
	h := &Handlers{
		signing:      svc,
		verifier:     verifier,
		gateway:      gw,
		checks:       make(map[string]HealthCheck),
		logger:       logging.GetGlobalLogger(),
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
