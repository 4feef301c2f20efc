// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts inbound requests by method, route and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records inbound request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// GatewayRequests counts outbound gateway calls by operation and outcome (ok or an error kind)
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_requests_total", Help: "Outbound gateway requests by operation and outcome."},
		[]string{"operation", "outcome"},
	)
	// GatewayDuration tracks end-to-end gateway call latency including retries
	GatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "gateway_request_duration_ms", Help: "Gateway request duration in ms.", Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}},
		[]string{"operation"},
	)
	// GatewayRetries counts retry attempts after the first one
	GatewayRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_retries_total", Help: "Gateway retry attempts."},
		[]string{"operation"},
	)
	// GatewayCacheHits counts reads served from the response cache
	GatewayCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gateway_cache_hits_total", Help: "Gateway reads served from cache."},
	)
	// GatewayRateLimitRemaining mirrors the remaining permits in the current window
	GatewayRateLimitRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "gateway_rate_limit_remaining", Help: "Remaining outbound permits in the current window."},
	)

	// BreakerState is the provider circuit state (0 closed, 1 half-open, 2 open)
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gateway_breaker_state", Help: "Circuit breaker state by breaker name."},
		[]string{"breaker"},
	)

	// WebhookEvents counts inbound provider events by type and outcome
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_total", Help: "Webhook events by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	// SessionTransitions counts signing-session state changes
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signing_session_transitions_total", Help: "Signing session state transitions."},
		[]string{"from", "to"},
	)
	// Notifications counts notification deliveries by template and status
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_total", Help: "Notification deliveries by template and status."},
		[]string{"template", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(GatewayRequests)
		Registry.MustRegister(GatewayDuration)
		Registry.MustRegister(GatewayRetries)
		Registry.MustRegister(GatewayCacheHits)
		Registry.MustRegister(GatewayRateLimitRemaining)
		Registry.MustRegister(BreakerState)
		Registry.MustRegister(WebhookEvents)
		Registry.MustRegister(SessionTransitions)
		Registry.MustRegister(Notifications)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves Registry in the Prometheus exposition format
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
