// Package http builds the pooled *http.Client the gateway sends requests with.
package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const defaultUserAgent = "signflow/1.0"

// ClientConfig describes the outbound client. Timeout bounds a single
// attempt; the gateway's retry budget bounds the whole sequence.
type ClientConfig struct {
	Timeout         time.Duration
	DialTimeout     time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	UserAgent       string
	Transport       http.RoundTripper
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         15 * time.Second,
		DialTimeout:     5 * time.Second,
		MaxIdleConns:    32,
		MaxConnsPerHost: 16,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       defaultUserAgent,
	}
}

type ClientOption func(*ClientConfig)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *ClientConfig) { c.MaxConnsPerHost = n }
}

// WithClientIdentity appends the plugin identity to the User-Agent so the
// provider can tell installations apart in its logs
func WithClientIdentity(identity string) ClientOption {
	return func(c *ClientConfig) {
		if identity != "" {
			c.UserAgent = defaultUserAgent + " (" + identity + ")"
		}
	}
}

// WithTransport replaces the pooled transport, mostly for tests
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) { c.Transport = transport }
}

// NewHTTPClient returns a client that only speaks TLS 1.2+ and stamps a
// User-Agent on requests that lack one
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			TLSHandshakeTimeout:   cfg.DialTimeout,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
			MaxConnsPerHost:       cfg.MaxConnsPerHost,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			ExpectContinueTimeout: time.Second,
		}
	}
	if cfg.UserAgent != "" {
		transport = userAgent{next: transport, value: cfg.UserAgent}
	}

	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}

type userAgent struct {
	next  http.RoundTripper
	value string
}

func (t userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.value)
	return t.next.RoundTrip(clone)
}
