// Package correlation generates and propagates per-call trace identifiers.
//
// A Context is created fresh for every outbound gateway call. It is never
// persisted; it travels as the X-Correlation-ID header and as a log field.
package correlation

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HeaderName is the header carrying the correlation id on outbound and inbound requests
const HeaderName = "X-Correlation-ID"

type ctxKey struct{}

// Context identifies a single call for tracing.
type Context struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// New returns a fresh correlation context
func New() Context {
	return Context{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

// WithContext stores c in ctx
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the correlation context stored in ctx, if any
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}

// Ensure returns ctx with a correlation context attached, creating one when absent.
func Ensure(ctx context.Context) (context.Context, Context) {
	if c, ok := FromContext(ctx); ok {
		return ctx, c
	}
	c := New()
	return WithContext(ctx, c), c
}

// Child derives a new correlation context for an outbound call made while
// handling ctx. The parent id is kept as a prefix so log lines can be joined.
func Child(ctx context.Context) Context {
	c := New()
	if parent, ok := FromContext(ctx); ok && parent.ID != "" {
		c.ID = parent.ID + "." + c.ID[:8]
	}
	return c
}

// FromRequest reuses an inbound X-Correlation-ID header when present.
func FromRequest(r *http.Request) Context {
	if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" && len(id) <= 128 {
		return Context{ID: id, CreatedAt: time.Now().UTC()}
	}
	return New()
}
