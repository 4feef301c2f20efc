package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/internal/common/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Enabled: true, Limit: 0, Window: time.Second}.Validate())
	assert.Error(t, Config{Enabled: true, Limit: 5}.Validate())
	assert.NoError(t, Config{Enabled: true, Limit: 5, Window: time.Second}.Validate())
}

func TestFixedWindow_ExhaustsAtLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fw, err := NewFixedWindow(Config{Enabled: true, Limit: 3, Window: time.Minute})
	require.NoError(t, err)
	fw.WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		w, ok := fw.TryAcquire(ctx)
		require.True(t, ok, "permit %d", i+1)
		assert.Equal(t, 3-i-1, w.Remaining)
		assert.Equal(t, 3, w.Limit)
	}

	w, ok := fw.TryAcquire(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, w.Remaining)

	// Still refused right before reset
	clock.Advance(time.Minute - time.Nanosecond)
	_, ok = fw.TryAcquire(ctx)
	assert.False(t, ok)

	clock.Advance(time.Nanosecond)
	w, ok = fw.TryAcquire(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, w.Remaining)
}

func TestFixedWindow_ResetExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fw, err := NewFixedWindow(Config{Enabled: true, Limit: 1, Window: time.Second})
	require.NoError(t, err)
	fw.WithClock(clock.Now)
	ctx := context.Background()

	_, ok := fw.TryAcquire(ctx)
	require.True(t, ok)
	assert.Equal(t, 0, fw.Snapshot(ctx).Remaining)

	clock.Advance(2 * time.Second)
	fw.ResetExpired(ctx)
	snap := fw.Snapshot(ctx)
	assert.Equal(t, 1, snap.Remaining)
	assert.Equal(t, clock.Now().Add(time.Second), snap.ResetAt)
}

func TestFixedWindow_Disabled(t *testing.T) {
	fw, err := NewFixedWindow(Config{Enabled: false})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, ok := fw.TryAcquire(context.Background())
		assert.True(t, ok)
	}
}

type fakeRedis struct {
	count int
	ttl   time.Duration
	err   error
}

func (f *fakeRedis) IncrWindow(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.count++
	if f.ttl == 0 {
		f.ttl = window
	}
	return f.count, f.ttl, nil
}

func (f *fakeRedis) PeekWindow(ctx context.Context, key string) (int, time.Duration, error) {
	return f.count, f.ttl, f.err
}

func (f *fakeRedis) Health() error { return f.err }

func TestDistributedWindow(t *testing.T) {
	redis := &fakeRedis{}
	dw, err := NewDistributedWindow(Config{Enabled: true, Limit: 2, Window: time.Minute}, "gateway", redis, logging.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	w, ok := dw.TryAcquire(ctx)
	assert.True(t, ok)
	assert.Equal(t, 1, w.Remaining)
	_, ok = dw.TryAcquire(ctx)
	assert.True(t, ok)
	w, ok = dw.TryAcquire(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, w.Remaining)
	assert.Equal(t, 0, dw.Snapshot(ctx).Remaining)
}

func TestDistributedWindow_FailsOpen(t *testing.T) {
	redis := &fakeRedis{err: errors.New("connection refused")}
	dw, err := NewDistributedWindow(Config{Enabled: true, Limit: 1, Window: time.Minute}, "gateway", redis, logging.NewNopLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok := dw.TryAcquire(context.Background())
		assert.True(t, ok)
	}
	assert.Error(t, dw.Health())
}

func TestNewDistributedWindow_RequiresClient(t *testing.T) {
	_, err := NewDistributedWindow(Config{Enabled: true, Limit: 1, Window: time.Second}, "k", nil, nil)
	assert.Error(t, err)
}

func TestKeyedLimiter_PerKey(t *testing.T) {
	kl := NewKeyedLimiter(1, 2)
	assert.True(t, kl.Allow("a"))
	assert.True(t, kl.Allow("a"))
	assert.False(t, kl.Allow("a"))
	assert.True(t, kl.Allow("b"))
}

func TestHTTPMiddleware(t *testing.T) {
	kl := NewKeyedLimiter(1, 1)
	handler := HTTPMiddleware(kl, IPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/signing", nil)
	req.RemoteAddr = "10.0.0.1:4000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodPost, "/webhooks/signing", nil)
	other.RemoteAddr = "10.0.0.2:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:1234"
	assert.Equal(t, "192.168.1.9", IPKey(req))

	req.Header.Set("X-Real-IP", "172.16.0.4")
	assert.Equal(t, "172.16.0.4", IPKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", IPKey(req))
}
