package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/metrics"
)

func TestBreaker(t *testing.T) {
	logger := logging.NewNopLogger()

	t.Run("starts closed", func(t *testing.T) {
		cb := New("test-basic", Config{MaxFailures: 2, Timeout: 100 * time.Millisecond, MaxConcurrentRequests: 1}, logger)
		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb := New("test-failures", Config{MaxFailures: 3, Timeout: time.Minute, MaxConcurrentRequests: 1}, logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error {
				return errors.ServerUnavailableError(fmt.Sprintf("HTTP 503 #%d", i), 503)
			})
			assert.Error(t, err)
		}
		assert.Equal(t, StateOpen, cb.State())

		err := cb.Execute(context.Background(), func() error {
			t.Fatal("should not be called while open")
			return nil
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeServerUnavailable))
		assert.True(t, errors.IsRetryable(err))
		assert.Contains(t, err.Error(), "open")
	})

	t.Run("client errors do not trip", func(t *testing.T) {
		cb := New("test-client", Config{MaxFailures: 2, Timeout: time.Minute, MaxConcurrentRequests: 1}, logger)
		for i := 0; i < 5; i++ {
			_ = cb.Execute(context.Background(), func() error {
				return errors.ValidationError("bad input")
			})
			_ = cb.Execute(context.Background(), func() error {
				return errors.ConfigError("api key is not configured")
			})
		}
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open after timeout then closes", func(t *testing.T) {
		cb := New("test-half-open", Config{MaxFailures: 1, Timeout: 20 * time.Millisecond, MaxConcurrentRequests: 1}, logger)
		_ = cb.Execute(context.Background(), func() error { return errors.NetworkError("reset", nil) })
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, StateHalfOpen, cb.State())

		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("invalid config uses defaults", func(t *testing.T) {
		cb := New("test-invalid", Config{}, logger)
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, uint32(0), cb.Counts().Requests)
	})

	t.Run("cancelled context never reaches the remote", func(t *testing.T) {
		cb := New("test-cancelled", DefaultConfig(), logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := cb.Execute(ctx, func() error {
			t.Fatal("should not be called with a cancelled context")
			return nil
		})
		assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
	})
}

func TestBreaker_ExportsState(t *testing.T) {
	cb := New("test-gauge", Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1}, logging.NewNopLogger())
	assert.Equal(t, float64(StateClosed), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("test-gauge")))

	_ = cb.Execute(context.Background(), func() error { return errors.NetworkError("reset", nil) })
	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("test-gauge")))
}
