// Package circuitbreaker guards the provider transport with sony/gobreaker.
// An open circuit surfaces as a retryable ServerUnavailable error so callers
// treat it like any other outage.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/metrics"
)

// State mirrors gobreaker's states
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Config controls when the provider circuit trips
type Config struct {
	// MaxFailures consecutive transport or 5xx failures open the circuit
	MaxFailures int
	// Timeout is the open period before a half-open probe
	Timeout time.Duration
	// MaxConcurrentRequests probes are let through while half-open
	MaxConcurrentRequests int
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, MaxConcurrentRequests: 1}
}

func (c Config) Validate() error {
	switch {
	case c.MaxFailures <= 0:
		return fmt.Errorf("breaker max failures must be positive, got %d", c.MaxFailures)
	case c.Timeout <= 0:
		return fmt.Errorf("breaker timeout must be positive, got %v", c.Timeout)
	case c.MaxConcurrentRequests <= 0:
		return fmt.Errorf("breaker half-open probes must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// Breaker wraps one gobreaker instance per remote
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New builds a breaker named after the remote it guards. An invalid config
// is replaced by DefaultConfig.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.String("breaker", name), logging.Err(err))
		config = DefaultConfig()
	}

	threshold := uint32(config.MaxFailures)
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Provider circuit changed state",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
		IsSuccessful: countsAsSuccess,
	})

	return &Breaker{name: name, cb: cb}
}

// countsAsSuccess keeps answers from a reachable remote out of the failure
// count: only outages and transport errors trip the circuit.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	switch errors.GetType(err) {
	case errors.ErrTypeServerUnavailable, errors.ErrTypeNetwork, errors.ErrTypeUnknown:
		return false
	}
	return true
}

// Execute runs fn unless the circuit is open or the half-open probe quota is used
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.NetworkError("request cancelled", err)
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.ServerUnavailableError(fmt.Sprintf("provider circuit %q is %s", b.name, b.State()), 0).
			WithContext("breaker", b.name)
	}
	return err
}

func (b *Breaker) State() State {
	return b.cb.State()
}

// Counts exposes gobreaker's counters for the current interval
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
