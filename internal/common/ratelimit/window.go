// Package ratelimit bounds outbound gateway traffic with a fixed-window
// counter and protects the webhook ingress with a per-key token bucket.
//
// Two window backends are provided:
//
//   - FixedWindow keeps the window in process memory.
//   - DistributedWindow counts in Redis with INCR/PEXPIRE so several
//     processes share one budget.
//
// KeyedLimiter wraps golang.org/x/time/rate and is used by HTTPMiddleware.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Window is a snapshot of a fixed rate-limit window.
// 0 <= Remaining <= Limit always holds.
type Window struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter hands out permits for outbound requests
type Limiter interface {
	// TryAcquire consumes one permit if available
	TryAcquire(ctx context.Context) (Window, bool)
	// Snapshot returns the current window without consuming a permit
	Snapshot(ctx context.Context) Window
	// ResetExpired resets the window if it has expired; called by the owner's timer
	ResetExpired(ctx context.Context)
}

// Config describes a fixed window
type Config struct {
	Enabled bool          `json:"enabled"`
	Limit   int           `json:"limit"`
	Window  time.Duration `json:"window"`
}

// Validate checks the window configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %v", c.Window)
	}
	return nil
}

// FixedWindow is an in-process fixed-window counter.
type FixedWindow struct {
	mu     sync.Mutex
	config Config
	window Window
	now    func() time.Time
}

// NewFixedWindow creates a local fixed-window limiter
func NewFixedWindow(config Config) (*FixedWindow, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	fw := &FixedWindow{config: config, now: time.Now}
	fw.window = Window{Remaining: config.Limit, Limit: config.Limit, ResetAt: fw.now().Add(config.Window)}
	return fw, nil
}

// WithClock replaces the time source and restarts the window, used by tests
func (fw *FixedWindow) WithClock(now func() time.Time) *FixedWindow {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.now = now
	fw.window.ResetAt = now().Add(fw.config.Window)
	return fw
}

// resetIfExpired must be called with mu held
func (fw *FixedWindow) resetIfExpired(now time.Time) {
	if !now.Before(fw.window.ResetAt) {
		fw.window = Window{
			Remaining: fw.config.Limit,
			Limit:     fw.config.Limit,
			ResetAt:   now.Add(fw.config.Window),
		}
	}
}

// TryAcquire consumes one permit if the window has any left
func (fw *FixedWindow) TryAcquire(ctx context.Context) (Window, bool) {
	if !fw.config.Enabled {
		return Window{}, true
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.resetIfExpired(fw.now())
	if fw.window.Remaining <= 0 {
		return fw.window, false
	}
	fw.window.Remaining--
	return fw.window, true
}

// Snapshot returns the current window
func (fw *FixedWindow) Snapshot(ctx context.Context) Window {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.resetIfExpired(fw.now())
	return fw.window
}

// ResetExpired resets the window if its reset time has passed
func (fw *FixedWindow) ResetExpired(ctx context.Context) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.resetIfExpired(fw.now())
}

var _ Limiter = (*FixedWindow)(nil)
