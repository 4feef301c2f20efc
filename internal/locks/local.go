package locks

import (
	"context"
	"sync"
	"time"

	"signflow/internal/common/errors"
)

// LocalManager provides in-process per-key mutual exclusion.
// Waiters are released in no particular order.
type LocalManager struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalManager creates an in-process lock manager
func NewLocalManager() *LocalManager {
	return &LocalManager{slots: make(map[string]*slot)}
}

// AcquireLock blocks until key is free or ctx is done. The expiration is
// ignored: an in-process holder cannot disappear without releasing.
func (m *LocalManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return &localLock{key: key, slot: s, manager: m}, nil
	case <-ctx.Done():
		m.drop(key, s)
		return nil, errors.UnknownError("failed to acquire lock for "+key, ctx.Err())
	}
}

func (m *LocalManager) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// Close is a no-op for the local manager
func (m *LocalManager) Close() error {
	return nil
}

type localLock struct {
	key      string
	slot     *slot
	manager  *LocalManager
	once     sync.Once
	released bool
	mu       sync.Mutex
}

func (l *localLock) Key() string {
	return l.key
}

func (l *localLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
		<-l.slot.ch
		l.manager.drop(l.key, l.slot)
	})
	return nil
}

func (l *localLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.released
}

var _ Manager = (*LocalManager)(nil)
