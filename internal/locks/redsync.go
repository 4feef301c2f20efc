package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/redis"
)

// KeyPrefix namespaces lock keys in Redis
const KeyPrefix = "signflow:lock:"

// unlockTimeout bounds the Redis round trip when a lock is released
const unlockTimeout = 5 * time.Second

// RedsyncManager serializes work on an order across replicas using Redlock.
// A held lock is extended every third of its expiry until released, so a
// slow provider call does not let a second webhook in halfway through.
type RedsyncManager struct {
	rs     *redsync.Redsync
	logger logging.Logger

	mu   sync.Mutex
	held map[*RedsyncLock]struct{}
}

// RedsyncLock is one held order lock
type RedsyncLock struct {
	key     string
	mutex   *redsync.Mutex
	manager *RedsyncManager
	stop    context.CancelFunc
	done    <-chan struct{}
	once    sync.Once
}

func NewRedsyncManager(redisClient *redis.Client, logger logging.Logger) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("distributed locks need a redis client")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RedsyncManager{
		rs:     redsync.New(goredis.NewPool(redisClient.GoRedis())),
		logger: logger,
		held:   make(map[*RedsyncLock]struct{}),
	}, nil
}

// AcquireLock blocks until key is locked, ctx is done or redsync gives up
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}

	mutex := rm.rs.NewMutex(KeyPrefix+key, redsync.WithExpiry(expiration))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.UnknownError("could not lock "+key, err).WithContext("lock_key", key)
	}

	renewCtx, stop := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		key:     key,
		mutex:   mutex,
		manager: rm,
		stop:    stop,
		done:    renewCtx.Done(),
	}

	rm.mu.Lock()
	rm.held[lock] = struct{}{}
	rm.mu.Unlock()

	go lock.keepAlive(renewCtx, expiration)
	return lock, nil
}

// Close unlocks everything this replica still holds
func (rm *RedsyncManager) Close() error {
	rm.mu.Lock()
	held := make([]*RedsyncLock, 0, len(rm.held))
	for l := range rm.held {
		held = append(held, l)
	}
	rm.mu.Unlock()

	var firstErr error
	for _, l := range held {
		if err := l.Release(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (rm *RedsyncManager) untrack(l *RedsyncLock) {
	rm.mu.Lock()
	delete(rm.held, l)
	rm.mu.Unlock()
}

func (rl *RedsyncLock) keepAlive(ctx context.Context, expiration time.Duration) {
	every := expiration / 3
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(ctx, unlockTimeout)
			ok, err := rl.mutex.ExtendContext(extendCtx)
			cancel()
			if err == nil && ok {
				continue
			}
			rl.manager.logger.Warn("Order lock expired before release",
				logging.String("lock_key", rl.key),
				logging.Err(err))
			rl.stop()
			rl.manager.untrack(rl)
			return
		}
	}
}

func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and deletes the Redis key. Only the first call does
// any work.
func (rl *RedsyncLock) Release(ctx context.Context) error {
	var err error
	rl.once.Do(func() {
		rl.stop()
		rl.manager.untrack(rl)

		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if _, uerr := rl.mutex.UnlockContext(unlockCtx); uerr != nil {
			err = fmt.Errorf("release lock %s: %w", rl.key, uerr)
		}
	})
	return err
}

// IsHeld reports false once the lock is released or renewal failed
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.done:
		return false
	default:
		return true
	}
}

var _ Manager = (*RedsyncManager)(nil)
