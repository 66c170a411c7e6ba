package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = fmt.Errorf("lock acquisition timeout")

// unlockScript deletes the key only if it still holds our value.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// DistributedLock provides distributed locking using Redis
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string // Unique identifier for this lock holder
	ttl    time.Duration

	stopRenew context.CancelFunc
	once      sync.Once
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    key,
		value:  generateLockValue(),
		ttl:    ttl,
	}
}

func generateLockValue() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// LockWithTimeout acquires the lock, polling until timeout elapses
func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// TryLock attempts to acquire the lock without blocking
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.stopRenew = cancel
	go l.renewLock(renewCtx)
	return true, nil
}

// Unlock releases the lock
func (l *DistributedLock) Unlock(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		if l.stopRenew != nil {
			l.stopRenew()
		}

		var released int64
		released, err = unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
		if err != nil {
			err = fmt.Errorf("failed to unlock: %w", err)
			return
		}
		if released == 0 {
			err = fmt.Errorf("lock was not held by this instance")
		}
	})
	return err
}

// renewLock extends the TTL at half-life while we still hold the lock
func (l *DistributedLock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			currentValue, err := l.client.Get(ctx, l.key).Result()
			if err != nil {
				return
			}
			if currentValue != l.value {
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
		case <-ctx.Done():
			return
		}
	}
}

// LockManager hands out keyed Redis locks. It satisfies ports.Locker.
type LockManager struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewLockManager creates a new lock manager
func NewLockManager(client *redis.Client, prefix string, ttl, timeout time.Duration) *LockManager {
	return &LockManager{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: timeout,
	}
}

// AcquireLock builds a lock for key without acquiring it
func (lm *LockManager) AcquireLock(key string) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, lm.ttl)
}

// Lock blocks until key is held, the timeout passes or ctx is done.
func (lm *LockManager) Lock(ctx context.Context, key string) (func(), error) {
	lock := lm.AcquireLock(key)
	if err := lock.LockWithTimeout(ctx, lm.timeout); err != nil {
		return nil, err
	}
	return func() {
		// Background context: release must happen even if ctx is cancelled.
		lock.Unlock(context.Background())
	}, nil
}

// LocalLocker is the single-process counterpart of LockManager.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch      chan struct{}
	waiters int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, entry, true) })
	}, nil
}

func (l *LocalLocker) release(key string, entry *localEntry, held bool) {
	if held {
		<-entry.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(l.locks, key)
	}
}
