package distributed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedLock_ExclusiveUntilUnlocked(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	first := NewDistributedLock(client, "lock:pair", time.Second)
	second := NewDistributedLock(client, "lock:pair", time.Second)

	acquired, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, first.Unlock(ctx))

	acquired, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, second.Unlock(ctx))
}

func TestDistributedLock_UnlockForeignLockFails(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	owner := NewDistributedLock(client, "lock:pair", time.Second)
	_, err := owner.TryLock(ctx)
	require.NoError(t, err)

	intruder := NewDistributedLock(client, "lock:pair", time.Second)
	assert.Error(t, intruder.Unlock(ctx))
	require.NoError(t, owner.Unlock(ctx))
}

func TestLockManager_LockTimesOut(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	manager := NewLockManager(client, "audiocast:lock:", time.Second, 50*time.Millisecond)

	unlock, err := manager.Lock(ctx, "p1:s1")
	require.NoError(t, err)

	_, err = manager.Lock(ctx, "p1:s1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := manager.Lock(ctx, "p1:s1")
	require.NoError(t, err)
	unlock2()
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "key")
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, locker.locks)
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "key")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "key")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
