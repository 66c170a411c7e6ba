package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"audiocast/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withClock(t *testing.T, now *time.Time) {
	t.Helper()
	saved := utils.Now
	utils.Now = func() time.Time { return *now }
	t.Cleanup(func() { utils.Now = saved })
}

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	withClock(t, &now)

	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("profile:1", "alice")
	value, ok := c.Get("profile:1")
	require.True(t, ok)
	assert.Equal(t, "alice", value)

	now = now.Add(time.Minute)
	_, ok = c.Get("profile:1")
	assert.False(t, ok)

	c.Invalidate("")
	assert.Zero(t, c.Size())
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("profile:1", 1)
	c.Set("profile:2", 2)
	c.Set("role:publisher", 3)

	c.Invalidate("profile:")
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("role:publisher")
	assert.True(t, ok)
}

func TestCacheWithFallback_GetOrSet(t *testing.T) {
	c := NewCacheWithFallback(time.Minute)
	defer c.Stop()

	calls := 0
	load := func(context.Context) (interface{}, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		value, err := c.GetOrSet(context.Background(), "k", load, 0)
		require.NoError(t, err)
		assert.Equal(t, "value", value)
	}
	assert.Equal(t, 1, calls)

	_, err := c.GetOrSet(context.Background(), "missing", func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}, 0)
	assert.Error(t, err)
	_, err = c.GetOrSet(context.Background(), "missing", load, 0)
	assert.NoError(t, err, "errors are not cached")
}

func TestCache_StopTwice(t *testing.T) {
	c := NewCache(time.Second)
	c.Stop()
	assert.NotPanics(t, c.Stop)
}
