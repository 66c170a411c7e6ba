package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFeed_DeliversInitialSnapshot(t *testing.T) {
	feed := NewFeed()
	var calls atomic.Int32

	unsubscribe := feed.Subscribe(context.Background(), "topic", func(ctx context.Context) {
		calls.Add(1)
	})
	defer unsubscribe()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFeed_NotifyTriggersDelivery(t *testing.T) {
	feed := NewFeed()
	var calls atomic.Int32

	unsubscribe := feed.Subscribe(context.Background(), "topic", func(ctx context.Context) {
		calls.Add(1)
	})
	defer unsubscribe()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	feed.Notify("topic")
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	feed.Notify("other")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFeed_UnsubscribeStopsDelivery(t *testing.T) {
	feed := NewFeed()
	var calls atomic.Int32

	unsubscribe := feed.Subscribe(context.Background(), "topic", func(ctx context.Context) {
		calls.Add(1)
	})
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, feed.Subscribers("topic"))

	feed.Notify("topic")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFeed_ContextCancelReleasesSubscription(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())

	feed.Subscribe(ctx, "topic", func(ctx context.Context) {})
	assert.Equal(t, 1, feed.Subscribers("topic"))

	cancel()
	assert.Eventually(t, func() bool { return feed.Subscribers("topic") == 0 }, time.Second, 5*time.Millisecond)
}

func TestFeed_UnsubscribeFromCallback(t *testing.T) {
	feed := NewFeed()
	done := make(chan struct{})

	var unsubscribe func()
	ready := make(chan struct{})
	unsubscribe = feed.Subscribe(context.Background(), "topic", func(ctx context.Context) {
		<-ready
		unsubscribe()
		close(done)
	})
	close(ready)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not complete")
	}
	assert.Equal(t, 0, feed.Subscribers("topic"))
}
