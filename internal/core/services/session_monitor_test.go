package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/infrastructure/realtime"
	"audiocast/internal/infrastructure/repositories/memory"
	"audiocast/internal/infrastructure/sessionhandle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastWatch() WatchOptions {
	return WatchOptions{InitialDelay: 20 * time.Millisecond, Interval: 40 * time.Millisecond}
}

type device struct {
	handle   *sessionhandle.Memory
	registry ports.SessionRegistry
	identity *fakeIdentity
	monitor  *SessionMonitor
	forced   int32
	reasons  chan InvalidationReason
}

func newDevice(t *testing.T, repo ports.SessionRepository, userID domain.UserID, opts WatchOptions) *device {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	d := &device{
		handle:   sessionhandle.NewMemory(),
		identity: newFakeIdentity(userID),
		reasons:  make(chan InvalidationReason, 4),
	}
	d.registry = NewSessionRegistry(repo, Device{Handle: d.handle}, DefaultSessionRegistryConfig(), logger, nil)
	d.monitor = NewSessionMonitor(repo, d.registry, d.handle, d.identity, opts, logger, nil)
	d.monitor.OnForcedSignOut = func(reason InvalidationReason) {
		atomic.AddInt32(&d.forced, 1)
		d.reasons <- reason
	}
	t.Cleanup(d.monitor.Stop)
	return d
}

func (d *device) signIn(t *testing.T, ctx context.Context, userID domain.UserID) domain.SessionID {
	t.Helper()
	id, err := d.registry.CreateSession(ctx, userID, domain.RoleSubscriber, "", "")
	require.NoError(t, err)
	require.NoError(t, d.monitor.Start(ctx, userID, domain.RoleSubscriber))
	return id
}

func TestSessionMonitor_SecondDeviceForcesFirstOut(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemorySessionRepository(realtime.NewFeed())

	// Long poll interval: detection here must come from the push.
	opts := WatchOptions{InitialDelay: time.Hour, Interval: time.Hour}
	first := newDevice(t, repo, "sub-1", opts)
	second := newDevice(t, repo, "sub-1", opts)

	first.signIn(t, ctx, "sub-1")
	assert.Equal(t, MonitorListening, first.monitor.State())

	// the initial snapshot must not count as an invalidation
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, MonitorListening, first.monitor.State())

	secondID := second.signIn(t, ctx, "sub-1")

	select {
	case reason := <-first.reasons:
		assert.Equal(t, ReasonSessionMissing, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("first device was not signed out")
	}

	<-first.monitor.Done()
	assert.Equal(t, MonitorTerminated, first.monitor.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&first.forced))
	assert.Equal(t, 1, first.identity.signOutCount())
	_, ok := first.handle.Get()
	assert.False(t, ok)

	// the winner is untouched
	assert.Equal(t, MonitorListening, second.monitor.State())
	stored, ok := second.handle.Get()
	require.True(t, ok)
	assert.Equal(t, secondID, stored)
	_, err := repo.GetByID(ctx, secondID)
	assert.NoError(t, err)
}

func TestSessionMonitor_PollDetectsInvalidation(t *testing.T) {
	ctx := context.Background()
	repo := new(mockSessionRepository)
	repo.On("WatchSession", mock.Anything, domain.SessionID("s1"), mock.Anything).
		Return(ports.Unsubscribe(func() {}), nil)

	handle := sessionhandle.NewMemory()
	require.NoError(t, handle.Set("s1"))
	registry := &stubRegistry{valid: false}
	identity := newFakeIdentity("sub-1")

	monitor := NewSessionMonitor(repo, registry, handle, identity, fastWatch(), zaptest.NewLogger(t).Sugar(), nil)
	reasons := make(chan InvalidationReason, 1)
	monitor.OnForcedSignOut = func(reason InvalidationReason) { reasons <- reason }

	require.NoError(t, monitor.Start(ctx, "sub-1", domain.RoleSubscriber))

	select {
	case reason := <-reasons:
		assert.Equal(t, ReasonValidationFailed, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("poll never invalidated the session")
	}
	<-monitor.Done()
	assert.Equal(t, 1, identity.signOutCount())
	assert.Equal(t, 0, identity.listenerCount())
}

func TestSessionMonitor_ConcurrentTriggersSignOutOnce(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewFeed()
	repo := memory.NewMemorySessionRepository(feed)

	d := newDevice(t, repo, "sub-1", WatchOptions{InitialDelay: 5 * time.Millisecond, Interval: 5 * time.Millisecond})
	id := d.signIn(t, ctx, "sub-1")

	time.Sleep(10 * time.Millisecond)
	// Removing the record trips both the push and the poll.
	require.NoError(t, repo.Delete(ctx, id))

	<-d.monitor.Done()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&d.forced))
	assert.Equal(t, 1, d.identity.signOutCount())
	assert.Equal(t, 0, feed.Subscribers(realtime.SessionTopic(id)))
}

func TestSessionMonitor_StopReleasesWatch(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewFeed()
	repo := memory.NewMemorySessionRepository(feed)

	handle := sessionhandle.NewMemory()
	logger := zaptest.NewLogger(t).Sugar()
	realRegistry := NewSessionRegistry(repo, Device{Handle: handle}, DefaultSessionRegistryConfig(), logger, nil)
	id, err := realRegistry.CreateSession(ctx, "sub-1", domain.RoleSubscriber, "", "")
	require.NoError(t, err)

	registry := &stubRegistry{valid: true}
	identity := newFakeIdentity("sub-1")
	monitor := NewSessionMonitor(repo, registry, handle, identity, fastWatch(), logger, nil)

	require.NoError(t, monitor.Start(ctx, "sub-1", domain.RoleSubscriber))
	assert.Equal(t, 1, feed.Subscribers(realtime.SessionTopic(id)))

	assert.Eventually(t, func() bool { return registry.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	monitor.Stop()
	monitor.Stop()

	assert.Equal(t, MonitorTerminated, monitor.State())
	assert.Equal(t, 0, feed.Subscribers(realtime.SessionTopic(id)))
	assert.Equal(t, 0, identity.listenerCount())

	calls := registry.callCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, registry.callCount(), "poll kept running after Stop")

	// explicit stop is not a forced sign-out
	assert.Equal(t, 0, identity.signOutCount())
	_, ok := handle.Get()
	assert.True(t, ok)
}

func TestSessionMonitor_ExplicitSignOutStops(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemorySessionRepository(realtime.NewFeed())
	d := newDevice(t, repo, "sub-1", WatchOptions{InitialDelay: time.Hour, Interval: time.Hour})
	d.signIn(t, ctx, "sub-1")

	require.NoError(t, d.identity.SignOut(ctx))

	assert.Eventually(t, func() bool {
		return d.monitor.State() == MonitorTerminated
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&d.forced))
}

func TestSessionMonitor_GatewaySignOutIsNotForced(t *testing.T) {
	tests := []struct {
		name string
		hook bool
	}{
		{name: "record watch only"},
		{name: "monitor stopped by hook", hook: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := memory.NewMemorySessionRepository(realtime.NewFeed())
			d := newDevice(t, repo, "sub-1", WatchOptions{InitialDelay: time.Hour, Interval: time.Hour})
			id := d.signIn(t, ctx, "sub-1")

			var opts []GatewayOption
			if tt.hook {
				opts = append(opts, WithSignOutHook(d.monitor.Stop))
			}
			gateway := NewAuthGateway(d.identity, nil, d.registry, AuthGatewayConfig{}, zaptest.NewLogger(t).Sugar(), opts...)

			require.NoError(t, gateway.SignOut(ctx))
			require.NoError(t, gateway.SignOut(ctx))

			select {
			case <-d.monitor.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("monitor did not stop")
			}
			assert.Equal(t, MonitorTerminated, d.monitor.State())
			assert.Equal(t, int32(0), atomic.LoadInt32(&d.forced))
			assert.Equal(t, 2, d.identity.signOutCount())

			_, err := repo.GetByID(ctx, id)
			assert.ErrorIs(t, err, domain.ErrSessionNotFound)
			_, ok := d.handle.Get()
			assert.False(t, ok)
		})
	}
}

func TestSessionMonitor_NonSubscriberStaysIdle(t *testing.T) {
	repo := memory.NewMemorySessionRepository(realtime.NewFeed())
	d := newDevice(t, repo, "pub-1", fastWatch())

	require.NoError(t, d.monitor.Start(context.Background(), "pub-1", domain.RolePublisher))
	assert.Equal(t, MonitorIdle, d.monitor.State())
	assert.Nil(t, d.monitor.Done())
}

func TestSessionMonitor_StartWithoutSession(t *testing.T) {
	repo := memory.NewMemorySessionRepository(realtime.NewFeed())
	d := newDevice(t, repo, "sub-1", fastWatch())

	err := d.monitor.Start(context.Background(), "sub-1", domain.RoleSubscriber)
	assert.ErrorIs(t, err, domain.ErrNotSignedIn)
}

func TestSessionWatch_OwnerMismatch(t *testing.T) {
	ctx := context.Background()
	repo := new(mockSessionRepository)

	var deliver func(*domain.UserSession)
	repo.On("WatchSession", mock.Anything, domain.SessionID("s1"), mock.Anything).
		Run(func(args mock.Arguments) {
			deliver = args.Get(2).(func(*domain.UserSession))
		}).
		Return(ports.Unsubscribe(func() {}), nil)

	watch, err := WatchSession(ctx, repo, &stubRegistry{valid: true}, "sub-1", domain.RoleSubscriber, "s1",
		WatchOptions{InitialDelay: time.Hour, Interval: time.Hour}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer watch.Close()

	// first snapshot is discarded even when it already looks wrong
	deliver(nil)
	select {
	case <-watch.Invalidated():
		t.Fatal("first snapshot must be ignored")
	case <-time.After(20 * time.Millisecond):
	}

	deliver(&domain.UserSession{ID: "s1", UserID: "sub-1"})
	deliver(&domain.UserSession{ID: "s1", UserID: "someone-else"})
	deliver(nil)

	select {
	case reason := <-watch.Invalidated():
		assert.Equal(t, ReasonOwnerMismatch, reason)
	case <-time.After(time.Second):
		t.Fatal("owner mismatch not reported")
	}

	select {
	case <-watch.Invalidated():
		t.Fatal("only one invalidation may be reported")
	case <-time.After(20 * time.Millisecond):
	}
}
