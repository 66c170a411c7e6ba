package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"

	"go.uber.org/zap"
)

type MonitorState int

const (
	MonitorIdle MonitorState = iota
	MonitorListening
	MonitorInvalidating
	MonitorTerminated
)

func (s MonitorState) String() string {
	switch s {
	case MonitorIdle:
		return "idle"
	case MonitorListening:
		return "listening"
	case MonitorInvalidating:
		return "invalidating"
	case MonitorTerminated:
		return "terminated"
	}
	return "unknown"
}

// SessionMonitor watches a subscriber device's session and forces sign-out
// once when another sign-in supersedes it.
type SessionMonitor struct {
	sessions ports.SessionRepository
	registry ports.SessionRegistry
	handle   ports.SessionHandle
	identity ports.IdentityProvider
	opts     WatchOptions
	logger   *zap.SugaredLogger
	metrics  ports.MetricsRecorder

	// OnForcedSignOut runs after the forced sign-out completed.
	OnForcedSignOut func(reason InvalidationReason)

	mu               sync.Mutex
	state            MonitorState
	stop             chan struct{}
	done             chan struct{}
	identityListener ports.Unsubscribe
}

func NewSessionMonitor(
	sessions ports.SessionRepository,
	registry ports.SessionRegistry,
	handle ports.SessionHandle,
	identity ports.IdentityProvider,
	opts WatchOptions,
	logger *zap.SugaredLogger,
	metrics ports.MetricsRecorder,
) *SessionMonitor {
	return &SessionMonitor{
		sessions: sessions,
		registry: registry,
		handle:   handle,
		identity: identity,
		opts:     opts,
		logger:   logger,
		metrics:  metricsOrNoop(metrics),
		state:    MonitorIdle,
	}
}

func (m *SessionMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the current watch cycle ends, nil while idle.
func (m *SessionMonitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Start begins listening after a sign-in. Roles without a session leave the
// monitor idle. Cancelling ctx tears the monitor down like Stop.
func (m *SessionMonitor) Start(ctx context.Context, userID domain.UserID, role domain.UserRole) error {
	if role != domain.RoleSubscriber {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == MonitorListening || m.state == MonitorInvalidating {
		return fmt.Errorf("session monitor already %s", m.state)
	}

	sessionID, ok := m.handle.Get()
	if !ok {
		return domain.ErrNotSignedIn
	}

	watch, err := WatchSession(ctx, m.sessions, m.registry, userID, role, sessionID, m.opts, m.logger)
	if err != nil {
		return err
	}

	m.state = MonitorListening
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx, watch, userID, sessionID, m.stop, m.done)

	if m.identity != nil {
		m.identityListener = m.identity.OnIdentityChange(func(identity *domain.Identity) {
			if identity == nil {
				// Stop waits for run, which may itself be signing out.
				go m.Stop()
			}
		})
	}

	m.logger.Infow("session monitor listening",
		"user_id", userID,
		"session_id", sessionID,
	)
	return nil
}

func (m *SessionMonitor) run(ctx context.Context, watch *SessionWatch, userID domain.UserID, sessionID domain.SessionID, stop, done chan struct{}) {
	defer close(done)

	select {
	case reason := <-watch.Invalidated():
		if current, ok := m.handle.Get(); !ok || current != sessionID {
			// This device already dropped the session: an explicit sign-out.
			m.logger.Infow("session ended by local sign-out",
				"user_id", userID,
				"session_id", sessionID,
			)
			watch.Close()
			m.finish()
			return
		}
		m.forceSignOut(watch, userID, sessionID, reason)
	case <-stop:
		watch.Close()
		m.finish()
	case <-ctx.Done():
		watch.Close()
		m.finish()
	}
}

func (m *SessionMonitor) forceSignOut(watch *SessionWatch, userID domain.UserID, sessionID domain.SessionID, reason InvalidationReason) {
	m.mu.Lock()
	m.state = MonitorInvalidating
	m.mu.Unlock()

	watch.Close()

	if err := m.handle.Clear(); err != nil {
		m.logger.Warnw("failed to clear local session id", "error", err)
	}

	if m.identity != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.identity.SignOut(ctx); err != nil {
			m.logger.Warnw("failed to revoke credential after invalidation",
				"user_id", userID,
				"error", err,
			)
		}
		cancel()
	}

	m.metrics.SessionInvalidated(string(reason))
	m.logger.Warnw("forced sign-out",
		"user_id", userID,
		"session_id", sessionID,
		"reason", reason,
	)

	m.finish()

	if m.OnForcedSignOut != nil {
		m.OnForcedSignOut(reason)
	}
}

func (m *SessionMonitor) finish() {
	m.mu.Lock()
	listener := m.identityListener
	m.identityListener = nil
	m.state = MonitorTerminated
	m.mu.Unlock()

	if listener != nil {
		listener()
	}
}

// Stop ends listening on explicit sign-out or teardown. When it returns the
// subscription and timers are released. Stopping during a forced sign-out
// returns without waiting for it.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	if m.state != MonitorListening {
		m.mu.Unlock()
		return
	}
	stop, done := m.stop, m.done
	select {
	case <-stop:
	default:
		close(stop)
	}
	m.mu.Unlock()

	<-done
}
