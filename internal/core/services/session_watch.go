package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"

	"go.uber.org/zap"
)

// InvalidationReason says which check noticed the session was superseded.
type InvalidationReason string

const (
	ReasonSessionMissing   InvalidationReason = "session_missing"
	ReasonOwnerMismatch    InvalidationReason = "owner_mismatch"
	ReasonValidationFailed InvalidationReason = "validation_failed"
)

type WatchOptions struct {
	// InitialDelay lets session creation settle before the first poll.
	InitialDelay time.Duration
	Interval     time.Duration
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		InitialDelay: 3 * time.Second,
		Interval:     30 * time.Second,
	}
}

// SessionWatch merges the real-time record subscription and the periodic
// validation poll into one event. Invalidated yields at most one reason.
type SessionWatch struct {
	userID    domain.UserID
	role      domain.UserRole
	sessionID domain.SessionID
	registry  ports.SessionRegistry
	opts      WatchOptions
	logger    *zap.SugaredLogger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe ports.Unsubscribe
	invalidated chan InvalidationReason
	fireOnce    sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup
	sawFirst    atomic.Bool
}

// WatchSession starts watching sessionID on behalf of userID.
func WatchSession(
	ctx context.Context,
	sessions ports.SessionRepository,
	registry ports.SessionRegistry,
	userID domain.UserID,
	role domain.UserRole,
	sessionID domain.SessionID,
	opts WatchOptions,
	logger *zap.SugaredLogger,
) (*SessionWatch, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("watch interval must be > 0")
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &SessionWatch{
		userID:      userID,
		role:        role,
		sessionID:   sessionID,
		registry:    registry,
		opts:        opts,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		invalidated: make(chan InvalidationReason, 1),
	}

	unsubscribe, err := sessions.WatchSession(ctx, sessionID, w.onSnapshot)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch session: %w", err)
	}
	w.unsubscribe = unsubscribe

	w.wg.Add(1)
	go w.poll()

	return w, nil
}

// Invalidated delivers the first detected invalidation.
func (w *SessionWatch) Invalidated() <-chan InvalidationReason {
	return w.invalidated
}

// Close releases the subscription and stops the poll. When it returns no
// timer callback is running or will run.
func (w *SessionWatch) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		w.wg.Wait()
	})
}

func (w *SessionWatch) onSnapshot(session *domain.UserSession) {
	if w.ctx.Err() != nil {
		return
	}
	// The first snapshot is the state we just created.
	if w.sawFirst.CompareAndSwap(false, true) {
		return
	}

	switch {
	case session == nil:
		w.fire(ReasonSessionMissing)
	case !session.OwnedBy(w.userID):
		w.fire(ReasonOwnerMismatch)
	}
}

func (w *SessionWatch) poll() {
	defer w.wg.Done()

	timer := time.NewTimer(w.opts.InitialDelay)
	defer timer.Stop()

	select {
	case <-w.ctx.Done():
		return
	case <-timer.C:
	}
	if !w.check() {
		return
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if !w.check() {
				return
			}
		}
	}
}

// check returns false once the session is known to be invalid.
func (w *SessionWatch) check() bool {
	if w.registry.ValidateSession(w.ctx, w.userID, w.role) {
		return true
	}
	if w.ctx.Err() != nil {
		return false
	}
	w.fire(ReasonValidationFailed)
	return false
}

func (w *SessionWatch) fire(reason InvalidationReason) {
	w.fireOnce.Do(func() {
		w.logger.Infow("session invalidated",
			"user_id", w.userID,
			"session_id", w.sessionID,
			"reason", reason,
		)
		w.invalidated <- reason
	})
}
