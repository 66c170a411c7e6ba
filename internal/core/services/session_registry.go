package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	apperrors "audiocast/pkg/errors"
	"audiocast/pkg/tracing"
	"audiocast/pkg/utils"

	"go.uber.org/zap"
)

// Device describes the client a registry acts for: its local session slot,
// its user agent and how to find its network address.
type Device struct {
	Handle     ports.SessionHandle
	UserAgent  string
	IPResolver ports.IPResolver
}

type SessionRegistryConfig struct {
	IPResolveTimeout time.Duration
	// MaxConsecutiveFailures bounds fail-open validation. After this many
	// transport failures in a row the session is reported invalid. 0 never
	// gives up.
	MaxConsecutiveFailures int
}

func DefaultSessionRegistryConfig() SessionRegistryConfig {
	return SessionRegistryConfig{
		IPResolveTimeout: 3 * time.Second,
	}
}

type sessionRegistry struct {
	sessions ports.SessionRepository
	device   Device
	cfg      SessionRegistryConfig
	logger   *zap.SugaredLogger
	metrics  ports.MetricsRecorder

	mu       sync.Mutex
	failures int
}

func NewSessionRegistry(
	sessions ports.SessionRepository,
	device Device,
	cfg SessionRegistryConfig,
	logger *zap.SugaredLogger,
	metrics ports.MetricsRecorder,
) ports.SessionRegistry {
	if cfg.IPResolveTimeout <= 0 {
		cfg.IPResolveTimeout = DefaultSessionRegistryConfig().IPResolveTimeout
	}
	return &sessionRegistry{
		sessions: sessions,
		device:   device,
		cfg:      cfg,
		logger:   logger,
		metrics:  metricsOrNoop(metrics),
	}
}

// CreateSession replaces every session of a subscriber with a new one bound
// to this device. Other roles get domain.NoSessionRequired and nothing is
// stored.
func (r *sessionRegistry) CreateSession(
	ctx context.Context,
	userID domain.UserID,
	role domain.UserRole,
	email, name string,
) (domain.SessionID, error) {
	if role != domain.RoleSubscriber {
		return domain.NoSessionRequired, nil
	}

	ctx, span := tracing.TraceSessionOperation(ctx, "create", string(userID))
	defer span.End()

	// The generation is taken before enumerating so that a later sign-in
	// always sees, and removes, the record written by an earlier one.
	generation, err := r.sessions.NextGeneration(ctx, userID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to allocate session generation: %w", err)
	}

	sessionID := domain.SessionID(utils.GenerateSessionID())
	ipAddress := r.resolveIP(ctx)

	existing, err := r.sessions.FindByUser(ctx, userID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to list existing sessions: %w", err)
	}
	for _, old := range existing {
		if err := r.sessions.Delete(ctx, old.ID); err != nil {
			r.logger.Warnw("failed to delete previous session",
				"user_id", userID,
				"session_id", old.ID,
				"error", err,
			)
			continue
		}
		r.metrics.SessionDeleted()
	}

	now := utils.Now()
	session := &domain.UserSession{
		ID:         sessionID,
		UserID:     userID,
		Generation: generation,
		CreatedAt:  now,
		LastActive: now,
		UserAgent:  r.device.UserAgent,
		IPAddress:  ipAddress,
		UserEmail:  email,
		UserName:   name,
	}
	if err := r.sessions.CreateIfLatest(ctx, session); err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, domain.ErrSessionSuperseded) {
			r.logger.Warnw("session creation lost to a newer sign-in",
				"user_id", userID,
				"generation", generation,
			)
			return "", err
		}
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	if err := r.device.Handle.Set(sessionID); err != nil {
		return "", fmt.Errorf("failed to persist session id locally: %w", err)
	}

	r.resetFailures()
	r.metrics.SessionCreated()
	r.logger.Infow("session created",
		"user_id", userID,
		"session_id", sessionID,
		"generation", generation,
		"ip_address", ipAddress,
		"replaced", len(existing),
	)
	return sessionID, nil
}

// ValidateSession reports whether this device still holds the user's live
// session. Transport failures count as valid.
func (r *sessionRegistry) ValidateSession(ctx context.Context, userID domain.UserID, role domain.UserRole) bool {
	if role != domain.RoleSubscriber {
		r.metrics.SessionValidated(ValidationExempt)
		return true
	}

	sessionID, ok := r.device.Handle.Get()
	if !ok {
		r.metrics.SessionValidated(ValidationInvalid)
		return false
	}

	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			r.metrics.SessionValidated(ValidationInvalid)
			return false
		}
		return r.failOpen(userID, sessionID, err)
	}

	if !session.OwnedBy(userID) {
		r.logger.Warnw("session owned by another user",
			"user_id", userID,
			"session_id", sessionID,
			"owner_id", session.UserID,
		)
		r.metrics.SessionValidated(ValidationInvalid)
		return false
	}

	if err := r.sessions.Touch(ctx, sessionID, utils.Now()); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			r.metrics.SessionValidated(ValidationInvalid)
			return false
		}
		return r.failOpen(userID, sessionID, err)
	}

	r.resetFailures()
	r.metrics.SessionValidated(ValidationValid)
	return true
}

func (r *sessionRegistry) failOpen(userID domain.UserID, sessionID domain.SessionID, err error) bool {
	r.mu.Lock()
	r.failures++
	failures := r.failures
	r.mu.Unlock()

	if r.cfg.MaxConsecutiveFailures > 0 && failures >= r.cfg.MaxConsecutiveFailures {
		r.logger.Warnw("session validation failed too many times, treating session as invalid",
			"user_id", userID,
			"session_id", sessionID,
			"failures", failures,
			"error", err,
		)
		r.metrics.SessionValidated(ValidationInvalid)
		return false
	}

	r.logger.Warnw("session validation failed, keeping session",
		"user_id", userID,
		"session_id", sessionID,
		"failures", failures,
		"error_class", apperrors.Classify(err).String(),
		"error", err,
	)
	r.metrics.SessionValidated(ValidationFailOpen)
	return true
}

func (r *sessionRegistry) resetFailures() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

// DeleteSession removes the record and clears the local id. Store errors are
// logged and the local id is cleared regardless.
func (r *sessionRegistry) DeleteSession(ctx context.Context, sessionID domain.SessionID) {
	// The local id goes first: a watcher on this device that sees the record
	// vanish can then tell its own sign-out from a takeover.
	if err := r.device.Handle.Clear(); err != nil {
		r.logger.Warnw("failed to clear local session id",
			"session_id", sessionID,
			"error", err,
		)
	}

	if sessionID != "" && sessionID != domain.NoSessionRequired {
		if err := r.sessions.Delete(ctx, sessionID); err != nil {
			r.logger.Warnw("failed to delete session",
				"session_id", sessionID,
				"error", err,
			)
		} else {
			r.metrics.SessionDeleted()
		}
	}
}

func (r *sessionRegistry) CurrentSessionID() (domain.SessionID, bool) {
	return r.device.Handle.Get()
}

func (r *sessionRegistry) resolveIP(ctx context.Context) string {
	if r.device.IPResolver == nil {
		return domain.UnknownIPAddress
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.IPResolveTimeout)
	defer cancel()

	type result struct {
		ip  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ip, err := r.device.IPResolver.ResolveIP(ctx)
		done <- result{ip: ip, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil || res.ip == "" {
			if res.err != nil {
				r.logger.Debugw("ip resolution failed", "error", res.err)
			}
			return domain.UnknownIPAddress
		}
		return res.ip
	case <-ctx.Done():
		r.logger.Debugw("ip resolution timed out", "timeout", r.cfg.IPResolveTimeout)
		return domain.UnknownIPAddress
	}
}
