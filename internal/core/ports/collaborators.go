package ports

import (
	"context"

	"audiocast/internal/core/domain"
)

// IdentityProvider is the per-device authentication client.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*domain.Identity, error)
	SignUp(ctx context.Context, email, password string) (*domain.Identity, error)
	// SignOut revokes the current credential. Signing out while signed out
	// is a no-op.
	SignOut(ctx context.Context) error
	Current() *domain.Identity
	// OnIdentityChange registers fn to be called with the current identity,
	// or nil, whenever it changes.
	OnIdentityChange(fn func(*domain.Identity)) Unsubscribe
}

// IPResolver returns the caller's best-guess network address.
type IPResolver interface {
	ResolveIP(ctx context.Context) (string, error)
}

// SessionHandle is the device-local slot holding the current session id.
type SessionHandle interface {
	Get() (domain.SessionID, bool)
	Set(id domain.SessionID) error
	Clear() error
}

// Locker serializes work on a key across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MetricsRecorder receives session and assignment outcomes.
type MetricsRecorder interface {
	SessionCreated()
	SessionDeleted()
	SessionInvalidated(reason string)
	SessionValidated(outcome string)
	AssignmentOutcome(operation, outcome string, count int)
}
