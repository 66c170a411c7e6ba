package ports

import (
	"context"
	"time"

	"audiocast/internal/core/domain"
)

// Unsubscribe releases a real-time subscription. It is safe to call more
// than once and from inside the subscription's own callback.
type Unsubscribe func()

// SessionRepository is the sessions collection of the document store.
type SessionRepository interface {
	// NextGeneration increments and returns the per-user session generation.
	NextGeneration(ctx context.Context, userID domain.UserID) (int64, error)
	// CreateIfLatest writes the session only if its generation is still the
	// user's latest; otherwise it returns domain.ErrSessionSuperseded.
	CreateIfLatest(ctx context.Context, session *domain.UserSession) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.UserSession, error)
	FindByUser(ctx context.Context, userID domain.UserID) ([]*domain.UserSession, error)
	List(ctx context.Context) ([]*domain.UserSession, error)
	// Touch merges a new last-active time into an existing record.
	Touch(ctx context.Context, id domain.SessionID, at time.Time) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id domain.SessionID) error

	// WatchSession calls fn with the current record (nil when absent) and
	// again after every change to it. The first call always happens; a
	// record that cannot be read at that point is reported as nil.
	WatchSession(ctx context.Context, id domain.SessionID, fn func(*domain.UserSession)) (Unsubscribe, error)
	// WatchAll calls fn with every session record on each change.
	WatchAll(ctx context.Context, fn func([]*domain.UserSession)) (Unsubscribe, error)
}

// PermissionRepository is the permission-edge collection of the document
// store. It holds no business rules: Create does not check for an existing
// (publisher, subscriber) pair.
type PermissionRepository interface {
	Create(ctx context.Context, perm *domain.StreamPermission) (*domain.StreamPermission, error)
	GetByID(ctx context.Context, id domain.PermissionID) (*domain.StreamPermission, error)
	// Update merges only the patch fields into the existing record.
	Update(ctx context.Context, id domain.PermissionID, patch domain.PermissionPatch) error
	Delete(ctx context.Context, id domain.PermissionID) error
	FindBySubscriber(ctx context.Context, subscriberID domain.UserID) ([]*domain.StreamPermission, error)
	FindByPair(ctx context.Context, publisherID, subscriberID domain.UserID) ([]*domain.StreamPermission, error)

	// SubscribeToUserPermissions delivers the full permission set of the
	// subscriber on subscribe and after every change.
	SubscribeToUserPermissions(ctx context.Context, subscriberID domain.UserID, fn func([]*domain.StreamPermission)) (Unsubscribe, error)
}

type ProfileRepository interface {
	Create(ctx context.Context, profile *domain.UserProfile) error
	GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error)
	ListByRole(ctx context.Context, role domain.UserRole) ([]*domain.UserProfile, error)
}

type CredentialRepository interface {
	Create(ctx context.Context, cred *domain.Credential) error
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
	RevokeToken(ctx context.Context, tokenID string, until time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}
