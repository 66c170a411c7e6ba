package ports

import (
	"context"

	"audiocast/internal/core/domain"
)

type SessionRegistry interface {
	CreateSession(ctx context.Context, userID domain.UserID, role domain.UserRole, email, name string) (domain.SessionID, error)
	ValidateSession(ctx context.Context, userID domain.UserID, role domain.UserRole) bool
	DeleteSession(ctx context.Context, sessionID domain.SessionID)
	CurrentSessionID() (domain.SessionID, bool)
}

// AssignResult tallies a bulk assignment run.
type AssignResult struct {
	Assigned   int `json:"assigned"`
	Unassigned int `json:"unassigned"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type AssignmentOrchestrator interface {
	ToggleAssignment(ctx context.Context, publisherID, subscriberID domain.UserID, nextAssigned bool) error
	SetCapabilityBit(ctx context.Context, publisherID, subscriberID domain.UserID, bit domain.CapabilityBit, value bool) error
	AssignAll(ctx context.Context, subscriberID domain.UserID, publishers []domain.UserID) (AssignResult, error)
	UnassignAll(ctx context.Context, subscriberID domain.UserID) (AssignResult, error)
	BulkAssignMany(ctx context.Context, subscriberIDs, publishers []domain.UserID, confirmed bool) (AssignResult, error)
	RestoreGrants(ctx context.Context, grants []*domain.StreamPermission) (AssignResult, error)
}

type AuthGateway interface {
	SignIn(ctx context.Context, email, password string) (*domain.Identity, *domain.UserProfile, error)
	SignUp(ctx context.Context, email, password string, role domain.UserRole, displayName string) (*domain.UserProfile, error)
	SignOut(ctx context.Context) error
}
