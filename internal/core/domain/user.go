package domain

import "time"

type UserID string

type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RolePublisher  UserRole = "publisher"
	RoleSubscriber UserRole = "subscriber"
)

// Valid reports whether r is one of the known account roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RolePublisher, RoleSubscriber:
		return true
	}
	return false
}

// UserProfile is the identity record owned by the identity collaborator.
// The role is fixed when the account is created.
type UserProfile struct {
	ID          UserID    `json:"id"`
	Email       string    `json:"email"`
	Role        UserRole  `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the email address.
func (p *UserProfile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// Identity is the authenticated principal as seen by the identity collaborator.
type Identity struct {
	UserID UserID `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token,omitempty"`
}

// Credential is a stored sign-in secret for one account.
type Credential struct {
	UserID       UserID    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}
