package domain

import "time"

type SessionID string

// NoSessionRequired is returned by session creation for roles that are not
// limited to a single session. It is never persisted.
const NoSessionRequired SessionID = "no-session-required"

// UnknownIPAddress is recorded when the caller's address cannot be resolved.
const UnknownIPAddress = "unknown"

// UserSession is one live authenticated device instance of a subscriber.
type UserSession struct {
	ID         SessionID `json:"session_id"`
	UserID     UserID    `json:"user_id"`
	Generation int64     `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
	UserEmail  string    `json:"user_email,omitempty"`
	UserName   string    `json:"user_name,omitempty"`
}

// OwnedBy reports whether the session record belongs to userID.
func (s *UserSession) OwnedBy(userID UserID) bool {
	return s != nil && s.UserID == userID
}
