package domain

import (
	"errors"

	apperrors "audiocast/pkg/errors"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionSuperseded    = errors.New("session superseded by a newer sign-in")
	ErrPermissionNotFound   = errors.New("permission not found")
	ErrPermissionExists     = errors.New("permission already exists")
	ErrProfileNotFound      = errors.New("user profile not found")
	ErrProfileExists        = errors.New("user profile already exists")
	ErrCredentialExists     = errors.New("email already in use")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrNotSignedIn          = errors.New("not signed in")
	ErrUnknownCapability    = errors.New("unknown capability bit")
	ErrConfirmationRequired = errors.New("bulk assignment requires confirmation")
	ErrLockNotAcquired      = errors.New("lock not acquired")
)

func init() {
	apperrors.Register(ErrSessionNotFound, apperrors.ClassAuthorization, apperrors.ErrCodeNotFound)
	apperrors.Register(ErrSessionSuperseded, apperrors.ClassAuthorization, apperrors.ErrCodeConflict)
	apperrors.Register(ErrPermissionNotFound, apperrors.ClassAuthorization, apperrors.ErrCodeNotFound)
	apperrors.Register(ErrProfileNotFound, apperrors.ClassAuthorization, apperrors.ErrCodeNotFound)
	apperrors.Register(ErrNotSignedIn, apperrors.ClassAuthorization, apperrors.ErrCodeUnauthorized)
	apperrors.Register(ErrInvalidCredentials, apperrors.ClassAuthorization, apperrors.ErrCodeUnauthorized)

	apperrors.Register(ErrPermissionExists, apperrors.ClassConflict, apperrors.ErrCodeConflict)
	apperrors.Register(ErrProfileExists, apperrors.ClassConflict, apperrors.ErrCodeConflict)
	apperrors.Register(ErrCredentialExists, apperrors.ClassConflict, apperrors.ErrCodeConflict)

	apperrors.Register(ErrUnknownCapability, apperrors.ClassOther, apperrors.ErrCodeInvalidInput)
	apperrors.Register(ErrConfirmationRequired, apperrors.ClassOther, apperrors.ErrCodeInvalidInput)
	apperrors.Register(ErrLockNotAcquired, apperrors.ClassTransient, apperrors.ErrCodeServiceUnavailable)
}
