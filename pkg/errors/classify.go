package errors

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
)

// Class groups errors by how callers are expected to react to them.
type Class int

const (
	// ClassOther is surfaced to the user as a notice.
	ClassOther Class = iota
	// ClassTransient covers transport failures. Validation fails open on
	// them, bulk operations count them and keep going.
	ClassTransient
	// ClassAuthorization is authoritative state (wrong owner, missing record).
	ClassAuthorization
	// ClassConflict marks already-exists conditions; bulk creation skips them.
	ClassConflict
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassAuthorization:
		return "authorization"
	case ClassConflict:
		return "conflict"
	default:
		return "other"
	}
}

type registration struct {
	err   error
	class Class
	code  ErrorCode
}

var (
	registryMu sync.RWMutex
	registry   []registration
)

// Register binds a sentinel error to a class and an API error code.
func Register(sentinel error, class Class, code ErrorCode) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, registration{err: sentinel, class: class, code: code})
}

func lookup(err error) (registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, r := range registry {
		if stderrors.Is(err, r.err) {
			return r, true
		}
	}
	return registration{}, false
}

// Classify maps err onto a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}

	if r, ok := lookup(err); ok {
		return r.class
	}

	if appErr := GetAppError(err); appErr != nil {
		switch appErr.Code {
		case ErrCodeConflict:
			return ClassConflict
		case ErrCodeNotFound, ErrCodeUnauthorized, ErrCodeForbidden:
			return ClassAuthorization
		case ErrCodeServiceUnavailable:
			return ClassTransient
		}
		return ClassOther
	}

	if IsTransient(err) {
		return ClassTransient
	}
	return ClassOther
}

// IsTransient reports whether err looks like a network or timeout failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// IsConflict is shorthand for Classify(err) == ClassConflict.
func IsConflict(err error) bool {
	return Classify(err) == ClassConflict
}

// FromError converts any error into an AppError suitable for an API response.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	if r, ok := lookup(err); ok {
		return wrap(err, r.code, r.err.Error())
	}
	if IsTransient(err) {
		return wrap(err, ErrCodeServiceUnavailable, "upstream unavailable")
	}
	return wrap(err, ErrCodeInternal, "internal server error")
}
