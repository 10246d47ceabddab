// Package domain defines the catalog entities: users, cells, and cell
// ownerships.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/errors"
)

// User represents an account in the system. Password holds the Argon2id hash.
type User struct {
	ID                  uuid.UUID
	Username            string
	Email               string
	Password            string
	IsActive            bool
	IsAdmin             bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is currently in a lockout window.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Domain-specific errors for user operations.
var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.Wrap(errors.ErrNotFound, "user not found")

	// ErrUserAlreadyExists indicates a user with the same email or username already exists.
	ErrUserAlreadyExists = errors.Wrap(errors.ErrConflict, "user already exists")

	// ErrInvalidCredentials indicates the email/password pair did not match.
	ErrInvalidCredentials = errors.Wrap(errors.ErrUnauthorized, "invalid credentials")

	// ErrUserLocked indicates the account is locked after repeated failed logins.
	ErrUserLocked = errors.Wrap(errors.ErrLocked, "account is temporarily locked")

	// ErrUserInactive indicates the account has been deactivated.
	ErrUserInactive = errors.Wrap(errors.ErrForbidden, "account is inactive")
)
