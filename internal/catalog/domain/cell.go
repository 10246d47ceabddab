package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/errors"
)

// Permission is the access level a user holds on a cell.
type Permission string

// Supported permission levels.
const (
	PermissionOwner  Permission = "owner"
	PermissionEditor Permission = "editor"
	PermissionViewer Permission = "viewer"
)

// Valid reports whether the permission is one of the supported levels.
func (p Permission) Valid() bool {
	switch p {
	case PermissionOwner, PermissionEditor, PermissionViewer:
		return true
	}
	return false
}

// CanWrite reports whether the permission allows data mutation.
func (p Permission) CanWrite() bool {
	return p == PermissionOwner || p == PermissionEditor
}

// Cell is a password-protected container of key-value data. Password holds
// the Argon2id hash of the cell password.
type Cell struct {
	ID        uuid.UUID
	Key       string
	Name      string
	Password  string
	OwnerID   uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CellOwnership links a user to a cell with a permission level.
type CellOwnership struct {
	ID         uuid.UUID
	CellID     uuid.UUID
	UserID     uuid.UUID
	Permission Permission
	CreatedAt  time.Time
}

// Domain-specific errors for cell operations.
var (
	// ErrCellNotFound indicates the requested cell does not exist.
	ErrCellNotFound = errors.Wrap(errors.ErrNotFound, "cell not found")

	// ErrCellAlreadyExists indicates a cell with the same key already exists.
	ErrCellAlreadyExists = errors.Wrap(errors.ErrConflict, "cell already exists")

	// ErrOwnershipNotFound indicates the user holds no permission on the cell.
	ErrOwnershipNotFound = errors.Wrap(errors.ErrNotFound, "ownership not found")

	// ErrOwnershipAlreadyExists indicates the user already holds a permission on the cell.
	ErrOwnershipAlreadyExists = errors.Wrap(errors.ErrConflict, "ownership already exists")

	// ErrCellAccessDenied indicates the user lacks the permission for the operation.
	ErrCellAccessDenied = errors.Wrap(errors.ErrForbidden, "cell access denied")

	// ErrInvalidPermission indicates an unsupported permission level.
	ErrInvalidPermission = errors.Wrap(errors.ErrInvalidInput, "invalid permission level")
)
