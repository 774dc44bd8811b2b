package rbac

import "errors"

var (
	// ErrNotFound is returned when a referenced role, policy, or
	// assignment does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on duplicate role names
	ErrConflict = errors.New("already exists")

	// ErrForbidden is returned on hierarchy violations: acting on a role
	// at or above the actor's own level, touching protected fields of a
	// system role, or removing the last superadmin
	ErrForbidden = errors.New("forbidden")

	// ErrInvalid is returned when input fails validation: level or
	// priority out of range, unknown permission strings, malformed
	// fields
	ErrInvalid = errors.New("invalid input")
)
