package player

import "errors"

var (
	// ErrNotFound is returned when no player has the requested ID.
	ErrNotFound = errors.New("player not found")
	// ErrConflict is returned when an update raced with another write.
	ErrConflict = errors.New("player was modified concurrently")
	// ErrDuplicate is returned when a write would violate the
	// name+team+league uniqueness constraint.
	ErrDuplicate = errors.New("player with the same name, team and league already exists")
)
