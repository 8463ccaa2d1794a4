package stack

import "errors"

var (
	// ErrNoFunction is returned by mutations when no function is bound.
	ErrNoFunction = errors.New("no function bound")

	// ErrOverlap is returned when a definition intersects an existing variable.
	ErrOverlap = errors.New("overlaps existing variable")

	// ErrInvalidSize is returned for non-positive variable sizes.
	ErrInvalidSize = errors.New("invalid variable size")

	// ErrNoVariable is returned when no variable starts at the given offset.
	ErrNoVariable = errors.New("no variable at offset")

	// ErrEmptyName is returned when a variable name is blank.
	ErrEmptyName = errors.New("empty variable name")
)
