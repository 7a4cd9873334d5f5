package identity

import "errors"

var (
	// ErrDuplicateIdentifier is returned when an explicit identifier is already registered
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrNotFound is returned when an identifier is not registered
	ErrNotFound = errors.New("identifier not found")

	// ErrInconsistent is returned when the registry disagrees with the configuration it tracks
	ErrInconsistent = errors.New("identity registry inconsistent with configuration")
)
