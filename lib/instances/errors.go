package instances

import "errors"

var (
	// ErrNotFound is returned when a VM is not found
	ErrNotFound = errors.New("vm not found")

	// ErrAlreadyExists is returned when creating a VM whose name is taken
	ErrAlreadyExists = errors.New("vm already exists")

	// ErrAmbiguousName is returned when an id prefix matches several VMs
	ErrAmbiguousName = errors.New("multiple vms match")

	// ErrInvalidRequest is returned when a request is missing required input
	ErrInvalidRequest = errors.New("invalid request")
)
