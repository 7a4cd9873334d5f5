package hotplug

import "errors"

var (
	// ErrNotFound is returned when a delta targets a resource that does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrReferenced is returned when removing a resource another entity still refers to
	ErrReferenced = errors.New("resource is still referenced")

	// ErrNotRemovable is returned when removing a device that cannot be unplugged
	ErrNotRemovable = errors.New("resource cannot be removed")

	// ErrConflict is returned when adding a device the VM can only have one of
	ErrConflict = errors.New("resource already present")

	// ErrInvalidDelta is returned when a delta is malformed
	ErrInvalidDelta = errors.New("invalid delta")

	// ErrHypervisor is returned when the hypervisor refused the change
	ErrHypervisor = errors.New("hypervisor rejected change")

	// ErrInternal is returned when the coordinator's own bookkeeping is inconsistent
	ErrInternal = errors.New("internal consistency failure")
)
