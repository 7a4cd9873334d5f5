package hypervisor

import "errors"

// ErrUnknownType is returned by New for an unregistered hypervisor type.
var ErrUnknownType = errors.New("unknown hypervisor type")

// ErrUnsupported is returned for an operation the hypervisor lacks.
var ErrUnsupported = errors.New("operation not supported by hypervisor")

// Resize holds the runtime resize targets. Nil fields are left unchanged.
type Resize struct {
	Vcpus   *uint8
	Memory  *uint64
	Balloon *uint64
}

// PciDeviceInfo locates a hot-added device on the guest PCI bus.
type PciDeviceInfo struct {
	ID  string
	BDF string
}

// VMInfo contains current VM state information
type VMInfo struct {
	State            VMState
	MemoryActualSize *int64 // Current actual memory size in bytes (if available)
}

// VMState represents the VM execution state
type VMState string

const (
	// StateCreated means the VM is configured but not running
	StateCreated VMState = "created"
	// StateRunning means the VM is actively executing
	StateRunning VMState = "running"
	// StatePaused means the VM execution is suspended
	StatePaused VMState = "paused"
	// StateShutdown means the VM has stopped but VMM exists
	StateShutdown VMState = "shutdown"
)
