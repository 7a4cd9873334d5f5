package instances

import (
	"time"

	"github.com/onkernel/vmconf/lib/vmconfig"
)

// State is the execution state of a VM.
type State string

const (
	// StateDefined means the configuration is held here only, no VMM is attached
	StateDefined  State = "Defined"
	StateCreated  State = "Created"
	StateRunning  State = "Running"
	StatePaused   State = "Paused"
	StateShutdown State = "Shutdown"
	// StateUnknown means the attached VMM could not be queried
	StateUnknown State = "Unknown"
)

// VM is a VM definition with its current validated configuration.
type VM struct {
	Id        string
	Name      string
	CreatedAt time.Time
	// APISocket is the Cloud Hypervisor API socket changes are forwarded to.
	APISocket *string
	State     State
	// StateError is set when State is Unknown.
	StateError *string
	// Version counts committed configuration changes, starting at 1.
	Version uint64
	Config  *vmconfig.VmConfig
	// Identifiers lists every device identifier, sorted.
	Identifiers []string
}

type CreateVMRequest struct {
	Name      string
	APISocket *string
	// Boot boots the VM after creating it in the VMM.
	Boot   bool
	Config *vmconfig.VmConfig
}

type AddDeviceRequest struct {
	Family vmconfig.Family
	// Device is a value of the family's config type, e.g. vmconfig.DiskConfig.
	Device any
}

// ResizeRequest resizes the VM. Set fields are applied in order vCPUs,
// memory, balloon, each as its own change.
type ResizeRequest struct {
	DesiredVcpus   *uint8
	DesiredRam     *uint64
	DesiredBalloon *uint64
}

type ResizeZoneRequest struct {
	ID         string
	DesiredRam uint64
}

// DeviceResult is the outcome of a device hot-add.
type DeviceResult struct {
	ID     string
	Device any
	// Bdf is the PCI address reported by the VMM, if one is attached.
	Bdf *string
	VM  *VM
}
