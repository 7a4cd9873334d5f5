// Package hypervisor provides an abstraction layer for virtual machine managers.
// This allows the instances package to hand validated configurations and
// hotplug changes to a VMM without depending on its API.
package hypervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/onkernel/vmconf/lib/vmconfig"
)

// Type identifies the hypervisor implementation
type Type string

const (
	// TypeCloudHypervisor is the Cloud Hypervisor VMM
	TypeCloudHypervisor Type = "cloud-hypervisor"
)

// Factory connects to a running VMM through its API socket.
type Factory func(ctx context.Context, socketPath string) (Hypervisor, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Type]Factory)
)

// Register makes a hypervisor implementation available to New.
// Called by each hypervisor implementation's init() function.
func Register(t Type, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[t] = f
}

// New connects to the VMM of type t listening on socketPath.
func New(ctx context.Context, t Type, socketPath string) (Hypervisor, error) {
	factoriesMu.RLock()
	f, ok := factories[t]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return f(ctx, socketPath)
}

// Hypervisor defines the interface for VM management operations.
// All hypervisor implementations must implement this interface.
type Hypervisor interface {
	// CreateVM configures the VM with a resolved configuration.
	// The VM is not started yet after this call.
	CreateVM(ctx context.Context, cfg *vmconfig.VmConfig) error

	// BootVM starts the configured VM.
	// Must be called after CreateVM.
	BootVM(ctx context.Context) error

	// DeleteVM removes the VM configuration.
	// The VMM process may still be running after this call.
	DeleteVM(ctx context.Context) error

	// GetVMInfo returns current VM state information.
	GetVMInfo(ctx context.Context) (*VMInfo, error)

	// AddDevice hot-adds a device of family f. device is the resolved
	// device config, e.g. vmconfig.DiskConfig, carrying its identifier.
	AddDevice(ctx context.Context, f vmconfig.Family, device any) (*PciDeviceInfo, error)

	// RemoveDevice hot-removes the device with the given identifier.
	RemoveDevice(ctx context.Context, id string) error

	// Resize changes vCPUs, RAM or balloon size.
	// Check Capabilities().SupportsHotplugMemory before resizing RAM.
	Resize(ctx context.Context, r Resize) error

	// ResizeZone changes the plugged size of a memory zone.
	// Check Capabilities().SupportsZoneResize before calling.
	ResizeZone(ctx context.Context, id string, size uint64) error

	// Capabilities returns what features this hypervisor supports.
	Capabilities() Capabilities
}

// Capabilities indicates which optional features a hypervisor supports.
// Callers should check these before calling optional methods.
type Capabilities struct {
	// SupportsHotplugMemory indicates if Resize accepts a RAM size
	SupportsHotplugMemory bool

	// SupportsZoneResize indicates if ResizeZone is available
	SupportsZoneResize bool

	// SupportsVsock indicates if vsock devices can be added
	SupportsVsock bool

	// SupportsDevicePassthrough indicates if VFIO devices can be added
	SupportsDevicePassthrough bool
}
