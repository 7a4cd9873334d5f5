// Package cloudhypervisor implements the hypervisor.Hypervisor interface
// for Cloud Hypervisor VMM.
package cloudhypervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/onkernel/vmconf/lib/hypervisor"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/onkernel/vmconf/lib/vmm"
)

// SocketWaitTimeout bounds how long Attach waits for the API socket.
const SocketWaitTimeout = 5 * time.Second

func init() {
	hypervisor.Register(hypervisor.TypeCloudHypervisor, func(ctx context.Context, socketPath string) (hypervisor.Hypervisor, error) {
		return Attach(ctx, socketPath)
	})
}

// CloudHypervisor implements hypervisor.Hypervisor for Cloud Hypervisor VMM.
type CloudHypervisor struct {
	client *vmm.VMM
}

// New creates a new Cloud Hypervisor client for an existing VMM socket.
func New(socketPath string) (*CloudHypervisor, error) {
	client, err := vmm.NewVMM(socketPath)
	if err != nil {
		return nil, fmt.Errorf("create vmm client: %w", err)
	}
	return &CloudHypervisor{
		client: client,
	}, nil
}

// Attach waits for the VMM socket to accept connections and pings it.
func Attach(ctx context.Context, socketPath string) (*CloudHypervisor, error) {
	if err := vmm.WaitForSocket(ctx, socketPath, SocketWaitTimeout); err != nil {
		return nil, err
	}
	c, err := New(socketPath)
	if err != nil {
		return nil, err
	}
	if _, err := c.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping vmm: %w", err)
	}
	return c, nil
}

// Verify CloudHypervisor implements the interface
var _ hypervisor.Hypervisor = (*CloudHypervisor)(nil)

// Capabilities returns the features supported by Cloud Hypervisor.
func (c *CloudHypervisor) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{
		SupportsHotplugMemory:     true,
		SupportsZoneResize:        true,
		SupportsVsock:             true,
		SupportsDevicePassthrough: true,
	}
}

// CreateVM sends the resolved configuration to vm.create.
func (c *CloudHypervisor) CreateVM(ctx context.Context, cfg *vmconfig.VmConfig) error {
	if err := c.client.CreateVM(ctx, ToVMConfig(cfg)); err != nil {
		return fmt.Errorf("create vm: %w", err)
	}
	return nil
}

// BootVM starts the created VM.
func (c *CloudHypervisor) BootVM(ctx context.Context) error {
	if err := c.client.BootVM(ctx); err != nil {
		return fmt.Errorf("boot vm: %w", err)
	}
	return nil
}

// DeleteVM removes the VM configuration from Cloud Hypervisor.
func (c *CloudHypervisor) DeleteVM(ctx context.Context) error {
	if err := c.client.DeleteVM(ctx); err != nil {
		return fmt.Errorf("delete vm: %w", err)
	}
	return nil
}

// GetVMInfo returns current VM state.
func (c *CloudHypervisor) GetVMInfo(ctx context.Context) (*hypervisor.VMInfo, error) {
	info, err := c.client.GetVmInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get vm info: %w", err)
	}

	var state hypervisor.VMState
	switch info.State {
	case vmm.Created:
		state = hypervisor.StateCreated
	case vmm.Running:
		state = hypervisor.StateRunning
	case vmm.Paused:
		state = hypervisor.StatePaused
	case vmm.Shutdown:
		state = hypervisor.StateShutdown
	default:
		return nil, fmt.Errorf("unknown vm state: %s", info.State)
	}

	return &hypervisor.VMInfo{
		State:            state,
		MemoryActualSize: info.MemoryActualSize,
	}, nil
}

// AddDevice hot-adds a device through the family's vm.add-* endpoint.
func (c *CloudHypervisor) AddDevice(ctx context.Context, f vmconfig.Family, device any) (*hypervisor.PciDeviceInfo, error) {
	endpoint, err := addEndpoint(f)
	if err != nil {
		return nil, err
	}
	info, err := c.client.AddDevice(ctx, endpoint, device)
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", f, err)
	}
	return &hypervisor.PciDeviceInfo{ID: info.ID, BDF: info.Bdf}, nil
}

// RemoveDevice hot-removes a device by identifier.
func (c *CloudHypervisor) RemoveDevice(ctx context.Context, id string) error {
	if err := c.client.RemoveDevice(ctx, id); err != nil {
		return fmt.Errorf("remove device %s: %w", id, err)
	}
	return nil
}

// Resize changes vCPUs, RAM or balloon size.
func (c *CloudHypervisor) Resize(ctx context.Context, r hypervisor.Resize) error {
	req := vmm.VmResize{
		DesiredVcpus:   r.Vcpus,
		DesiredRam:     r.Memory,
		DesiredBalloon: r.Balloon,
	}
	if err := c.client.Resize(ctx, req); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	return nil
}

// ResizeZone changes the size of a memory zone.
func (c *CloudHypervisor) ResizeZone(ctx context.Context, id string, size uint64) error {
	if err := c.client.ResizeZone(ctx, vmm.VmResizeZone{ID: id, DesiredRam: size}); err != nil {
		return fmt.Errorf("resize zone %s: %w", id, err)
	}
	return nil
}
