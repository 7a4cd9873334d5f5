package cloudhypervisor

import (
	"fmt"

	"github.com/onkernel/vmconf/lib/hypervisor"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// ToVMConfig returns the vm.create body for a resolved configuration.
// The schema is Cloud Hypervisor's own; only the legacy boot fields, which
// current releases reject, are dropped.
func ToVMConfig(cfg *vmconfig.VmConfig) *vmconfig.VmConfig {
	out := cfg.Clone()
	out.Kernel = nil
	out.Initramfs = nil
	out.Cmdline = nil
	return out
}

// addEndpoint returns the vm.add-* endpoint of a hotpluggable family.
func addEndpoint(f vmconfig.Family) (string, error) {
	switch f {
	case vmconfig.FamilyDisk:
		return "vm.add-disk", nil
	case vmconfig.FamilyNet:
		return "vm.add-net", nil
	case vmconfig.FamilyFs:
		return "vm.add-fs", nil
	case vmconfig.FamilyPmem:
		return "vm.add-pmem", nil
	case vmconfig.FamilyDevice:
		return "vm.add-device", nil
	case vmconfig.FamilyUserDevice:
		return "vm.add-user-device", nil
	case vmconfig.FamilyVdpa:
		return "vm.add-vdpa", nil
	case vmconfig.FamilyVsock:
		return "vm.add-vsock", nil
	}
	return "", fmt.Errorf("%w: add %s", hypervisor.ErrUnsupported, f)
}
