package vmconfig

import (
	"fmt"
	"runtime"
)

// MaxPCISegments is the architectural limit on PCI segments a platform may declare.
const MaxPCISegments uint16 = 16

// Architecture names used by Target.Arch.
const (
	ArchX86_64  = "x86_64"
	ArchAarch64 = "aarch64"
)

// Target describes the deployment target a configuration is checked against.
// Architecture specific schema fields are only checked when the matching
// capability is present; otherwise they are carried through untouched.
type Target struct {
	// MaxPCISegments bounds platform.num_pci_segments.
	MaxPCISegments uint16

	Arch string

	// AMX enables cpus.features.amx.
	AMX bool
	// SGX enables sgx_epc and numa[].sgx_epc_sections.
	SGX bool
	// TDX enables platform.tdx.
	TDX bool
	// GuestDebug enables gdb.
	GuestDebug bool
}

// DefaultTarget returns the target for the host architecture.
func DefaultTarget() Target {
	return TargetForArch(hostArch())
}

// TargetForArch returns the capabilities a stock build has on arch.
func TargetForArch(arch string) Target {
	t := Target{
		MaxPCISegments: MaxPCISegments,
		Arch:           arch,
	}
	if arch == ArchX86_64 {
		t.AMX = true
		t.SGX = true
	}
	return t
}

// Validate reports whether the target can bound a configuration at all.
func (t Target) Validate() error {
	if t.MaxPCISegments == 0 {
		return fmt.Errorf("%w: max PCI segments must be at least 1", ErrInvalidTarget)
	}
	switch t.Arch {
	case ArchX86_64, ArchAarch64:
	default:
		return fmt.Errorf("%w: unsupported architecture %q", ErrInvalidTarget, t.Arch)
	}
	return nil
}

func hostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return ArchAarch64
	default:
		return ArchX86_64
	}
}
