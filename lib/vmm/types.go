package vmm

import (
	"fmt"

	"github.com/onkernel/vmconf/lib/vmconfig"
)

// VmState is the execution state reported by vm.info.
type VmState string

const (
	Created  VmState = "Created"
	Running  VmState = "Running"
	Shutdown VmState = "Shutdown"
	Paused   VmState = "Paused"
)

type VmmPingResponse struct {
	BuildVersion string   `json:"build_version,omitempty"`
	Version      string   `json:"version"`
	Pid          int64    `json:"pid,omitempty"`
	Features     []string `json:"features,omitempty"`
}

type VmInfo struct {
	Config           *vmconfig.VmConfig `json:"config"`
	State            VmState            `json:"state"`
	MemoryActualSize *int64             `json:"memory_actual_size,omitempty"`
}

// PciDeviceInfo is returned by the vm.add-* endpoints.
type PciDeviceInfo struct {
	ID  string `json:"id"`
	Bdf string `json:"bdf"`
}

type VmRemoveDevice struct {
	ID string `json:"id"`
}

type VmResize struct {
	DesiredVcpus   *uint8  `json:"desired_vcpus,omitempty"`
	DesiredRam     *uint64 `json:"desired_ram,omitempty"`
	DesiredBalloon *uint64 `json:"desired_balloon,omitempty"`
}

type VmResizeZone struct {
	ID         string `json:"id"`
	DesiredRam uint64 `json:"desired_ram"`
}

// APIError is a non-2xx answer from the VMM.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}
