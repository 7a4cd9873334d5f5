// Package validation checks the cross-field invariants of a defaulted VM
// configuration and reports every violation it finds.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig matches any non-empty Violations with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// Kind groups violations by the check that produced them.
type Kind string

const (
	KindSegment     Kind = "segment"
	KindIdentity    Kind = "identity"
	KindReference   Kind = "reference"
	KindRange       Kind = "range"
	KindExclusivity Kind = "exclusivity"
	KindIommu       Kind = "iommu"
)

// Code identifies one invariant.
type Code string

const (
	// Segment
	CodeSegmentCount           Code = "segment_count_out_of_range"
	CodePciSegmentOutOfRange   Code = "pci_segment_out_of_range"
	CodeIommuSegmentOutOfRange Code = "iommu_segment_out_of_range"

	// Identity
	CodeDuplicateIdentifier Code = "duplicate_identifier"

	// Reference
	CodeDuplicateNumaNode      Code = "duplicate_numa_node"
	CodeUnknownMemoryZone      Code = "unknown_memory_zone"
	CodeZoneMultiplyReferenced Code = "memory_zone_multiply_referenced"
	CodeUnknownNumaNode        Code = "unknown_numa_node"
	CodeSelfDistance           Code = "numa_self_distance"
	CodeAsymmetricDistance     Code = "numa_distance_asymmetric"
	CodeDuplicateDistance      Code = "numa_distance_duplicate"
	CodeNumaCpuOutOfRange      Code = "numa_cpu_out_of_range"
	CodeNumaCpuReused          Code = "numa_cpu_reused"
	CodeUnknownSgxSection      Code = "unknown_sgx_epc_section"

	// Range
	CodeBootVcpusZero            Code = "boot_vcpus_zero"
	CodeBootExceedsMax           Code = "boot_vcpus_exceed_max"
	CodeAffinityOutOfRange       Code = "affinity_vcpu_out_of_range"
	CodeAffinityDuplicate        Code = "affinity_vcpu_duplicate"
	CodeAffinityEmpty            Code = "affinity_host_cpus_empty"
	CodeTopology                 Code = "cpu_topology_invalid"
	CodeMemorySizeZero           Code = "memory_size_zero"
	CodeDuplicateZone            Code = "duplicate_memory_zone"
	CodeZoneSizeZero             Code = "memory_zone_size_zero"
	CodeZonesExceedMemory        Code = "memory_zones_exceed_total"
	CodeHotplugSizeMissing       Code = "hotplug_size_missing"
	CodeHotplugMethodMissing     Code = "hotplug_method_missing"
	CodeHotpluggedExceedsHotplug Code = "hotplugged_size_exceeds_hotplug_size"
	CodeHugepageSize             Code = "hugepage_size_invalid"
	CodeQueueCount               Code = "num_queues_invalid"
	CodeQueueSize                Code = "queue_size_invalid"
	CodeVsockCid                 Code = "vsock_cid_reserved"
	CodeBalloonSize              Code = "balloon_size_exceeds_memory"
	CodeRateLimiter              Code = "rate_limiter_invalid"
	CodePlatformUUID             Code = "platform_uuid_invalid"
	CodeNetAddress               Code = "net_address_invalid"
	CodeConsoleFile              Code = "console_file_mismatch"
	CodeDiskBackend              Code = "disk_backend_missing"
	CodeVhostSocket              Code = "vhost_socket_missing"
	CodeDuplicateSgxSection      Code = "duplicate_sgx_epc_section"
	CodeSgxSize                  Code = "sgx_epc_size_zero"
	CodeResizeUnsupported        Code = "resize_unsupported"
	CodeResizeOutOfRange         Code = "resize_out_of_range"

	// Exclusivity
	CodeLegacyBootConflict          Code = "legacy_boot_conflict"
	CodeBootSource                  Code = "boot_source"
	CodeInitramfsWithoutKernel      Code = "initramfs_without_kernel"
	CodeHotplugConflict             Code = "memory_hotplug_conflict"
	CodeHotpluggedRequiresVirtioMem Code = "hotplugged_size_requires_virtio_mem"
	CodeVhostUserConflict           Code = "vhost_user_conflict"
	CodeVhostUserSharedMemory       Code = "vhost_user_requires_shared_memory"
	CodeTdxFirmware                 Code = "tdx_requires_firmware"

	// IOMMU
	CodeIommuSegmentMismatch Code = "iommu_segment_mismatch"
	CodeIommuUnsupported     Code = "iommu_unsupported"
)

// Violation is one broken invariant.
type Violation struct {
	Kind  Kind   `json:"kind"`
	Code  Code   `json:"code"`
	Field string `json:"field"`
	// Related lists other fields involved, e.g. every holder of a duplicated id.
	Related []string `json:"related,omitempty"`
	Message string   `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Code)
}

// Violations is the complete result of one validation run.
type Violations []Violation

func (v Violations) Error() string {
	msgs := make([]string, 0, len(v))
	for _, one := range v {
		msgs = append(msgs, one.String())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func (v Violations) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Err returns v as an error, or nil when there are no violations.
func (v Violations) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Has reports whether any violation carries code.
func (v Violations) Has(code Code) bool {
	for _, one := range v {
		if one.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the code of every violation, in order.
func (v Violations) Codes() []Code {
	codes := make([]Code, len(v))
	for i, one := range v {
		codes[i] = one.Code
	}
	return codes
}
