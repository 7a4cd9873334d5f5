// Package vmconfig defines the VM configuration schema accepted by the VMM,
// the boundary decoding that turns raw request bodies into typed values,
// and the defaulting rules that resolve omitted optional fields.
//
// JSON field names match the Cloud Hypervisor API. Fields with a documented
// default are pointers so absence can be observed; after ApplyDefaults every
// such pointer is non-nil.
package vmconfig

// VmConfig is the aggregate root describing every resource given to a guest.
type VmConfig struct {
	Cpus    *CpusConfig    `json:"cpus,omitempty"`
	Memory  *MemoryConfig  `json:"memory,omitempty"`
	Payload *PayloadConfig `json:"payload,omitempty"`

	// Legacy boot fields, folded into Payload by ApplyDefaults.
	Kernel    *KernelConfig    `json:"kernel,omitempty"`
	Initramfs *InitramfsConfig `json:"initramfs,omitempty"`
	Cmdline   *CmdlineConfig   `json:"cmdline,omitempty"`

	Disks       []DiskConfig       `json:"disks,omitempty"`
	Net         []NetConfig        `json:"net,omitempty"`
	Rng         *RngConfig         `json:"rng,omitempty"`
	Balloon     *BalloonConfig     `json:"balloon,omitempty"`
	Fs          []FsConfig         `json:"fs,omitempty"`
	Pmem        []PmemConfig       `json:"pmem,omitempty"`
	Serial      *ConsoleConfig     `json:"serial,omitempty"`
	Console     *ConsoleConfig     `json:"console,omitempty"`
	Devices     []DeviceConfig     `json:"devices,omitempty"`
	UserDevices []UserDeviceConfig `json:"user_devices,omitempty"`
	Vdpa        []VdpaConfig       `json:"vdpa,omitempty"`
	Vsock       *VsockConfig       `json:"vsock,omitempty"`
	Iommu       bool               `json:"iommu,omitempty"`
	SgxEpc      []SgxEpcConfig     `json:"sgx_epc,omitempty"` // requires Target.SGX
	Numa        []NumaConfig       `json:"numa,omitempty"`
	Watchdog    bool               `json:"watchdog,omitempty"`
	Gdb         bool               `json:"gdb,omitempty"` // requires Target.GuestDebug
	Platform    *PlatformConfig    `json:"platform,omitempty"`

	// absent lists required members the decoded document omitted.
	absent []string
}

// CpusConfig describes the vCPUs of the guest.
type CpusConfig struct {
	BootVcpus   uint8         `json:"boot_vcpus"`
	MaxVcpus    uint8         `json:"max_vcpus"`
	Topology    *CpuTopology  `json:"topology,omitempty"`
	KvmHyperv   bool          `json:"kvm_hyperv,omitempty"`
	MaxPhysBits *uint8        `json:"max_phys_bits,omitempty"`
	Affinity    []CpuAffinity `json:"affinity,omitempty"`
	Features    CpuFeatures   `json:"features"`
}

// CpuTopology defines the virtual CPU topology.
type CpuTopology struct {
	ThreadsPerCore uint8 `json:"threads_per_core"`
	CoresPerDie    uint8 `json:"cores_per_die"`
	DiesPerPackage uint8 `json:"dies_per_package"`
	Packages       uint8 `json:"packages"`
}

// CpuAffinity pins one vCPU to a set of host CPUs.
type CpuAffinity struct {
	Vcpu     uint8    `json:"vcpu"`
	HostCpus []uint32 `json:"host_cpus"`
}

// CpuFeatures holds architecture specific CPU feature flags.
type CpuFeatures struct {
	Amx bool `json:"amx,omitempty"` // requires Target.AMX
}

// MemoryConfig describes guest RAM and how it can grow.
type MemoryConfig struct {
	Size           uint64             `json:"size"`
	Mergeable      bool               `json:"mergeable,omitempty"`
	HotplugMethod  *HotplugMethod     `json:"hotplug_method,omitempty"`
	HotplugSize    *uint64            `json:"hotplug_size,omitempty"`
	HotpluggedSize *uint64            `json:"hotplugged_size,omitempty"`
	Shared         bool               `json:"shared,omitempty"`
	Hugepages      bool               `json:"hugepages,omitempty"`
	HugepageSize   *uint64            `json:"hugepage_size,omitempty"`
	Prefault       bool               `json:"prefault,omitempty"`
	Zones          []MemoryZoneConfig `json:"zones,omitempty"`
}

// MemoryZoneConfig is a named slice of guest memory that NUMA nodes refer to.
type MemoryZoneConfig struct {
	ID             string  `json:"id"`
	Size           uint64  `json:"size"`
	File           *string `json:"file,omitempty"`
	Shared         bool    `json:"shared,omitempty"`
	Hugepages      bool    `json:"hugepages,omitempty"`
	HugepageSize   *uint64 `json:"hugepage_size,omitempty"`
	HostNumaNode   *uint32 `json:"host_numa_node,omitempty"`
	HotplugSize    *uint64 `json:"hotplug_size,omitempty"`
	HotpluggedSize *uint64 `json:"hotplugged_size,omitempty"`
	Prefault       bool    `json:"prefault,omitempty"`
}

// PayloadConfig selects what the guest boots.
type PayloadConfig struct {
	Firmware  *string `json:"firmware,omitempty"`
	Kernel    *string `json:"kernel,omitempty"`
	Cmdline   *string `json:"cmdline,omitempty"`
	Initramfs *string `json:"initramfs,omitempty"`
}

type KernelConfig struct {
	Path string `json:"path"`
}

type InitramfsConfig struct {
	Path string `json:"path"`
}

type CmdlineConfig struct {
	Args string `json:"args"`
}

// DiskConfig is a virtio-blk device, in-process or vhost-user backed.
type DiskConfig struct {
	Path              *string            `json:"path,omitempty"`
	Readonly          bool               `json:"readonly,omitempty"`
	Direct            bool               `json:"direct,omitempty"`
	Iommu             bool               `json:"iommu,omitempty"`
	NumQueues         *int               `json:"num_queues,omitempty"`
	QueueSize         *uint16            `json:"queue_size,omitempty"`
	VhostUser         bool               `json:"vhost_user,omitempty"`
	VhostSocket       *string            `json:"vhost_socket,omitempty"`
	RateLimiterConfig *RateLimiterConfig `json:"rate_limiter_config,omitempty"`
	ID                *string            `json:"id,omitempty"`
	PciSegment        uint16             `json:"pci_segment,omitempty"`
}

// NetConfig is a virtio-net device.
type NetConfig struct {
	Tap               *string            `json:"tap,omitempty"`
	IP                *string            `json:"ip,omitempty"`
	Mask              *string            `json:"mask,omitempty"`
	Mac               *string            `json:"mac,omitempty"` // hypervisor assigned when unset
	HostMac           *string            `json:"host_mac,omitempty"`
	Mtu               *uint16            `json:"mtu,omitempty"`
	Iommu             bool               `json:"iommu,omitempty"`
	NumQueues         *int               `json:"num_queues,omitempty"`
	QueueSize         *uint16            `json:"queue_size,omitempty"`
	VhostUser         bool               `json:"vhost_user,omitempty"`
	VhostSocket       *string            `json:"vhost_socket,omitempty"`
	VhostMode         *VhostMode         `json:"vhost_mode,omitempty"`
	ID                *string            `json:"id,omitempty"`
	Fds               []int32            `json:"fds,omitempty"`
	RateLimiterConfig *RateLimiterConfig `json:"rate_limiter_config,omitempty"`
	PciSegment        uint16             `json:"pci_segment,omitempty"`
}

// RateLimiterConfig throttles a device by bandwidth and/or operations.
type RateLimiterConfig struct {
	Bandwidth *TokenBucket `json:"bandwidth,omitempty"`
	Ops       *TokenBucket `json:"ops,omitempty"`
}

// TokenBucket is refilled with Size tokens every RefillTime milliseconds.
type TokenBucket struct {
	Size         uint64  `json:"size"`
	OneTimeBurst *uint64 `json:"one_time_burst,omitempty"`
	RefillTime   uint64  `json:"refill_time"`
}

// FsConfig is a virtio-fs share served by a vhost-user daemon.
type FsConfig struct {
	Tag        string  `json:"tag"`
	Socket     string  `json:"socket"`
	NumQueues  *int    `json:"num_queues,omitempty"`
	QueueSize  *uint16 `json:"queue_size,omitempty"`
	ID         *string `json:"id,omitempty"`
	PciSegment uint16  `json:"pci_segment,omitempty"`
}

// PmemConfig is a virtio-pmem region backed by a host file.
type PmemConfig struct {
	File          string  `json:"file"`
	Size          *uint64 `json:"size,omitempty"`
	Iommu         bool    `json:"iommu,omitempty"`
	DiscardWrites bool    `json:"discard_writes,omitempty"`
	ID            *string `json:"id,omitempty"`
	PciSegment    uint16  `json:"pci_segment,omitempty"`
}

// DeviceConfig is a VFIO pass-through device.
type DeviceConfig struct {
	Path       string  `json:"path"`
	Iommu      bool    `json:"iommu,omitempty"`
	ID         *string `json:"id,omitempty"`
	PciSegment uint16  `json:"pci_segment,omitempty"`
}

// UserDeviceConfig is a vfio-user device served over a socket.
type UserDeviceConfig struct {
	Socket     string  `json:"socket"`
	ID         *string `json:"id,omitempty"`
	PciSegment uint16  `json:"pci_segment,omitempty"`
}

// VdpaConfig is a vDPA accelerator device.
type VdpaConfig struct {
	Path       string  `json:"path"`
	NumQueues  *int    `json:"num_queues,omitempty"`
	Iommu      bool    `json:"iommu,omitempty"`
	ID         *string `json:"id,omitempty"`
	PciSegment uint16  `json:"pci_segment,omitempty"`
}

// VsockConfig is the virtio-vsock endpoint.
type VsockConfig struct {
	Cid        uint64  `json:"cid"`
	Socket     string  `json:"socket"`
	Iommu      bool    `json:"iommu,omitempty"`
	ID         *string `json:"id,omitempty"`
	PciSegment uint16  `json:"pci_segment,omitempty"`
}

type RngConfig struct {
	Src   string `json:"src"`
	Iommu bool   `json:"iommu,omitempty"`
}

type BalloonConfig struct {
	Size              uint64 `json:"size"`
	DeflateOnOom      bool   `json:"deflate_on_oom,omitempty"`
	FreePageReporting bool   `json:"free_page_reporting,omitempty"`
}

// ConsoleConfig configures either the serial port or the virtio console.
type ConsoleConfig struct {
	File  *string           `json:"file,omitempty"`
	Mode  ConsoleOutputMode `json:"mode"`
	Iommu bool              `json:"iommu,omitempty"`
}

// NumaConfig declares one guest NUMA node.
type NumaConfig struct {
	GuestNumaID    uint32         `json:"guest_numa_id"`
	Cpus           []uint32       `json:"cpus,omitempty"`
	Distances      []NumaDistance `json:"distances,omitempty"`
	MemoryZones    []string       `json:"memory_zones,omitempty"`
	SgxEpcSections []string       `json:"sgx_epc_sections,omitempty"` // requires Target.SGX
}

type NumaDistance struct {
	Destination uint32 `json:"destination"`
	Distance    uint8  `json:"distance"`
}

// SgxEpcConfig is an enclave page cache section.
type SgxEpcConfig struct {
	ID       string `json:"id"`
	Size     uint64 `json:"size"`
	Prefault bool   `json:"prefault,omitempty"`
}

// PlatformConfig carries PCI segment layout and platform identity.
type PlatformConfig struct {
	NumPciSegments *uint16  `json:"num_pci_segments,omitempty"`
	IommuSegments  []uint16 `json:"iommu_segments,omitempty"`
	SerialNumber   *string  `json:"serial_number,omitempty"`
	UUID           *string  `json:"uuid,omitempty"`
	OemStrings     []string `json:"oem_strings,omitempty"`
	Tdx            bool     `json:"tdx,omitempty"` // requires Target.TDX
}
