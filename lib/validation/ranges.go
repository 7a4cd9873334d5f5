package validation

import (
	"fmt"
	"math"
	"math/bits"
	"net"
	"net/netip"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

// wellKnownCids are the context ids AF_VSOCK gives a fixed meaning.
var wellKnownCids = map[uint64]string{
	vsock.Hypervisor: "hypervisor",
	vsock.Local:      "local loopback",
	vsock.Host:       "host",
}

// reservedCid reports whether cid cannot address a guest, and why. Context
// ids are 32 bits wide and the all-ones value means any address.
func reservedCid(cid uint64) (string, bool) {
	if name, ok := wellKnownCids[cid]; ok {
		return fmt.Sprintf("is reserved for the %s, must be greater than %d", name, vsock.Host), true
	}
	if cid >= math.MaxUint32 {
		return fmt.Sprintf("does not fit a vsock context id, must be less than %d", uint64(math.MaxUint32)), true
	}
	return "", false
}

func (c *checker) ranges() {
	c.cpuRanges()
	c.memoryRanges()
	c.deviceRanges()
	c.platformRanges()
}

func (c *checker) cpuRanges() {
	cpus := c.cfg.Cpus
	if cpus == nil {
		return
	}
	if cpus.BootVcpus == 0 {
		c.add(KindRange, CodeBootVcpusZero, "cpus.boot_vcpus", "at least one boot vCPU is required")
	}
	if cpus.BootVcpus > cpus.MaxVcpus {
		c.add(KindRange, CodeBootExceedsMax, "cpus.boot_vcpus",
			"boot_vcpus %d exceeds max_vcpus %d", cpus.BootVcpus, cpus.MaxVcpus)
	}

	seen := make(map[uint8]int)
	for i, a := range cpus.Affinity {
		field := fmt.Sprintf("cpus.affinity[%d]", i)
		if a.Vcpu >= cpus.MaxVcpus {
			c.add(KindRange, CodeAffinityOutOfRange, field+".vcpu",
				"vCPU %d is out of range, max_vcpus is %d", a.Vcpu, cpus.MaxVcpus)
		}
		if prev, ok := seen[a.Vcpu]; ok {
			c.addRelated(KindRange, CodeAffinityDuplicate, field+".vcpu", []string{fmt.Sprintf("cpus.affinity[%d]", prev)},
				"vCPU %d has more than one affinity entry", a.Vcpu)
		} else {
			seen[a.Vcpu] = i
		}
		if len(a.HostCpus) == 0 {
			c.add(KindRange, CodeAffinityEmpty, field+".host_cpus", "host_cpus must not be empty")
		}
	}

	if t := cpus.Topology; t != nil {
		if t.ThreadsPerCore == 0 || t.CoresPerDie == 0 || t.DiesPerPackage == 0 || t.Packages == 0 {
			c.add(KindRange, CodeTopology, "cpus.topology", "every topology component must be at least 1")
		} else if total := int(t.ThreadsPerCore) * int(t.CoresPerDie) * int(t.DiesPerPackage) * int(t.Packages); total < int(cpus.MaxVcpus) {
			c.add(KindRange, CodeTopology, "cpus.topology",
				"topology holds %d vCPUs, max_vcpus is %d", total, cpus.MaxVcpus)
		}
	}
}

func (c *checker) memoryRanges() {
	mem := c.cfg.Memory
	if mem == nil {
		return
	}
	if mem.Size == 0 {
		c.add(KindRange, CodeMemorySizeZero, "memory.size", "memory size must be positive")
	}

	switch {
	case mem.HotplugMethod != nil && mem.HotplugSize == nil:
		c.add(KindRange, CodeHotplugSizeMissing, "memory.hotplug_size",
			"hotplug_method %s requires a hotplug_size", *mem.HotplugMethod)
	case mem.HotplugMethod == nil && lo.FromPtr(mem.HotplugSize) > 0:
		c.add(KindRange, CodeHotplugMethodMissing, "memory.hotplug_method", "hotplug_size requires a hotplug_method")
	}
	c.hotplugged("memory", mem.HotplugSize, mem.HotpluggedSize)
	c.hugepages("memory", mem.Hugepages, mem.HugepageSize)

	var total uint64
	ids := make(map[string]int)
	for i, z := range mem.Zones {
		field := fmt.Sprintf("memory.zones[%d]", i)
		if prev, ok := ids[z.ID]; ok {
			c.addRelated(KindRange, CodeDuplicateZone, field+".id", []string{fmt.Sprintf("memory.zones[%d]", prev)},
				"memory zone %q is declared more than once", z.ID)
		} else {
			ids[z.ID] = i
		}
		if z.Size == 0 {
			c.add(KindRange, CodeZoneSizeZero, field+".size", "memory zone %q has no size", z.ID)
		}
		total += z.Size
		c.hotplugged(field, z.HotplugSize, z.HotpluggedSize)
		c.hugepages(field, z.Hugepages, z.HugepageSize)
	}
	if total > mem.Size {
		c.add(KindRange, CodeZonesExceedMemory, "memory.zones",
			"memory zones total %s, exceeding memory size %s",
			datasize.ByteSize(total).HR(), datasize.ByteSize(mem.Size).HR())
	}
}

func (c *checker) hotplugged(prefix string, hotplugSize, hotpluggedSize *uint64) {
	if hotpluggedSize == nil {
		return
	}
	if *hotpluggedSize > lo.FromPtr(hotplugSize) {
		c.add(KindRange, CodeHotpluggedExceedsHotplug, prefix+".hotplugged_size",
			"hotplugged_size %s exceeds hotplug_size %s",
			datasize.ByteSize(*hotpluggedSize).HR(), datasize.ByteSize(lo.FromPtr(hotplugSize)).HR())
	}
}

func (c *checker) hugepages(prefix string, enabled bool, size *uint64) {
	if size == nil {
		return
	}
	if !enabled {
		c.add(KindRange, CodeHugepageSize, prefix+".hugepage_size", "hugepage_size requires hugepages")
	}
	if !powerOfTwo(*size) {
		c.add(KindRange, CodeHugepageSize, prefix+".hugepage_size",
			"hugepage_size %d is not a power of two", *size)
	}
}

func (c *checker) deviceRanges() {
	cfg := c.cfg
	for i, d := range cfg.Disks {
		field := fmt.Sprintf("disks[%d]", i)
		c.queues(field, d.NumQueues, 1, false)
		c.queueSize(field, d.QueueSize)
		c.rateLimiter(field, d.RateLimiterConfig)
		switch {
		case d.VhostUser && lo.FromPtr(d.VhostSocket) == "":
			c.add(KindRange, CodeVhostSocket, field+".vhost_socket", "vhost-user disk requires vhost_socket")
		case !d.VhostUser && lo.FromPtr(d.Path) == "":
			c.add(KindRange, CodeDiskBackend, field+".path", "disk requires a path or a vhost-user socket")
		}
	}

	for i, n := range cfg.Net {
		field := fmt.Sprintf("net[%d]", i)
		c.queues(field, n.NumQueues, 2, true)
		c.queueSize(field, n.QueueSize)
		c.rateLimiter(field, n.RateLimiterConfig)
		if n.VhostUser && lo.FromPtr(n.VhostSocket) == "" {
			c.add(KindRange, CodeVhostSocket, field+".vhost_socket", "vhost-user net requires vhost_socket")
		}
		if ip := lo.FromPtr(n.IP); ip != "" {
			if _, err := netip.ParseAddr(ip); err != nil {
				c.add(KindRange, CodeNetAddress, field+".ip", "invalid IP address %q", ip)
			}
		}
		if mask := lo.FromPtr(n.Mask); mask != "" {
			if addr, err := netip.ParseAddr(mask); err != nil || !validMask(addr) {
				c.add(KindRange, CodeNetAddress, field+".mask", "invalid netmask %q", mask)
			}
		}
		for _, mac := range []struct {
			name  string
			value *string
		}{{"mac", n.Mac}, {"host_mac", n.HostMac}} {
			if mac.value == nil {
				continue
			}
			if _, err := net.ParseMAC(*mac.value); err != nil {
				c.add(KindRange, CodeNetAddress, field+"."+mac.name, "invalid MAC address %q", *mac.value)
			}
		}
	}

	for i, f := range cfg.Fs {
		field := fmt.Sprintf("fs[%d]", i)
		c.queues(field, f.NumQueues, 1, false)
		c.queueSize(field, f.QueueSize)
	}
	for i, v := range cfg.Vdpa {
		c.queues(fmt.Sprintf("vdpa[%d]", i), v.NumQueues, 1, false)
	}

	if cfg.Vsock != nil {
		if reason, reserved := reservedCid(cfg.Vsock.Cid); reserved {
			c.add(KindRange, CodeVsockCid, "vsock.cid", "cid %d %s", cfg.Vsock.Cid, reason)
		}
	}

	if cfg.Balloon != nil && cfg.Memory != nil {
		total := cfg.Memory.Size + lo.FromPtr(cfg.Memory.HotpluggedSize)
		if cfg.Balloon.Size >= total {
			c.add(KindRange, CodeBalloonSize, "balloon.size",
				"balloon size %s must be smaller than guest memory %s",
				datasize.ByteSize(cfg.Balloon.Size).HR(), datasize.ByteSize(total).HR())
		}
	}

	c.consoleFile("serial", cfg.Serial)
	c.consoleFile("console", cfg.Console)

	if c.target.SGX {
		ids := make(map[string]int)
		for i, s := range cfg.SgxEpc {
			field := fmt.Sprintf("sgx_epc[%d]", i)
			if prev, ok := ids[s.ID]; ok {
				c.addRelated(KindRange, CodeDuplicateSgxSection, field+".id", []string{fmt.Sprintf("sgx_epc[%d]", prev)},
					"SGX EPC section %q is declared more than once", s.ID)
			} else {
				ids[s.ID] = i
			}
			if s.Size == 0 {
				c.add(KindRange, CodeSgxSize, field+".size", "SGX EPC section %q has no size", s.ID)
			}
		}
	}
}

func (c *checker) queues(prefix string, n *int, minimum int, even bool) {
	if n == nil {
		return
	}
	switch {
	case *n < minimum:
		c.add(KindRange, CodeQueueCount, prefix+".num_queues", "num_queues %d is below the minimum of %d", *n, minimum)
	case even && *n%2 != 0:
		c.add(KindRange, CodeQueueCount, prefix+".num_queues", "num_queues %d must be even", *n)
	}
}

func (c *checker) queueSize(prefix string, size *uint16) {
	if size == nil {
		return
	}
	if !powerOfTwo(uint64(*size)) {
		c.add(KindRange, CodeQueueSize, prefix+".queue_size", "queue_size %d is not a power of two", *size)
	}
}

func (c *checker) rateLimiter(prefix string, rl *vmconfig.RateLimiterConfig) {
	if rl == nil {
		return
	}
	if rl.Bandwidth != nil && rl.Bandwidth.RefillTime == 0 {
		c.add(KindRange, CodeRateLimiter, prefix+".rate_limiter_config.bandwidth.refill_time", "refill_time must be positive")
	}
	if rl.Ops != nil && rl.Ops.RefillTime == 0 {
		c.add(KindRange, CodeRateLimiter, prefix+".rate_limiter_config.ops.refill_time", "refill_time must be positive")
	}
}

func (c *checker) consoleFile(name string, cc *vmconfig.ConsoleConfig) {
	if cc == nil {
		return
	}
	hasFile := lo.FromPtr(cc.File) != ""
	switch {
	case cc.Mode == vmconfig.ConsoleFile && !hasFile:
		c.add(KindRange, CodeConsoleFile, name+".file", "mode File requires a file")
	case cc.Mode != vmconfig.ConsoleFile && hasFile:
		c.add(KindRange, CodeConsoleFile, name+".file", "file is only valid with mode File, mode is %s", cc.Mode)
	}
}

func (c *checker) platformRanges() {
	p := c.cfg.Platform
	if p == nil || p.UUID == nil {
		return
	}
	if _, err := uuid.Parse(*p.UUID); err != nil {
		c.add(KindRange, CodePlatformUUID, "platform.uuid", "invalid UUID %q: %v", *p.UUID, err)
	}
}

func powerOfTwo(n uint64) bool {
	return n != 0 && bits.OnesCount64(n) == 1
}

// validMask reports whether addr is a contiguous netmask.
func validMask(addr netip.Addr) bool {
	_, size := net.IPMask(addr.AsSlice()).Size()
	return size != 0
}
