package validation

import (
	"fmt"

	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

func (c *checker) exclusivity() {
	c.bootSource()
	c.memoryHotplug()
	c.vhostUser()

	if c.target.TDX && c.cfg.Platform != nil && c.cfg.Platform.Tdx {
		if c.cfg.Payload == nil || lo.FromPtr(c.cfg.Payload.Firmware) == "" {
			c.add(KindExclusivity, CodeTdxFirmware, "platform.tdx", "TDX guests must boot from firmware")
		}
	}
}

// bootSource requires exactly one of firmware and kernel. The legacy kernel
// field counts as a kernel.
func (c *checker) bootSource() {
	cfg := c.cfg
	p := lo.FromPtr(cfg.Payload)

	if cfg.Payload != nil && (cfg.Kernel != nil || cfg.Initramfs != nil || cfg.Cmdline != nil) {
		c.add(KindExclusivity, CodeLegacyBootConflict, "payload",
			"payload cannot be combined with the legacy kernel, initramfs or cmdline fields")
	}

	hasFirmware := lo.FromPtr(p.Firmware) != ""
	hasKernel := lo.FromPtr(p.Kernel) != "" || cfg.Kernel != nil
	hasInitramfs := lo.FromPtr(p.Initramfs) != "" || cfg.Initramfs != nil

	switch {
	case hasFirmware && hasKernel:
		c.addRelated(KindExclusivity, CodeBootSource, "payload", []string{"payload.firmware", "payload.kernel"},
			"firmware and kernel are mutually exclusive boot sources")
	case !hasFirmware && !hasKernel:
		c.add(KindExclusivity, CodeBootSource, "payload", "a firmware or kernel boot source is required")
	}
	if hasInitramfs && !hasKernel {
		c.add(KindExclusivity, CodeInitramfsWithoutKernel, "payload.initramfs", "initramfs requires a kernel")
	}
}

func (c *checker) memoryHotplug() {
	mem := c.cfg.Memory
	if mem == nil {
		return
	}
	method := lo.FromPtr(mem.HotplugMethod)

	if method == vmconfig.HotplugAcpi {
		for i, z := range mem.Zones {
			if lo.FromPtr(z.HotplugSize) > 0 {
				c.addRelated(KindExclusivity, CodeHotplugConflict, fmt.Sprintf("memory.zones[%d].hotplug_size", i),
					[]string{"memory.hotplug_method"},
					"zone hotplug uses virtio-mem, which cannot be combined with ACPI memory hotplug")
			}
		}
	}
	if mem.HotpluggedSize != nil && method != vmconfig.HotplugVirtioMem {
		c.add(KindExclusivity, CodeHotpluggedRequiresVirtioMem, "memory.hotplugged_size",
			"hotplugged_size is only valid with hotplug_method VirtioMem")
	}
}

func (c *checker) vhostUser() {
	cfg := c.cfg
	needsShared := len(cfg.Fs) > 0
	for i, n := range cfg.Net {
		if !n.VhostUser {
			continue
		}
		needsShared = true
		field := fmt.Sprintf("net[%d]", i)
		if n.Tap != nil {
			c.addRelated(KindExclusivity, CodeVhostUserConflict, field+".tap", []string{field + ".vhost_user"},
				"tap cannot be used with a vhost-user backend")
		}
		if len(n.Fds) > 0 {
			c.addRelated(KindExclusivity, CodeVhostUserConflict, field+".fds", []string{field + ".vhost_user"},
				"fds cannot be used with a vhost-user backend")
		}
	}
	needsShared = needsShared || lo.SomeBy(cfg.Disks, func(d vmconfig.DiskConfig) bool { return d.VhostUser })

	if needsShared && !sharedMemory(cfg.Memory) {
		c.add(KindExclusivity, CodeVhostUserSharedMemory, "memory.shared",
			"vhost-user and virtio-fs devices require shared guest memory")
	}
}

// sharedMemory reports whether all guest memory is mapped shared, either
// globally or in every zone.
func sharedMemory(mem *vmconfig.MemoryConfig) bool {
	if mem == nil {
		return false
	}
	if mem.Shared {
		return true
	}
	return len(mem.Zones) > 0 && lo.EveryBy(mem.Zones, func(z vmconfig.MemoryZoneConfig) bool { return z.Shared })
}
