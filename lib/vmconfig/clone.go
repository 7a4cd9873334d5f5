package vmconfig

// Clone returns a deep copy of c. Nil and empty collections are preserved as they are.
func (c *VmConfig) Clone() *VmConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Cpus != nil {
		cpus := *c.Cpus
		cpus.Topology = clonePtr(c.Cpus.Topology)
		cpus.MaxPhysBits = clonePtr(c.Cpus.MaxPhysBits)
		cpus.Affinity = cloneEach(c.Cpus.Affinity, func(a CpuAffinity) CpuAffinity {
			a.HostCpus = cloneSlice(a.HostCpus)
			return a
		})
		out.Cpus = &cpus
	}
	if c.Memory != nil {
		mem := *c.Memory
		mem.HotplugMethod = clonePtr(c.Memory.HotplugMethod)
		mem.HotplugSize = clonePtr(c.Memory.HotplugSize)
		mem.HotpluggedSize = clonePtr(c.Memory.HotpluggedSize)
		mem.HugepageSize = clonePtr(c.Memory.HugepageSize)
		mem.Zones = cloneEach(c.Memory.Zones, func(z MemoryZoneConfig) MemoryZoneConfig {
			z.File = clonePtr(z.File)
			z.HugepageSize = clonePtr(z.HugepageSize)
			z.HostNumaNode = clonePtr(z.HostNumaNode)
			z.HotplugSize = clonePtr(z.HotplugSize)
			z.HotpluggedSize = clonePtr(z.HotpluggedSize)
			return z
		})
		out.Memory = &mem
	}
	if c.Payload != nil {
		p := *c.Payload
		p.Firmware = clonePtr(p.Firmware)
		p.Kernel = clonePtr(p.Kernel)
		p.Cmdline = clonePtr(p.Cmdline)
		p.Initramfs = clonePtr(p.Initramfs)
		out.Payload = &p
	}
	out.Kernel = clonePtr(c.Kernel)
	out.Initramfs = clonePtr(c.Initramfs)
	out.Cmdline = clonePtr(c.Cmdline)
	out.Disks = cloneEach(c.Disks, DiskConfig.clone)
	out.Net = cloneEach(c.Net, NetConfig.clone)
	out.Rng = clonePtr(c.Rng)
	out.Balloon = clonePtr(c.Balloon)
	out.Fs = cloneEach(c.Fs, FsConfig.clone)
	out.Pmem = cloneEach(c.Pmem, PmemConfig.clone)
	out.Serial = c.Serial.clone()
	out.Console = c.Console.clone()
	out.Devices = cloneEach(c.Devices, DeviceConfig.clone)
	out.UserDevices = cloneEach(c.UserDevices, UserDeviceConfig.clone)
	out.Vdpa = cloneEach(c.Vdpa, VdpaConfig.clone)
	if c.Vsock != nil {
		v := c.Vsock.clone()
		out.Vsock = &v
	}
	out.SgxEpc = cloneSlice(c.SgxEpc)
	out.Numa = cloneEach(c.Numa, func(n NumaConfig) NumaConfig {
		n.Cpus = cloneSlice(n.Cpus)
		n.Distances = cloneSlice(n.Distances)
		n.MemoryZones = cloneSlice(n.MemoryZones)
		n.SgxEpcSections = cloneSlice(n.SgxEpcSections)
		return n
	})
	if c.Platform != nil {
		p := *c.Platform
		p.NumPciSegments = clonePtr(p.NumPciSegments)
		p.IommuSegments = cloneSlice(p.IommuSegments)
		p.SerialNumber = clonePtr(p.SerialNumber)
		p.UUID = clonePtr(p.UUID)
		p.OemStrings = cloneSlice(p.OemStrings)
		out.Platform = &p
	}
	return &out
}

func (d DiskConfig) clone() DiskConfig {
	d.Path = clonePtr(d.Path)
	d.NumQueues = clonePtr(d.NumQueues)
	d.QueueSize = clonePtr(d.QueueSize)
	d.VhostSocket = clonePtr(d.VhostSocket)
	d.RateLimiterConfig = d.RateLimiterConfig.clone()
	d.ID = clonePtr(d.ID)
	return d
}

func (n NetConfig) clone() NetConfig {
	n.Tap = clonePtr(n.Tap)
	n.IP = clonePtr(n.IP)
	n.Mask = clonePtr(n.Mask)
	n.Mac = clonePtr(n.Mac)
	n.HostMac = clonePtr(n.HostMac)
	n.Mtu = clonePtr(n.Mtu)
	n.NumQueues = clonePtr(n.NumQueues)
	n.QueueSize = clonePtr(n.QueueSize)
	n.VhostSocket = clonePtr(n.VhostSocket)
	n.VhostMode = clonePtr(n.VhostMode)
	n.ID = clonePtr(n.ID)
	n.Fds = cloneSlice(n.Fds)
	n.RateLimiterConfig = n.RateLimiterConfig.clone()
	return n
}

func (f FsConfig) clone() FsConfig {
	f.NumQueues = clonePtr(f.NumQueues)
	f.QueueSize = clonePtr(f.QueueSize)
	f.ID = clonePtr(f.ID)
	return f
}

func (p PmemConfig) clone() PmemConfig {
	p.Size = clonePtr(p.Size)
	p.ID = clonePtr(p.ID)
	return p
}

func (d DeviceConfig) clone() DeviceConfig {
	d.ID = clonePtr(d.ID)
	return d
}

func (u UserDeviceConfig) clone() UserDeviceConfig {
	u.ID = clonePtr(u.ID)
	return u
}

func (v VdpaConfig) clone() VdpaConfig {
	v.NumQueues = clonePtr(v.NumQueues)
	v.ID = clonePtr(v.ID)
	return v
}

func (v VsockConfig) clone() VsockConfig {
	v.ID = clonePtr(v.ID)
	return v
}

func (c *ConsoleConfig) clone() *ConsoleConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.File = clonePtr(c.File)
	return &out
}

func (r *RateLimiterConfig) clone() *RateLimiterConfig {
	if r == nil {
		return nil
	}
	out := RateLimiterConfig{
		Bandwidth: r.Bandwidth.clone(),
		Ops:       r.Ops.clone(),
	}
	return &out
}

func (b *TokenBucket) clone() *TokenBucket {
	if b == nil {
		return nil
	}
	out := *b
	out.OneTimeBurst = clonePtr(b.OneTimeBurst)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func cloneEach[T any](s []T, fn func(T) T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	for i, v := range s {
		out[i] = fn(v)
	}
	return out
}
