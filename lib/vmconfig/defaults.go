package vmconfig

import (
	"fmt"

	"github.com/samber/lo"
)

// Documented defaults, matching Cloud Hypervisor.
const (
	DefaultVcpus          uint8  = 1
	DefaultMaxPhysBits    uint8  = 46
	DefaultMemorySize     uint64 = 512 << 20
	DefaultDiskNumQueues         = 1
	DefaultDiskQueueSize  uint16 = 128
	DefaultNetNumQueues          = 2
	DefaultNetQueueSize   uint16 = 256
	DefaultNetIP                 = "192.168.249.1"
	DefaultNetMask               = "255.255.255.0"
	DefaultFsNumQueues           = 1
	DefaultFsQueueSize    uint16 = 1024
	DefaultVdpaNumQueues         = 1
	DefaultRngSource             = "/dev/urandom"
	DefaultNumPciSegments uint16 = 1

	DefaultVhostMode   = VhostClient
	DefaultSerialMode  = ConsoleOff
	DefaultConsoleMode = ConsolePty
)

// ApplyDefaults returns a copy of cfg with every omitted optional field
// resolved to its documented default. cfg itself is never modified.
//
// Required values that are missing are reported together as ShapeErrors; they
// are never defaulted. Fields that are optional without a default (for
// example memory.hotplug_method or a NIC's mac) stay unset. Running
// ApplyDefaults on its own output returns an equal value.
func ApplyDefaults(cfg *VmConfig, target Target) (*VmConfig, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ShapeErrors{{Message: "configuration is required"}}
	}

	d := &defaulter{cfg: cfg.Clone()}
	for _, field := range d.cfg.absent {
		d.missing("%s", field)
	}
	d.cfg.absent = nil
	d.cpus()
	d.memory()
	d.payload()
	d.devices()
	d.consoles()
	d.numa()
	d.platform()

	if len(d.errs) > 0 {
		return nil, d.errs
	}
	return d.cfg, nil
}

type defaulter struct {
	cfg  *VmConfig
	errs ShapeErrors
}

func (d *defaulter) missing(format string, args ...any) {
	d.errs = append(d.errs, required(fmt.Sprintf(format, args...)))
}

func (d *defaulter) cpus() {
	if d.cfg.Cpus == nil {
		d.cfg.Cpus = &CpusConfig{BootVcpus: DefaultVcpus, MaxVcpus: DefaultVcpus}
	}
	d.cfg.Cpus.MaxPhysBits = orDefault(d.cfg.Cpus.MaxPhysBits, DefaultMaxPhysBits)
}

func (d *defaulter) memory() {
	if d.cfg.Memory == nil {
		d.cfg.Memory = &MemoryConfig{Size: DefaultMemorySize}
	}
	for i, z := range d.cfg.Memory.Zones {
		if z.ID == "" {
			d.missing("memory.zones[%d].id", i)
		}
	}
}

// payload folds the legacy kernel/initramfs/cmdline fields into payload when
// no payload was given. When both are present they are left for the validator.
func (d *defaulter) payload() {
	c := d.cfg
	if c.Kernel != nil && c.Kernel.Path == "" {
		d.missing("kernel.path")
	}
	if c.Initramfs != nil && c.Initramfs.Path == "" {
		d.missing("initramfs.path")
	}
	if c.Payload != nil || c.Kernel == nil {
		return
	}
	p := &PayloadConfig{Kernel: lo.ToPtr(c.Kernel.Path)}
	if c.Initramfs != nil {
		p.Initramfs = lo.ToPtr(c.Initramfs.Path)
	}
	if c.Cmdline != nil && c.Cmdline.Args != "" {
		p.Cmdline = lo.ToPtr(c.Cmdline.Args)
	}
	c.Payload = p
	c.Kernel, c.Initramfs, c.Cmdline = nil, nil, nil
}

func (d *defaulter) devices() {
	c := d.cfg
	for i := range c.Disks {
		disk := &c.Disks[i]
		disk.NumQueues = orDefault(disk.NumQueues, DefaultDiskNumQueues)
		disk.QueueSize = orDefault(disk.QueueSize, DefaultDiskQueueSize)
	}
	for i := range c.Net {
		n := &c.Net[i]
		n.IP = orDefault(n.IP, DefaultNetIP)
		n.Mask = orDefault(n.Mask, DefaultNetMask)
		n.NumQueues = orDefault(n.NumQueues, DefaultNetNumQueues)
		n.QueueSize = orDefault(n.QueueSize, DefaultNetQueueSize)
		n.VhostMode = orDefault(n.VhostMode, DefaultVhostMode)
	}
	for i := range c.Fs {
		fs := &c.Fs[i]
		if fs.Tag == "" {
			d.missing("fs[%d].tag", i)
		}
		if fs.Socket == "" {
			d.missing("fs[%d].socket", i)
		}
		fs.NumQueues = orDefault(fs.NumQueues, DefaultFsNumQueues)
		fs.QueueSize = orDefault(fs.QueueSize, DefaultFsQueueSize)
	}
	for i, p := range c.Pmem {
		if p.File == "" {
			d.missing("pmem[%d].file", i)
		}
	}
	for i, dev := range c.Devices {
		if dev.Path == "" {
			d.missing("devices[%d].path", i)
		}
	}
	for i, u := range c.UserDevices {
		if u.Socket == "" {
			d.missing("user_devices[%d].socket", i)
		}
	}
	for i := range c.Vdpa {
		v := &c.Vdpa[i]
		if v.Path == "" {
			d.missing("vdpa[%d].path", i)
		}
		v.NumQueues = orDefault(v.NumQueues, DefaultVdpaNumQueues)
	}
	if c.Vsock != nil && c.Vsock.Socket == "" {
		d.missing("vsock.socket")
	}
	if c.Rng == nil {
		c.Rng = &RngConfig{Src: DefaultRngSource}
	} else if c.Rng.Src == "" {
		c.Rng.Src = DefaultRngSource
	}
	for i, s := range c.SgxEpc {
		if s.ID == "" {
			d.missing("sgx_epc[%d].id", i)
		}
	}
}

// consoles resolves the two console streams, whose defaults differ.
func (d *defaulter) consoles() {
	d.cfg.Serial = d.stream("serial", d.cfg.Serial, DefaultSerialMode)
	d.cfg.Console = d.stream("console", d.cfg.Console, DefaultConsoleMode)
}

func (d *defaulter) stream(name string, c *ConsoleConfig, mode ConsoleOutputMode) *ConsoleConfig {
	if c == nil {
		return &ConsoleConfig{Mode: mode}
	}
	if c.Mode == "" {
		d.missing("%s.mode", name)
	}
	return c
}

func (d *defaulter) numa() {
	for i, n := range d.cfg.Numa {
		for j, z := range n.MemoryZones {
			if z == "" {
				d.missing("numa[%d].memory_zones[%d]", i, j)
			}
		}
	}
}

func (d *defaulter) platform() {
	if d.cfg.Platform == nil {
		d.cfg.Platform = &PlatformConfig{}
	}
	d.cfg.Platform.NumPciSegments = orDefault(d.cfg.Platform.NumPciSegments, DefaultNumPciSegments)
}

func orDefault[T any](p *T, v T) *T {
	if p != nil {
		return p
	}
	return &v
}
