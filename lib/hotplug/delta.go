package hotplug

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/onkernel/vmconf/lib/validation"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

// Kind names a delta type in logs, metrics and API responses.
type Kind string

const (
	KindAddDevice     Kind = "add_device"
	KindRemoveDevice  Kind = "remove_device"
	KindResizeMemory  Kind = "resize_memory"
	KindResizeVcpus   Kind = "resize_vcpus"
	KindResizeZone    Kind = "resize_zone"
	KindResizeBalloon Kind = "resize_balloon"
)

// Delta is a single-resource change to a VM's configuration.
type Delta interface {
	Kind() Kind
}

// AddDevice plugs one device. Device is a value of the family's config type,
// e.g. vmconfig.DiskConfig for FamilyDisk.
type AddDevice struct {
	Family vmconfig.Family
	Device any
}

// RemoveDevice unplugs the device or unreferenced memory zone with the given id.
type RemoveDevice struct {
	ID string
}

// ResizeMemory sets the total guest RAM in bytes.
type ResizeMemory struct {
	Size uint64
}

// ResizeVcpus sets the number of active vCPUs.
type ResizeVcpus struct {
	Count uint8
}

// ResizeZone sets the total size in bytes of a hotpluggable memory zone.
type ResizeZone struct {
	ID   string
	Size uint64
}

// ResizeBalloon sets the balloon target size in bytes.
type ResizeBalloon struct {
	Size uint64
}

func (AddDevice) Kind() Kind     { return KindAddDevice }
func (RemoveDevice) Kind() Kind  { return KindRemoveDevice }
func (ResizeMemory) Kind() Kind  { return KindResizeMemory }
func (ResizeVcpus) Kind() Kind   { return KindResizeVcpus }
func (ResizeZone) Kind() Kind    { return KindResizeZone }
func (ResizeBalloon) Kind() Kind { return KindResizeBalloon }

// addDevice appends the device to its family and returns its position.
func addDevice(cfg *vmconfig.VmConfig, d AddDevice) (int, error) {
	f, ok := vmconfig.FamilyOf(d.Device)
	if !ok {
		return 0, fmt.Errorf("%w: unsupported device type %T", ErrInvalidDelta, d.Device)
	}
	if f != d.Family {
		return 0, fmt.Errorf("%w: %s body given for family %s", ErrInvalidDelta, f, d.Family)
	}

	switch dev := d.Device.(type) {
	case vmconfig.DiskConfig:
		cfg.Disks = append(cfg.Disks, dev)
		return len(cfg.Disks) - 1, nil
	case vmconfig.NetConfig:
		cfg.Net = append(cfg.Net, dev)
		return len(cfg.Net) - 1, nil
	case vmconfig.FsConfig:
		cfg.Fs = append(cfg.Fs, dev)
		return len(cfg.Fs) - 1, nil
	case vmconfig.PmemConfig:
		cfg.Pmem = append(cfg.Pmem, dev)
		return len(cfg.Pmem) - 1, nil
	case vmconfig.DeviceConfig:
		cfg.Devices = append(cfg.Devices, dev)
		return len(cfg.Devices) - 1, nil
	case vmconfig.UserDeviceConfig:
		cfg.UserDevices = append(cfg.UserDevices, dev)
		return len(cfg.UserDevices) - 1, nil
	case vmconfig.VdpaConfig:
		cfg.Vdpa = append(cfg.Vdpa, dev)
		return len(cfg.Vdpa) - 1, nil
	case vmconfig.VsockConfig:
		if cfg.Vsock != nil {
			return 0, fmt.Errorf("%w: vsock", ErrConflict)
		}
		cfg.Vsock = &dev
		return 0, nil
	}
	return 0, fmt.Errorf("%w: unsupported device type %T", ErrInvalidDelta, d.Device)
}

// resizeMemory applies a new RAM total. ACPI hotplug grows memory.size and
// spends the hotplug budget; virtio-mem tracks the plugged amount separately.
func resizeMemory(mem *vmconfig.MemoryConfig, size uint64) validation.Violations {
	current := mem.Size + lo.FromPtr(mem.HotpluggedSize)
	if size == current {
		return nil
	}
	if mem.HotplugMethod == nil {
		return resizeViolation(validation.CodeResizeUnsupported, "memory.hotplug_method",
			"memory hotplug is not configured")
	}
	if size < mem.Size {
		return resizeViolation(validation.CodeResizeOutOfRange, "memory.size",
			"cannot shrink below boot memory %s", datasize.ByteSize(mem.Size).HR())
	}

	switch *mem.HotplugMethod {
	case vmconfig.HotplugAcpi:
		grow := size - mem.Size
		budget := lo.FromPtr(mem.HotplugSize)
		if grow > budget {
			return resizeViolation(validation.CodeResizeOutOfRange, "memory.hotplug_size",
				"growing by %s exceeds the remaining hotplug budget of %s",
				datasize.ByteSize(grow).HR(), datasize.ByteSize(budget).HR())
		}
		mem.Size = size
		mem.HotplugSize = lo.ToPtr(budget - grow)
	case vmconfig.HotplugVirtioMem:
		mem.HotpluggedSize = lo.ToPtr(size - mem.Size)
	}
	return nil
}

// resizeZone sets the plugged amount of a virtio-mem backed zone.
func resizeZone(mem *vmconfig.MemoryConfig, id string, size uint64) validation.Violations {
	i := zoneIndex(mem, id)
	z := &mem.Zones[i]
	field := fmt.Sprintf("memory.zones[%d]", i)
	if z.HotplugSize == nil {
		return resizeViolation(validation.CodeResizeUnsupported, field+".hotplug_size",
			"memory zone %q is not hotpluggable", id)
	}
	if size < z.Size {
		return resizeViolation(validation.CodeResizeOutOfRange, field+".size",
			"cannot shrink zone %q below %s", id, datasize.ByteSize(z.Size).HR())
	}
	z.HotpluggedSize = lo.ToPtr(size - z.Size)
	return nil
}

func removeZone(mem *vmconfig.MemoryConfig, id string) {
	zones := lo.DropByIndex(mem.Zones, zoneIndex(mem, id))
	if len(zones) == 0 {
		zones = nil
	}
	mem.Zones = zones
}

func zoneIndex(mem *vmconfig.MemoryConfig, id string) int {
	if mem == nil {
		return -1
	}
	_, i, _ := lo.FindIndexOf(mem.Zones, func(z vmconfig.MemoryZoneConfig) bool { return z.ID == id })
	return i
}

func resizeViolation(code validation.Code, field, format string, args ...any) validation.Violations {
	return validation.Violations{{
		Kind:    validation.KindRange,
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}}
}
