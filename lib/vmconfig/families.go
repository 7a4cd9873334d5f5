package vmconfig

import (
	"fmt"

	"github.com/samber/lo"
)

// Family names a kind of addressable device.
type Family string

const (
	FamilyDisk       Family = "disk"
	FamilyNet        Family = "net"
	FamilyFs         Family = "fs"
	FamilyPmem       Family = "pmem"
	FamilyDevice     Family = "device"
	FamilyUserDevice Family = "user_device"
	FamilyVdpa       Family = "vdpa"
	FamilyVsock      Family = "vsock"

	// Singletons get an identifier but have no id field of their own.
	FamilyRng     Family = "rng"
	FamilyConsole Family = "console"
	FamilyBalloon Family = "balloon"
)

// DeviceFamilies lists the hotpluggable families in PCI enumeration order.
var DeviceFamilies = []Family{
	FamilyDisk,
	FamilyNet,
	FamilyFs,
	FamilyPmem,
	FamilyDevice,
	FamilyUserDevice,
	FamilyVdpa,
	FamilyVsock,
}

// ParseFamily accepts a hotpluggable family name.
func ParseFamily(s string) (Family, error) {
	f := Family(s)
	if !lo.Contains(DeviceFamilies, f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
	return f, nil
}

// Singleton reports whether the family has no id field of its own.
func (f Family) Singleton() bool {
	switch f {
	case FamilyRng, FamilyConsole, FamilyBalloon:
		return true
	}
	return false
}

// Field returns the JSON field of VmConfig holding the family.
func (f Family) Field() string {
	switch f {
	case FamilyDisk:
		return "disks"
	case FamilyDevice:
		return "devices"
	case FamilyUserDevice:
		return "user_devices"
	default:
		return string(f)
	}
}

// DeviceRef is a back-reference to one addressable device in a VmConfig.
type DeviceRef struct {
	Family Family
	Index  int
	ID     *string
	// Path is the JSON path of the device, e.g. "disks[1]".
	Path       string
	PciSegment uint16
	Iommu      bool
	// IommuCapable is false for families with no iommu flag (fs, user_device).
	IommuCapable bool
	VhostUser    bool
}

func newRef(f Family, i int, id *string, seg uint16) DeviceRef {
	path := f.Field()
	if !f.Singleton() && f != FamilyVsock {
		path = fmt.Sprintf("%s[%d]", f.Field(), i)
	}
	return DeviceRef{Family: f, Index: i, ID: id, Path: path, PciSegment: seg}
}

// Devices returns every addressable device of cfg in deterministic order:
// device families in DeviceFamilies order, then rng, console and balloon.
// The console only counts when it is not Off since it then has no device.
func Devices(cfg *VmConfig) []DeviceRef {
	if cfg == nil {
		return nil
	}
	var refs []DeviceRef
	for i, d := range cfg.Disks {
		r := newRef(FamilyDisk, i, d.ID, d.PciSegment)
		r.Iommu, r.IommuCapable, r.VhostUser = d.Iommu, true, d.VhostUser
		refs = append(refs, r)
	}
	for i, n := range cfg.Net {
		r := newRef(FamilyNet, i, n.ID, n.PciSegment)
		r.Iommu, r.IommuCapable, r.VhostUser = n.Iommu, true, n.VhostUser
		refs = append(refs, r)
	}
	for i, f := range cfg.Fs {
		r := newRef(FamilyFs, i, f.ID, f.PciSegment)
		r.VhostUser = true
		refs = append(refs, r)
	}
	for i, p := range cfg.Pmem {
		r := newRef(FamilyPmem, i, p.ID, p.PciSegment)
		r.Iommu, r.IommuCapable = p.Iommu, true
		refs = append(refs, r)
	}
	for i, d := range cfg.Devices {
		r := newRef(FamilyDevice, i, d.ID, d.PciSegment)
		r.Iommu, r.IommuCapable = d.Iommu, true
		refs = append(refs, r)
	}
	for i, u := range cfg.UserDevices {
		refs = append(refs, newRef(FamilyUserDevice, i, u.ID, u.PciSegment))
	}
	for i, v := range cfg.Vdpa {
		r := newRef(FamilyVdpa, i, v.ID, v.PciSegment)
		r.Iommu, r.IommuCapable = v.Iommu, true
		refs = append(refs, r)
	}
	if cfg.Vsock != nil {
		r := newRef(FamilyVsock, 0, cfg.Vsock.ID, cfg.Vsock.PciSegment)
		r.Iommu, r.IommuCapable = cfg.Vsock.Iommu, true
		refs = append(refs, r)
	}
	if cfg.Rng != nil {
		r := newRef(FamilyRng, 0, nil, 0)
		r.Iommu, r.IommuCapable = cfg.Rng.Iommu, true
		refs = append(refs, r)
	}
	if cfg.Console != nil && cfg.Console.Mode != ConsoleOff {
		r := newRef(FamilyConsole, 0, nil, 0)
		r.Iommu, r.IommuCapable = cfg.Console.Iommu, true
		refs = append(refs, r)
	}
	if cfg.Balloon != nil {
		refs = append(refs, newRef(FamilyBalloon, 0, nil, 0))
	}
	return refs
}

// Count returns how many devices of family cfg holds.
func Count(cfg *VmConfig, f Family) int {
	n := 0
	for _, r := range Devices(cfg) {
		if r.Family == f {
			n++
		}
	}
	return n
}

// SetDeviceID sets the id of the device at index of family. It reports false
// when there is no such device or the family has no id field.
func SetDeviceID(cfg *VmConfig, f Family, index int, id string) bool {
	if cfg == nil || index < 0 {
		return false
	}
	switch f {
	case FamilyDisk:
		if index < len(cfg.Disks) {
			cfg.Disks[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyNet:
		if index < len(cfg.Net) {
			cfg.Net[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyFs:
		if index < len(cfg.Fs) {
			cfg.Fs[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyPmem:
		if index < len(cfg.Pmem) {
			cfg.Pmem[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyDevice:
		if index < len(cfg.Devices) {
			cfg.Devices[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyUserDevice:
		if index < len(cfg.UserDevices) {
			cfg.UserDevices[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyVdpa:
		if index < len(cfg.Vdpa) {
			cfg.Vdpa[index].ID = lo.ToPtr(id)
			return true
		}
	case FamilyVsock:
		if index == 0 && cfg.Vsock != nil {
			cfg.Vsock.ID = lo.ToPtr(id)
			return true
		}
	}
	return false
}

// RemoveDevice deletes the device at index of family, preserving the order of
// the remaining devices. It reports false when there is no such device.
func RemoveDevice(cfg *VmConfig, f Family, index int) bool {
	if cfg == nil || index < 0 {
		return false
	}
	switch f {
	case FamilyDisk:
		return removeAt(&cfg.Disks, index)
	case FamilyNet:
		return removeAt(&cfg.Net, index)
	case FamilyFs:
		return removeAt(&cfg.Fs, index)
	case FamilyPmem:
		return removeAt(&cfg.Pmem, index)
	case FamilyDevice:
		return removeAt(&cfg.Devices, index)
	case FamilyUserDevice:
		return removeAt(&cfg.UserDevices, index)
	case FamilyVdpa:
		return removeAt(&cfg.Vdpa, index)
	case FamilyVsock:
		if index == 0 && cfg.Vsock != nil {
			cfg.Vsock = nil
			return true
		}
	}
	return false
}

func removeAt[T any](s *[]T, index int) bool {
	if index >= len(*s) {
		return false
	}
	out := append((*s)[:index:index], (*s)[index+1:]...)
	if len(out) == 0 {
		out = nil
	}
	*s = out
	return true
}

// DeviceAt returns a copy of the device config at index of family f.
func DeviceAt(cfg *VmConfig, f Family, index int) (any, bool) {
	if cfg == nil || index < 0 {
		return nil, false
	}
	switch f {
	case FamilyDisk:
		if index < len(cfg.Disks) {
			return cfg.Disks[index].clone(), true
		}
	case FamilyNet:
		if index < len(cfg.Net) {
			return cfg.Net[index].clone(), true
		}
	case FamilyFs:
		if index < len(cfg.Fs) {
			return cfg.Fs[index].clone(), true
		}
	case FamilyPmem:
		if index < len(cfg.Pmem) {
			return cfg.Pmem[index].clone(), true
		}
	case FamilyDevice:
		if index < len(cfg.Devices) {
			return cfg.Devices[index].clone(), true
		}
	case FamilyUserDevice:
		if index < len(cfg.UserDevices) {
			return cfg.UserDevices[index].clone(), true
		}
	case FamilyVdpa:
		if index < len(cfg.Vdpa) {
			return cfg.Vdpa[index].clone(), true
		}
	case FamilyVsock:
		if index == 0 && cfg.Vsock != nil {
			return cfg.Vsock.clone(), true
		}
	}
	return nil, false
}

// FamilyOf returns the family of a device config value.
func FamilyOf(device any) (Family, bool) {
	switch device.(type) {
	case DiskConfig:
		return FamilyDisk, true
	case NetConfig:
		return FamilyNet, true
	case FsConfig:
		return FamilyFs, true
	case PmemConfig:
		return FamilyPmem, true
	case DeviceConfig:
		return FamilyDevice, true
	case UserDeviceConfig:
		return FamilyUserDevice, true
	case VdpaConfig:
		return FamilyVdpa, true
	case VsockConfig:
		return FamilyVsock, true
	}
	return "", false
}
