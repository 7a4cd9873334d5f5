package vmconfig

import (
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTarget = TargetForArch(ArchX86_64)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg, err := ApplyDefaults(&VmConfig{}, testTarget)
	require.NoError(t, err)

	assert.Equal(t, DefaultVcpus, cfg.Cpus.BootVcpus)
	assert.Equal(t, DefaultVcpus, cfg.Cpus.MaxVcpus)
	assert.Equal(t, DefaultMaxPhysBits, lo.FromPtr(cfg.Cpus.MaxPhysBits))
	assert.Equal(t, DefaultMemorySize, cfg.Memory.Size)
	assert.Nil(t, cfg.Memory.HotplugMethod, "hotplug method has no default")
	assert.Equal(t, DefaultRngSource, cfg.Rng.Src)
	assert.Equal(t, ConsoleOff, cfg.Serial.Mode)
	assert.Equal(t, ConsolePty, cfg.Console.Mode)
	assert.Equal(t, DefaultNumPciSegments, lo.FromPtr(cfg.Platform.NumPciSegments))
	assert.Nil(t, cfg.Balloon)
	assert.Nil(t, cfg.Payload)
}

func TestApplyDefaults_DeviceQueues(t *testing.T) {
	cfg, err := ApplyDefaults(&VmConfig{
		Disks: []DiskConfig{{Path: lo.ToPtr("/a")}, {Path: lo.ToPtr("/b"), QueueSize: lo.ToPtr(uint16(64))}},
		Net:   []NetConfig{{Tap: lo.ToPtr("tap0")}},
		Fs:    []FsConfig{{Tag: "share", Socket: "/run/fs.sock"}},
		Vdpa:  []VdpaConfig{{Path: "/dev/vhost-vdpa-0"}},
	}, testTarget)
	require.NoError(t, err)

	assert.Equal(t, DefaultDiskNumQueues, lo.FromPtr(cfg.Disks[0].NumQueues))
	assert.Equal(t, DefaultDiskQueueSize, lo.FromPtr(cfg.Disks[0].QueueSize))
	assert.Equal(t, uint16(64), lo.FromPtr(cfg.Disks[1].QueueSize), "explicit values are kept")

	n := cfg.Net[0]
	assert.Equal(t, DefaultNetIP, lo.FromPtr(n.IP))
	assert.Equal(t, DefaultNetMask, lo.FromPtr(n.Mask))
	assert.Equal(t, DefaultNetNumQueues, lo.FromPtr(n.NumQueues))
	assert.Equal(t, DefaultNetQueueSize, lo.FromPtr(n.QueueSize))
	assert.Equal(t, VhostClient, lo.FromPtr(n.VhostMode))
	assert.Nil(t, n.Mac, "mac is assigned by the hypervisor")

	assert.Equal(t, DefaultFsNumQueues, lo.FromPtr(cfg.Fs[0].NumQueues))
	assert.Equal(t, DefaultFsQueueSize, lo.FromPtr(cfg.Fs[0].QueueSize))
	assert.Equal(t, DefaultVdpaNumQueues, lo.FromPtr(cfg.Vdpa[0].NumQueues))
}

func TestApplyDefaults_DoesNotMutateInput(t *testing.T) {
	in := &VmConfig{Disks: []DiskConfig{{Path: lo.ToPtr("/a")}}}
	before := in.Clone()

	_, err := ApplyDefaults(in, testTarget)
	require.NoError(t, err)
	assert.Equal(t, before, in)
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	inputs := map[string]*VmConfig{
		"empty": {},
		"devices": {
			Disks:   []DiskConfig{{Path: lo.ToPtr("/a"), ID: lo.ToPtr("root")}},
			Net:     []NetConfig{{Tap: lo.ToPtr("tap0"), VhostMode: lo.ToPtr(VhostServer)}},
			Pmem:    []PmemConfig{{File: "/pmem"}},
			Vsock:   &VsockConfig{Cid: 3, Socket: "/vsock"},
			Balloon: &BalloonConfig{Size: 1 << 20},
		},
		"legacy boot": {
			Kernel:  &KernelConfig{Path: "/vmlinux"},
			Cmdline: &CmdlineConfig{Args: "quiet"},
		},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			once, err := ApplyDefaults(in, testTarget)
			require.NoError(t, err)
			twice, err := ApplyDefaults(once, testTarget)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestApplyDefaults_FoldsLegacyBoot(t *testing.T) {
	cfg, err := ApplyDefaults(&VmConfig{
		Kernel:    &KernelConfig{Path: "/vmlinux"},
		Initramfs: &InitramfsConfig{Path: "/initrd"},
		Cmdline:   &CmdlineConfig{Args: "console=ttyS0"},
	}, testTarget)
	require.NoError(t, err)

	require.NotNil(t, cfg.Payload)
	assert.Equal(t, "/vmlinux", lo.FromPtr(cfg.Payload.Kernel))
	assert.Equal(t, "/initrd", lo.FromPtr(cfg.Payload.Initramfs))
	assert.Equal(t, "console=ttyS0", lo.FromPtr(cfg.Payload.Cmdline))
	assert.Nil(t, cfg.Kernel)
	assert.Nil(t, cfg.Initramfs)
	assert.Nil(t, cfg.Cmdline)
}

func TestApplyDefaults_KeepsLegacyWhenPayloadPresent(t *testing.T) {
	cfg, err := ApplyDefaults(&VmConfig{
		Payload: &PayloadConfig{Kernel: lo.ToPtr("/a")},
		Kernel:  &KernelConfig{Path: "/b"},
	}, testTarget)
	require.NoError(t, err)
	assert.Equal(t, "/a", lo.FromPtr(cfg.Payload.Kernel))
	require.NotNil(t, cfg.Kernel)
	assert.Equal(t, "/b", cfg.Kernel.Path)
}

func TestApplyDefaults_MissingRequired(t *testing.T) {
	_, err := ApplyDefaults(&VmConfig{
		Fs:          []FsConfig{{Socket: "/run/fs.sock"}},
		Pmem:        []PmemConfig{{}},
		UserDevices: []UserDeviceConfig{{}},
		Vsock:       &VsockConfig{Cid: 3},
		Console:     &ConsoleConfig{},
		Memory:      &MemoryConfig{Size: 1 << 30, Zones: []MemoryZoneConfig{{Size: 1 << 30}}},
	}, testTarget)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShape)

	var shapeErrs ShapeErrors
	require.True(t, errors.As(err, &shapeErrs))
	fields := lo.Map(shapeErrs, func(e *ShapeError, _ int) string { return e.Field })
	assert.ElementsMatch(t, []string{
		"memory.zones[0].id",
		"fs[0].tag",
		"pmem[0].file",
		"user_devices[0].socket",
		"vsock.socket",
		"console.mode",
	}, fields)
}

func TestApplyDefaults_MissingRequiredScalars(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{
			name:   "max_vcpus",
			body:   `{"cpus": {"boot_vcpus": 2}}`,
			fields: []string{"cpus.max_vcpus"},
		},
		{
			name:   "empty cpus",
			body:   `{"cpus": {}}`,
			fields: []string{"cpus.boot_vcpus", "cpus.max_vcpus"},
		},
		{
			name:   "memory size",
			body:   `{"memory": {}}`,
			fields: []string{"memory.size"},
		},
		{
			name:   "null memory size",
			body:   `{"memory": {"size": null}}`,
			fields: []string{"memory.size"},
		},
		{
			name:   "zone size",
			body:   `{"memory": {"size": 1073741824, "zones": [{"id": "z0"}]}}`,
			fields: []string{"memory.zones[0].size"},
		},
		{
			name:   "vsock cid",
			body:   `{"vsock": {"socket": "/s"}}`,
			fields: []string{"vsock.cid"},
		},
		{
			name:   "balloon size",
			body:   `{"balloon": {"deflate_on_oom": true}}`,
			fields: []string{"balloon.size"},
		},
		{
			name: "numa distances",
			body: `{"numa": [{"guest_numa_id": 0, "distances": [{"destination": 1}]}, {"distances": [{"distance": 20}]}]}`,
			fields: []string{
				"numa[0].distances[0].distance",
				"numa[1].guest_numa_id",
				"numa[1].distances[0].destination",
			},
		},
		{
			name: "rate limiter buckets",
			body: `{"disks": [{"path": "/a", "rate_limiter_config": {"bandwidth": {"size": 1}}}],
				"net": [{"tap": "tap0", "rate_limiter_config": {"ops": {"refill_time": 100}}}]}`,
			fields: []string{
				"disks[0].rate_limiter_config.bandwidth.refill_time",
				"net[0].rate_limiter_config.ops.size",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeJSON([]byte(tt.body))
			require.NoError(t, err)

			_, err = ApplyDefaults(cfg, testTarget)
			require.ErrorIs(t, err, ErrShape)
			var shapeErrs ShapeErrors
			require.True(t, errors.As(err, &shapeErrs))
			fields := lo.Map(shapeErrs, func(e *ShapeError, _ int) string { return e.Field })
			assert.ElementsMatch(t, tt.fields, fields)
		})
	}
}

func TestApplyDefaults_ExplicitZeroIsNotMissing(t *testing.T) {
	cfg, err := DecodeJSON([]byte(`{"cpus": {"boot_vcpus": 0, "max_vcpus": 0}, "memory": {"size": 0}}`))
	require.NoError(t, err)

	_, err = ApplyDefaults(cfg, testTarget)
	assert.NoError(t, err, "zero values are left to the validator")
}

func TestApplyDefaults_InvalidTarget(t *testing.T) {
	_, err := ApplyDefaults(&VmConfig{}, Target{MaxPCISegments: 0, Arch: ArchX86_64})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = ApplyDefaults(&VmConfig{}, Target{MaxPCISegments: 16, Arch: "riscv64"})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}
