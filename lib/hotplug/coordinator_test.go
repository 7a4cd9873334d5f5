package hotplug

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/onkernel/vmconf/lib/validation"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const gib = uint64(1) << 30

var x86 = vmconfig.TargetForArch(vmconfig.ArchX86_64)

func twoDiskConfig() *vmconfig.VmConfig {
	return &vmconfig.VmConfig{
		Payload: &vmconfig.PayloadConfig{Kernel: lo.ToPtr("/boot/vmlinux")},
		Disks: []vmconfig.DiskConfig{
			{Path: lo.ToPtr("/img/root.raw")},
			{Path: lo.ToPtr("/img/data.raw")},
		},
	}
}

func newCoordinator(t *testing.T, cfg *vmconfig.VmConfig) *Coordinator {
	t.Helper()
	c, err := New(cfg, x86)
	require.NoError(t, err)
	return c
}

func requireViolation(t *testing.T, err error, code validation.Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, validation.ErrInvalidConfig), "expected invalid config, got %v", err)
	var v validation.Violations
	require.True(t, errors.As(err, &v))
	assert.True(t, v.Has(code), "expected %s in %v", code, v.Codes())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := twoDiskConfig()
	cfg.Disks[0].ID = lo.ToPtr("disk0")
	cfg.Disks[1].ID = lo.ToPtr("disk0")

	_, err := New(cfg, x86)
	requireViolation(t, err, validation.CodeDuplicateIdentifier)
}

func TestNew_AssignsIdentifiers(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "_disk0", lo.FromPtr(snap.Config.Disks[0].ID))
	assert.Equal(t, "_disk1", lo.FromPtr(snap.Config.Disks[1].ID))
	assert.Equal(t, []string{"_console0", "_disk0", "_disk1", "_rng0"}, c.Identifiers())
}

func TestApply_AddNetGeneratesIdentifier(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())
	prior := c.Identifiers()
	require.Len(t, prior, 4)

	res, err := c.Apply(context.Background(), AddDevice{
		Family: vmconfig.FamilyNet,
		Device: vmconfig.NetConfig{Tap: lo.ToPtr("tap0")},
	}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.NotContains(t, prior, res.ID)
	assert.Equal(t, "_net0", res.ID)

	cfg := res.Snapshot.Config
	assert.Len(t, cfg.Disks, 2)
	require.Len(t, cfg.Net, 1)
	assert.Equal(t, res.ID, lo.FromPtr(cfg.Net[0].ID))
	assert.Equal(t, uint64(2), res.Snapshot.Version)
	assert.Same(t, res.Snapshot, c.Snapshot())
	assert.Len(t, c.Identifiers(), 5)
}

func TestApply_SegmentOutOfRangeLeavesSnapshot(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())
	before := c.Snapshot()
	ids := c.Identifiers()

	_, err := c.Apply(context.Background(), AddDevice{
		Family: vmconfig.FamilyDisk,
		Device: vmconfig.DiskConfig{Path: lo.ToPtr("/img/extra.raw"), PciSegment: 2},
	}, nil)
	requireViolation(t, err, validation.CodePciSegmentOutOfRange)

	assert.Same(t, before, c.Snapshot())
	assert.Len(t, c.Snapshot().Config.Disks, 2)
	assert.Equal(t, ids, c.Identifiers())
}

func TestApply_AddThenRemoveRestoresSnapshot(t *testing.T) {
	tests := map[string]*string{
		"explicit id":  lo.ToPtr("scratch"),
		"generated id": nil,
	}
	for name, id := range tests {
		t.Run(name, func(t *testing.T) {
			c := newCoordinator(t, twoDiskConfig())
			before := c.Snapshot().Config.Clone()
			ids := c.Identifiers()
			ctx := context.Background()

			added, err := c.Apply(ctx, AddDevice{
				Family: vmconfig.FamilyDisk,
				Device: vmconfig.DiskConfig{Path: lo.ToPtr("/img/scratch.raw"), ID: id},
			}, nil)
			require.NoError(t, err)
			if id != nil {
				assert.Equal(t, *id, added.ID)
			}

			_, err = c.Apply(ctx, RemoveDevice{ID: added.ID}, nil)
			require.NoError(t, err)

			assert.Equal(t, before, c.Snapshot().Config)
			assert.Equal(t, ids, c.Identifiers())
			assert.Equal(t, uint64(3), c.Snapshot().Version)
		})
	}
}

func TestApply_RemoveShiftsLaterDevices(t *testing.T) {
	cfg := twoDiskConfig()
	cfg.Disks = append(cfg.Disks, vmconfig.DiskConfig{Path: lo.ToPtr("/img/logs.raw"), ID: lo.ToPtr("logs")})
	c := newCoordinator(t, cfg)

	res, err := c.Apply(context.Background(), RemoveDevice{ID: "_disk0"}, nil)
	require.NoError(t, err)

	disks := res.Snapshot.Config.Disks
	require.Len(t, disks, 2)
	assert.Equal(t, "_disk1", lo.FromPtr(disks[0].ID))
	assert.Equal(t, "logs", lo.FromPtr(disks[1].ID))
	assert.Equal(t, "/img/data.raw", lo.FromPtr(disks[0].Path))
}

func TestApply_DuplicateIdentifier(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())
	ctx := context.Background()

	t.Run("clashes with a disk", func(t *testing.T) {
		_, err := c.Apply(ctx, AddDevice{
			Family: vmconfig.FamilyNet,
			Device: vmconfig.NetConfig{ID: lo.ToPtr("_disk1")},
		}, nil)
		requireViolation(t, err, validation.CodeDuplicateIdentifier)
	})

	t.Run("clashes with a singleton", func(t *testing.T) {
		_, err := c.Apply(ctx, AddDevice{
			Family: vmconfig.FamilyDisk,
			Device: vmconfig.DiskConfig{Path: lo.ToPtr("/img/x.raw"), ID: lo.ToPtr("_rng0")},
		}, nil)
		requireViolation(t, err, validation.CodeDuplicateIdentifier)
	})

	assert.Equal(t, uint64(1), c.Snapshot().Version)
}

func TestApply_RemoveErrors(t *testing.T) {
	cfg := twoDiskConfig()
	cfg.Balloon = &vmconfig.BalloonConfig{Size: 64 << 20}
	c := newCoordinator(t, cfg)
	ctx := context.Background()

	tests := []struct {
		id      string
		wantErr error
	}{
		{"missing", ErrNotFound},
		{"_rng0", ErrNotRemovable},
		{"_console0", ErrNotRemovable},
		{"_balloon0", ErrNotRemovable},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.Apply(ctx, RemoveDevice{ID: tt.id}, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, uint64(1), c.Snapshot().Version)
}

func TestApply_InvalidDeltas(t *testing.T) {
	cfg := twoDiskConfig()
	cfg.Vsock = &vmconfig.VsockConfig{Cid: 3, Socket: "/run/vsock.sock"}
	c := newCoordinator(t, cfg)
	ctx := context.Background()

	_, err := c.Apply(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDelta)

	_, err = c.Apply(ctx, AddDevice{Family: "gpu", Device: vmconfig.DiskConfig{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidDelta)
	assert.ErrorIs(t, err, vmconfig.ErrUnknownFamily)

	_, err = c.Apply(ctx, AddDevice{Family: vmconfig.FamilyNet, Device: vmconfig.DiskConfig{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidDelta)

	_, err = c.Apply(ctx, AddDevice{Family: vmconfig.FamilyDisk, Device: "disk"}, nil)
	assert.ErrorIs(t, err, ErrInvalidDelta)

	_, err = c.Apply(ctx, AddDevice{
		Family: vmconfig.FamilyVsock,
		Device: vmconfig.VsockConfig{Cid: 4, Socket: "/run/other.sock"},
	}, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestApply_DefaultsAddedDevice(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())

	var got Change
	res, err := c.Apply(context.Background(), AddDevice{
		Family: vmconfig.FamilyDisk,
		Device: vmconfig.DiskConfig{Path: lo.ToPtr("/img/extra.raw")},
	}, func(_ context.Context, ch Change) error {
		got = ch
		return nil
	})
	require.NoError(t, err)

	disk, ok := got.Device.(vmconfig.DiskConfig)
	require.True(t, ok, "device is %T", got.Device)
	assert.Equal(t, "_disk2", lo.FromPtr(disk.ID))
	assert.Equal(t, vmconfig.DefaultDiskNumQueues, lo.FromPtr(disk.NumQueues))
	assert.Equal(t, vmconfig.DefaultDiskQueueSize, lo.FromPtr(disk.QueueSize))
	assert.Equal(t, "_disk2", got.ID)
	assert.Same(t, res.Snapshot.Config, got.Config)
}

func TestApply_HypervisorRejection(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())
	before := c.Snapshot()
	ids := c.Identifiers()

	boom := errors.New("device busy")
	_, err := c.Apply(context.Background(), RemoveDevice{ID: "_disk1"}, func(context.Context, Change) error {
		return boom
	})
	assert.ErrorIs(t, err, ErrHypervisor)
	assert.ErrorIs(t, err, boom)
	assert.Same(t, before, c.Snapshot())
	assert.Equal(t, ids, c.Identifiers())
}

func zonedConfig() *vmconfig.VmConfig {
	cfg := twoDiskConfig()
	cfg.Memory = &vmconfig.MemoryConfig{
		Size: 2 * gib,
		Zones: []vmconfig.MemoryZoneConfig{
			{ID: "mem0", Size: gib},
			{ID: "mem1", Size: gib / 2, HotplugSize: lo.ToPtr(gib)},
		},
	}
	cfg.Numa = []vmconfig.NumaConfig{{GuestNumaID: 0, MemoryZones: []string{"mem0"}}}
	return cfg
}

func TestApply_RemoveZone(t *testing.T) {
	c := newCoordinator(t, zonedConfig())
	ctx := context.Background()

	_, err := c.Apply(ctx, RemoveDevice{ID: "mem0"}, nil)
	assert.ErrorIs(t, err, ErrReferenced)

	var zone bool
	res, err := c.Apply(ctx, RemoveDevice{ID: "mem1"}, func(_ context.Context, ch Change) error {
		zone = ch.Zone
		return nil
	})
	require.NoError(t, err)
	assert.True(t, zone)
	require.Len(t, res.Snapshot.Config.Memory.Zones, 1)
	assert.Equal(t, "mem0", res.Snapshot.Config.Memory.Zones[0].ID)
	assert.Equal(t, "mem1", res.ID)
}

func TestApply_ResizeZone(t *testing.T) {
	c := newCoordinator(t, zonedConfig())
	ctx := context.Background()

	res, err := c.Apply(ctx, ResizeZone{ID: "mem1", Size: gib}, nil)
	require.NoError(t, err)
	assert.Equal(t, gib/2, lo.FromPtr(res.Snapshot.Config.Memory.Zones[1].HotpluggedSize))
	assert.Equal(t, gib/2, res.Snapshot.Config.Memory.Zones[1].Size)

	_, err = c.Apply(ctx, ResizeZone{ID: "mem1", Size: 2 * gib}, nil)
	requireViolation(t, err, validation.CodeHotpluggedExceedsHotplug)

	_, err = c.Apply(ctx, ResizeZone{ID: "mem1", Size: gib / 4}, nil)
	requireViolation(t, err, validation.CodeResizeOutOfRange)

	_, err = c.Apply(ctx, ResizeZone{ID: "mem0", Size: 2 * gib}, nil)
	requireViolation(t, err, validation.CodeResizeUnsupported)

	_, err = c.Apply(ctx, ResizeZone{ID: "nope", Size: gib}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_ResizeMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("acpi spends the hotplug budget", func(t *testing.T) {
		cfg := twoDiskConfig()
		cfg.Memory = &vmconfig.MemoryConfig{
			Size:          gib,
			HotplugMethod: lo.ToPtr(vmconfig.HotplugAcpi),
			HotplugSize:   lo.ToPtr(2 * gib),
		}
		c := newCoordinator(t, cfg)

		res, err := c.Apply(ctx, ResizeMemory{Size: 2 * gib}, nil)
		require.NoError(t, err)
		mem := res.Snapshot.Config.Memory
		assert.Equal(t, 2*gib, mem.Size)
		assert.Equal(t, gib, lo.FromPtr(mem.HotplugSize))

		res, err = c.Apply(ctx, ResizeMemory{Size: 3 * gib}, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), lo.FromPtr(res.Snapshot.Config.Memory.HotplugSize))

		_, err = c.Apply(ctx, ResizeMemory{Size: 4 * gib}, nil)
		requireViolation(t, err, validation.CodeResizeOutOfRange)

		_, err = c.Apply(ctx, ResizeMemory{Size: gib}, nil)
		requireViolation(t, err, validation.CodeResizeOutOfRange)
	})

	t.Run("virtio-mem tracks the plugged amount", func(t *testing.T) {
		cfg := twoDiskConfig()
		cfg.Memory = &vmconfig.MemoryConfig{
			Size:          gib,
			HotplugMethod: lo.ToPtr(vmconfig.HotplugVirtioMem),
			HotplugSize:   lo.ToPtr(2 * gib),
		}
		c := newCoordinator(t, cfg)

		res, err := c.Apply(ctx, ResizeMemory{Size: 2 * gib}, nil)
		require.NoError(t, err)
		mem := res.Snapshot.Config.Memory
		assert.Equal(t, gib, mem.Size)
		assert.Equal(t, gib, lo.FromPtr(mem.HotpluggedSize))

		_, err = c.Apply(ctx, ResizeMemory{Size: 4 * gib}, nil)
		requireViolation(t, err, validation.CodeHotpluggedExceedsHotplug)

		res, err = c.Apply(ctx, ResizeMemory{Size: gib}, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), lo.FromPtr(res.Snapshot.Config.Memory.HotpluggedSize))
	})

	t.Run("no hotplug method", func(t *testing.T) {
		c := newCoordinator(t, twoDiskConfig())
		_, err := c.Apply(ctx, ResizeMemory{Size: 2 * gib}, nil)
		requireViolation(t, err, validation.CodeResizeUnsupported)
		assert.Equal(t, uint64(1), c.Snapshot().Version)
	})
}

func TestApply_ResizeVcpus(t *testing.T) {
	cfg := twoDiskConfig()
	cfg.Cpus = &vmconfig.CpusConfig{BootVcpus: 1, MaxVcpus: 4}
	c := newCoordinator(t, cfg)
	ctx := context.Background()

	res, err := c.Apply(ctx, ResizeVcpus{Count: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), res.Snapshot.Config.Cpus.BootVcpus)

	_, err = c.Apply(ctx, ResizeVcpus{Count: 5}, nil)
	requireViolation(t, err, validation.CodeBootExceedsMax)

	_, err = c.Apply(ctx, ResizeVcpus{Count: 0}, nil)
	requireViolation(t, err, validation.CodeBootVcpusZero)

	assert.Equal(t, uint8(3), c.Snapshot().Config.Cpus.BootVcpus)
}

func TestApply_ResizeBalloon(t *testing.T) {
	ctx := context.Background()

	_, err := newCoordinator(t, twoDiskConfig()).Apply(ctx, ResizeBalloon{Size: 1 << 20}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := twoDiskConfig()
	cfg.Memory = &vmconfig.MemoryConfig{Size: gib}
	cfg.Balloon = &vmconfig.BalloonConfig{Size: 0}
	c := newCoordinator(t, cfg)

	res, err := c.Apply(ctx, ResizeBalloon{Size: gib / 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, gib/2, res.Snapshot.Config.Balloon.Size)

	_, err = c.Apply(ctx, ResizeBalloon{Size: gib}, nil)
	requireViolation(t, err, validation.CodeBalloonSize)
}

func TestApply_Serialized(t *testing.T) {
	c := newCoordinator(t, twoDiskConfig())
	const n = 20

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			_, err := c.Apply(context.Background(), AddDevice{
				Family: vmconfig.FamilyDisk,
				Device: vmconfig.DiskConfig{Path: lo.ToPtr(fmt.Sprintf("/img/d%d.raw", i))},
			}, nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	snap := c.Snapshot()
	assert.Equal(t, uint64(n+1), snap.Version)
	require.Len(t, snap.Config.Disks, n+2)
	ids := lo.Map(snap.Config.Disks, func(d vmconfig.DiskConfig, _ int) string { return lo.FromPtr(d.ID) })
	assert.Len(t, lo.Uniq(ids), n+2)
	assert.Len(t, c.Identifiers(), n+4)
}
