// Package hotplug serializes configuration changes to a running VM. Each
// change is merged into a copy of the current snapshot, the whole result is
// defaulted and validated, and only then does it replace the snapshot.
package hotplug

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/onkernel/vmconf/lib/identity"
	"github.com/onkernel/vmconf/lib/logger"
	"github.com/onkernel/vmconf/lib/validation"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

// Snapshot is a validated configuration with identifiers assigned. It is
// never modified after it is published; callers must not mutate Config.
type Snapshot struct {
	Config  *vmconfig.VmConfig
	Version uint64
}

// Change is what a committed delta amounts to, handed to the hypervisor
// before the commit.
type Change struct {
	Delta Delta
	// ID is the added or removed device, or the removed or resized zone.
	ID string
	// Zone reports that ID names a memory zone rather than a device.
	Zone bool
	// Device is the defaulted config of an added device.
	Device any
	// Config is the configuration that will be committed.
	Config *vmconfig.VmConfig
}

// ApplyFunc carries a change to the hypervisor. An error rejects the
// transaction and leaves the snapshot untouched.
type ApplyFunc func(ctx context.Context, ch Change) error

// Result is the outcome of a committed delta.
type Result struct {
	Snapshot *Snapshot
	// ID is the identifier of the affected device, generated for unnamed adds.
	ID string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records transaction metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator owns one VM's snapshot and identity registry. At most one
// transaction runs at a time.
type Coordinator struct {
	mu       sync.Mutex
	target   vmconfig.Target
	snapshot *Snapshot
	registry *identity.Registry
	metrics  *Metrics
}

// Resolve defaults and validates cfg and assigns every device an
// identifier, producing the configuration a VM boots with.
func Resolve(cfg *vmconfig.VmConfig, target vmconfig.Target) (*vmconfig.VmConfig, *identity.Registry, error) {
	resolved, err := vmconfig.ApplyDefaults(cfg, target)
	if err != nil {
		return nil, nil, err
	}
	if v := validation.Validate(resolved, target); len(v) > 0 {
		return nil, nil, v
	}
	reg, dups := identity.Build(resolved)
	if len(dups) > 0 {
		return nil, nil, fmt.Errorf("%w: duplicate %q passed validation", ErrInternal, dups[0].ID)
	}
	reg.Assign(resolved)
	if err := reg.Verify(resolved); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return resolved, reg, nil
}

// New resolves cfg into the initial snapshot.
func New(cfg *vmconfig.VmConfig, target vmconfig.Target, opts ...Option) (*Coordinator, error) {
	resolved, reg, err := Resolve(cfg, target)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		target:   target,
		snapshot: &Snapshot{Config: resolved, Version: 1},
		registry: reg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Snapshot returns the current snapshot.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Identifiers returns every identifier in the current snapshot, sorted.
func (c *Coordinator) Identifiers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.IDs()
}

// Apply merges d into the current snapshot and commits the result if the
// merged configuration is valid and fn (when non-nil) accepts it. On any
// error the previous snapshot stays current.
func (c *Coordinator) Apply(ctx context.Context, d Delta, fn ApplyFunc) (*Result, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil delta", ErrInvalidDelta)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := logger.FromContext(ctx)
	start := time.Now()

	res, err := c.apply(ctx, d, fn)
	c.metrics.record(ctx, d.Kind(), start, err)

	switch {
	case err == nil:
		log.InfoContext(ctx, "hotplug committed", "kind", d.Kind(), "device_id", res.ID, "version", res.Snapshot.Version)
	case errors.Is(err, ErrInternal):
		log.ErrorContext(ctx, "hotplug aborted", "kind", d.Kind(), "error", err)
	default:
		log.WarnContext(ctx, "hotplug rejected", "kind", d.Kind(), "error", err)
	}
	return res, err
}

func (c *Coordinator) apply(ctx context.Context, d Delta, fn ApplyFunc) (*Result, error) {
	if err := c.precheck(d); err != nil {
		return nil, err
	}

	candidate := c.snapshot.Config.Clone()
	reg := c.registry.Clone()
	ch := Change{Delta: d}

	var (
		violations validation.Violations
		added      *identity.Entry
	)
	switch d := d.(type) {
	case AddDevice:
		index, err := addDevice(candidate, d)
		if err != nil {
			return nil, err
		}
		added = &identity.Entry{Family: d.Family, Index: index}
	case RemoveDevice:
		if e, ok := reg.Resolve(d.ID); ok {
			if !vmconfig.RemoveDevice(candidate, e.Family, e.Index) {
				return nil, fmt.Errorf("%w: %s registered at %s[%d] which does not exist", ErrInternal, d.ID, e.Family, e.Index)
			}
			if err := reg.Unregister(d.ID); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInternal, err)
			}
		} else {
			removeZone(candidate.Memory, d.ID)
			ch.Zone = true
		}
		ch.ID = d.ID
	case ResizeMemory:
		violations = resizeMemory(candidate.Memory, d.Size)
	case ResizeVcpus:
		candidate.Cpus.BootVcpus = d.Count
	case ResizeZone:
		violations = resizeZone(candidate.Memory, d.ID, d.Size)
		ch.ID, ch.Zone = d.ID, true
	case ResizeBalloon:
		candidate.Balloon.Size = d.Size
	default:
		return nil, fmt.Errorf("%w: unsupported delta %T", ErrInvalidDelta, d)
	}
	if len(violations) > 0 {
		return nil, violations
	}

	resolved, err := vmconfig.ApplyDefaults(candidate, c.target)
	if err != nil {
		return nil, err
	}
	if v := validation.Validate(resolved, c.target); len(v) > 0 {
		return nil, v
	}

	if added != nil {
		ref, ok := lo.Find(vmconfig.Devices(resolved), func(r vmconfig.DeviceRef) bool {
			return r.Family == added.Family && r.Index == added.Index
		})
		if !ok {
			return nil, fmt.Errorf("%w: added %s[%d] missing after merge", ErrInternal, added.Family, added.Index)
		}
		id, err := reg.Register(added.Family, added.Index, ref.ID)
		if errors.Is(err, identity.ErrDuplicateIdentifier) {
			// Explicit id taken by a singleton, which has no id field to clash on.
			return nil, validation.Violations{{
				Kind:    validation.KindIdentity,
				Code:    validation.CodeDuplicateIdentifier,
				Field:   ref.Path + ".id",
				Message: fmt.Sprintf("identifier %q is already in use", lo.FromPtr(ref.ID)),
			}}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInternal, err)
		}
		ch.ID = id
	}
	reg.Assign(resolved)
	if err := reg.Verify(resolved); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if added != nil {
		ch.Device, _ = vmconfig.DeviceAt(resolved, added.Family, added.Index)
	}
	ch.Config = resolved

	if fn != nil {
		if err := fn(ctx, ch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHypervisor, err)
		}
	}

	c.snapshot = &Snapshot{Config: resolved, Version: c.snapshot.Version + 1}
	c.registry = reg
	return &Result{Snapshot: c.snapshot, ID: ch.ID}, nil
}

// precheck rejects deltas whose target does not exist or cannot be changed
// before any merge is attempted.
func (c *Coordinator) precheck(d Delta) error {
	cfg := c.snapshot.Config
	switch d := d.(type) {
	case AddDevice:
		if !lo.Contains(vmconfig.DeviceFamilies, d.Family) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidDelta, vmconfig.ErrUnknownFamily, d.Family)
		}
	case RemoveDevice:
		if e, ok := c.registry.Resolve(d.ID); ok {
			if e.Family.Singleton() {
				return fmt.Errorf("%w: %s is the VM's %s device", ErrNotRemovable, d.ID, e.Family)
			}
			return nil
		}
		if zoneIndex(cfg.Memory, d.ID) < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, d.ID)
		}
		for _, n := range cfg.Numa {
			if lo.Contains(n.MemoryZones, d.ID) {
				return fmt.Errorf("%w: memory zone %s belongs to NUMA node %d", ErrReferenced, d.ID, n.GuestNumaID)
			}
		}
	case ResizeZone:
		if zoneIndex(cfg.Memory, d.ID) < 0 {
			return fmt.Errorf("%w: memory zone %s", ErrNotFound, d.ID)
		}
	case ResizeBalloon:
		if cfg.Balloon == nil {
			return fmt.Errorf("%w: no balloon device", ErrNotFound)
		}
	}
	return nil
}
