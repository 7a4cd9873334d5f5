package instances

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/vmconf/lib/hotplug"
	"github.com/onkernel/vmconf/lib/hypervisor"
	"github.com/onkernel/vmconf/lib/logger"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager handles VM definitions and their hotplug changes
type Manager interface {
	ListVMs(ctx context.Context) ([]VM, error)
	CreateVM(ctx context.Context, req CreateVMRequest) (*VM, error)
	// GetVM looks a VM up by id, name or unique id prefix.
	GetVM(ctx context.Context, idOrName string) (*VM, error)
	DeleteVM(ctx context.Context, id string) error
	AddDevice(ctx context.Context, id string, req AddDeviceRequest) (*DeviceResult, error)
	RemoveDevice(ctx context.Context, id string, deviceID string) (*VM, error)
	Resize(ctx context.Context, id string, req ResizeRequest) (*VM, error)
	ResizeZone(ctx context.Context, id string, req ResizeZoneRequest) (*VM, error)
	GetVMLogs(ctx context.Context, id string, tail int) ([]string, error)
}

// Config configures the VM manager.
type Config struct {
	Target vmconfig.Target
	// HypervisorType selects the VMM implementation for VMs with an API socket.
	HypervisorType hypervisor.Type
	Logs           *logger.VMLogs
	Meter          metric.Meter
	Tracer         trace.Tracer
	// Logger, HotplugLogger and VMMLogger carry the INSTANCES, HOTPLUG and
	// VMM subsystem levels. Nil uses slog.Default.
	Logger        *slog.Logger
	HotplugLogger *slog.Logger
	VMMLogger     *slog.Logger
}

type vm struct {
	id        string
	name      string
	createdAt time.Time
	apiSocket *string
	coord     *hotplug.Coordinator
	hv        hypervisor.Hypervisor
}

type manager struct {
	mu  sync.RWMutex
	vms map[string]*vm
	// creating holds names of VMs whose VMM hand-off is in flight.
	creating       map[string]struct{}
	target         vmconfig.Target
	hvType         hypervisor.Type
	logs           *logger.VMLogs
	metrics        *Metrics
	hotplugMetrics *hotplug.Metrics
	tracer         trace.Tracer
	log            *slog.Logger
	hotplugLog     *slog.Logger
	vmmLog         *slog.Logger
}

// NewManager creates a new VM manager.
// If cfg.Meter is nil, metrics are disabled.
func NewManager(cfg Config) (Manager, error) {
	m := &manager{
		vms:        make(map[string]*vm),
		creating:   make(map[string]struct{}),
		target:     cfg.Target,
		hvType:     cfg.HypervisorType,
		logs:       cfg.Logs,
		tracer:     cfg.Tracer,
		log:        orDefaultLogger(cfg.Logger),
		hotplugLog: orDefaultLogger(cfg.HotplugLogger),
		vmmLog:     orDefaultLogger(cfg.VMMLogger),
	}
	if m.hvType == "" {
		m.hvType = hypervisor.TypeCloudHypervisor
	}
	if m.logs == nil {
		m.logs = logger.NewVMLogs(logger.DefaultVMLogLines)
	}
	if m.tracer == nil {
		m.tracer = noop.NewTracerProvider().Tracer("instances")
	}

	if cfg.Meter != nil {
		metrics, err := newVMMetrics(cfg.Meter, m)
		if err != nil {
			return nil, fmt.Errorf("create vm metrics: %w", err)
		}
		m.metrics = metrics

		hm, err := hotplug.NewMetrics(cfg.Meter)
		if err != nil {
			return nil, fmt.Errorf("create hotplug metrics: %w", err)
		}
		m.hotplugMetrics = hm
	}
	return m, nil
}

func (m *manager) ListVMs(ctx context.Context) ([]VM, error) {
	m.mu.RLock()
	all := lo.Values(m.vms)
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})
	return lo.Map(all, func(v *vm, _ int) VM {
		return *m.toVM(ctx, v)
	}), nil
}

func (m *manager) CreateVM(ctx context.Context, req CreateVMRequest) (_ *VM, err error) {
	start := time.Now()
	ctx, span := m.startSpan(ctx, "CreateVM", attribute.String("name", req.Name))
	defer func() {
		m.recordDuration(ctx, func(mt *Metrics) metric.Float64Histogram { return mt.createDuration }, start, err)
		span.End()
	}()

	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidRequest)
	}

	if err := m.reserveName(req.Name); err != nil {
		return nil, err
	}
	defer m.releaseName(req.Name)

	coord, err := hotplug.New(req.Config, m.target, hotplug.WithMetrics(m.hotplugMetrics))
	if err != nil {
		return nil, err
	}

	v := &vm{
		id:        cuid2.Generate(),
		name:      req.Name,
		createdAt: time.Now(),
		apiSocket: req.APISocket,
		coord:     coord,
	}
	m.logs.Track(v.id)
	log := m.log.With(logger.VMIDKey, v.id)

	if req.APISocket != nil {
		hv, err := m.attach(ctx, v, req.Boot)
		if err != nil {
			m.logs.Forget(v.id)
			return nil, err
		}
		v.hv = hv
	}

	m.mu.Lock()
	m.vms[v.id] = v
	m.mu.Unlock()

	log.InfoContext(ctx, "vm created", "name", v.name, "identifiers", len(coord.Identifiers()))
	return m.toVM(ctx, v), nil
}

// reserveName claims name for a VM being created. The VMM hand-off runs
// without holding mu, so other VMs stay reachable meanwhile.
func (m *manager) reserveName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.findByName(name); taken {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if _, taken := m.creating[name]; taken {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	m.creating[name] = struct{}{}
	return nil
}

func (m *manager) releaseName(name string) {
	m.mu.Lock()
	delete(m.creating, name)
	m.mu.Unlock()
}

// attach hands the resolved configuration to the VMM on the VM's socket.
func (m *manager) attach(ctx context.Context, v *vm, boot bool) (hypervisor.Hypervisor, error) {
	ctx = m.vmmContext(ctx, v.id)
	hv, err := hypervisor.New(ctx, m.hvType, *v.apiSocket)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to vmm: %w", hotplug.ErrHypervisor, err)
	}
	if err := hv.CreateVM(ctx, v.coord.Snapshot().Config); err != nil {
		return nil, fmt.Errorf("%w: create vm in vmm: %w", hotplug.ErrHypervisor, err)
	}
	if boot {
		if err := hv.BootVM(ctx); err != nil {
			if derr := hv.DeleteVM(ctx); derr != nil {
				m.log.WarnContext(ctx, "failed to delete vm after boot failure", logger.VMIDKey, v.id, "error", derr)
			}
			return nil, fmt.Errorf("%w: boot vm: %w", hotplug.ErrHypervisor, err)
		}
	}
	return hv, nil
}

func (m *manager) GetVM(ctx context.Context, idOrName string) (*VM, error) {
	v, err := m.lookup(idOrName)
	if err != nil {
		return nil, err
	}
	return m.toVM(ctx, v), nil
}

func (m *manager) DeleteVM(ctx context.Context, id string) (err error) {
	start := time.Now()
	ctx, span := m.startSpan(ctx, "DeleteVM", attribute.String("vm_id", id))
	defer func() {
		m.recordDuration(ctx, func(mt *Metrics) metric.Float64Histogram { return mt.deleteDuration }, start, err)
		span.End()
	}()

	m.mu.Lock()
	v, ok := m.vms[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.vms, id)
	m.mu.Unlock()

	log := m.log.With(logger.VMIDKey, id)
	if v.hv != nil {
		if err := v.hv.DeleteVM(m.vmmContext(ctx, id)); err != nil {
			log.WarnContext(ctx, "failed to delete vm in vmm, continuing", "error", err)
		}
	}
	log.InfoContext(ctx, "vm deleted", "name", v.name)
	m.logs.Forget(id)
	return nil
}

func (m *manager) AddDevice(ctx context.Context, id string, req AddDeviceRequest) (*DeviceResult, error) {
	if req.Device == nil {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidRequest)
	}
	v, err := m.get(id)
	if err != nil {
		return nil, err
	}

	var bdf *string
	res, err := m.apply(ctx, v, hotplug.AddDevice{Family: req.Family, Device: req.Device}, func(ctx context.Context, ch hotplug.Change) error {
		info, err := v.hv.AddDevice(ctx, req.Family, ch.Device)
		if err != nil {
			return err
		}
		if info != nil && info.BDF != "" {
			bdf = lo.ToPtr(info.BDF)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	device, _ := deviceByID(res.Snapshot.Config, res.ID)
	return &DeviceResult{
		ID:     res.ID,
		Device: device,
		Bdf:    bdf,
		VM:     m.toVM(ctx, v),
	}, nil
}

func (m *manager) RemoveDevice(ctx context.Context, id string, deviceID string) (*VM, error) {
	v, err := m.get(id)
	if err != nil {
		return nil, err
	}
	_, err = m.apply(ctx, v, hotplug.RemoveDevice{ID: deviceID}, func(ctx context.Context, ch hotplug.Change) error {
		if ch.Zone {
			return fmt.Errorf("%w: memory zone removal", hypervisor.ErrUnsupported)
		}
		return v.hv.RemoveDevice(ctx, ch.ID)
	})
	if err != nil {
		return nil, err
	}
	return m.toVM(ctx, v), nil
}

func (m *manager) Resize(ctx context.Context, id string, req ResizeRequest) (*VM, error) {
	if req.DesiredVcpus == nil && req.DesiredRam == nil && req.DesiredBalloon == nil {
		return nil, fmt.Errorf("%w: nothing to resize", ErrInvalidRequest)
	}
	v, err := m.get(id)
	if err != nil {
		return nil, err
	}

	var deltas []hotplug.Delta
	if req.DesiredVcpus != nil {
		deltas = append(deltas, hotplug.ResizeVcpus{Count: *req.DesiredVcpus})
	}
	if req.DesiredRam != nil {
		deltas = append(deltas, hotplug.ResizeMemory{Size: *req.DesiredRam})
	}
	if req.DesiredBalloon != nil {
		deltas = append(deltas, hotplug.ResizeBalloon{Size: *req.DesiredBalloon})
	}

	for _, d := range deltas {
		_, err := m.apply(ctx, v, d, func(ctx context.Context, ch hotplug.Change) error {
			switch d := ch.Delta.(type) {
			case hotplug.ResizeVcpus:
				return v.hv.Resize(ctx, hypervisor.Resize{Vcpus: lo.ToPtr(d.Count)})
			case hotplug.ResizeMemory:
				if !v.hv.Capabilities().SupportsHotplugMemory {
					return fmt.Errorf("%w: memory resize", hypervisor.ErrUnsupported)
				}
				return v.hv.Resize(ctx, hypervisor.Resize{Memory: lo.ToPtr(d.Size)})
			case hotplug.ResizeBalloon:
				return v.hv.Resize(ctx, hypervisor.Resize{Balloon: lo.ToPtr(d.Size)})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return m.toVM(ctx, v), nil
}

func (m *manager) ResizeZone(ctx context.Context, id string, req ResizeZoneRequest) (*VM, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: zone id is required", ErrInvalidRequest)
	}
	v, err := m.get(id)
	if err != nil {
		return nil, err
	}
	_, err = m.apply(ctx, v, hotplug.ResizeZone{ID: req.ID, Size: req.DesiredRam}, func(ctx context.Context, ch hotplug.Change) error {
		if !v.hv.Capabilities().SupportsZoneResize {
			return fmt.Errorf("%w: zone resize", hypervisor.ErrUnsupported)
		}
		return v.hv.ResizeZone(ctx, ch.ID, req.DesiredRam)
	})
	if err != nil {
		return nil, err
	}
	return m.toVM(ctx, v), nil
}

func (m *manager) GetVMLogs(ctx context.Context, id string, tail int) ([]string, error) {
	if _, err := m.get(id); err != nil {
		return nil, err
	}
	lines, ok := m.logs.Tail(id, tail)
	if !ok {
		return nil, ErrNotFound
	}
	return lines, nil
}

// apply runs d through the VM's coordinator. fn is only called for VMs
// attached to a VMM.
func (m *manager) apply(ctx context.Context, v *vm, d hotplug.Delta, fn hotplug.ApplyFunc) (*hotplug.Result, error) {
	ctx, span := m.startSpan(ctx, "Apply",
		attribute.String("vm_id", v.id),
		attribute.String("kind", string(d.Kind())))
	defer span.End()

	ctx = logger.AddToContext(ctx, m.hotplugLog.With(logger.VMIDKey, v.id))

	var forward hotplug.ApplyFunc
	if v.hv != nil {
		forward = func(ctx context.Context, ch hotplug.Change) error {
			return fn(m.vmmContext(ctx, v.id), ch)
		}
	}
	res, err := v.coord.Apply(ctx, d, forward)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("version", int64(res.Snapshot.Version)))
	return res, nil
}

// toVM builds the API view of v, querying the VMM for its state.
func (m *manager) toVM(ctx context.Context, v *vm) *VM {
	snap := v.coord.Snapshot()
	out := &VM{
		Id:          v.id,
		Name:        v.name,
		CreatedAt:   v.createdAt,
		APISocket:   v.apiSocket,
		State:       StateDefined,
		Version:     snap.Version,
		Config:      snap.Config,
		Identifiers: v.coord.Identifiers(),
	}
	if v.hv == nil {
		return out
	}

	info, err := v.hv.GetVMInfo(m.vmmContext(ctx, v.id))
	if err != nil {
		m.log.DebugContext(ctx, "failed to query vm state", logger.VMIDKey, v.id, "error", err)
		out.State = StateUnknown
		out.StateError = lo.ToPtr(err.Error())
		return out
	}
	out.State = stateFromHypervisor(info.State)
	return out
}

// vmmContext carries the VMM subsystem logger into hypervisor calls for id.
func (m *manager) vmmContext(ctx context.Context, id string) context.Context {
	return logger.AddToContext(ctx, m.vmmLog.With(logger.VMIDKey, id))
}

func orDefaultLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func stateFromHypervisor(s hypervisor.VMState) State {
	switch s {
	case hypervisor.StateCreated:
		return StateCreated
	case hypervisor.StateRunning:
		return StateRunning
	case hypervisor.StatePaused:
		return StatePaused
	case hypervisor.StateShutdown:
		return StateShutdown
	}
	return StateUnknown
}

func (m *manager) get(id string) (*vm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// lookup resolves an id, then a name, then a unique id prefix.
func (m *manager) lookup(idOrName string) (*vm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.vms[idOrName]; ok {
		return v, nil
	}
	if v, ok := m.findByName(idOrName); ok {
		return v, nil
	}
	if idOrName == "" {
		return nil, ErrNotFound
	}
	matches := lo.Filter(lo.Values(m.vms), func(v *vm, _ int) bool {
		return strings.HasPrefix(v.id, idOrName)
	})
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrAmbiguousName, idOrName)
}

// findByName must be called with mu held.
func (m *manager) findByName(name string) (*vm, bool) {
	return lo.Find(lo.Values(m.vms), func(v *vm) bool {
		return v.name == name
	})
}

// deviceByID returns the config of the device with the given identifier.
func deviceByID(cfg *vmconfig.VmConfig, id string) (any, bool) {
	ref, ok := lo.Find(vmconfig.Devices(cfg), func(r vmconfig.DeviceRef) bool {
		return lo.FromPtr(r.ID) == id
	})
	if !ok {
		return nil, false
	}
	return vmconfig.DeviceAt(cfg, ref.Family, ref.Index)
}
