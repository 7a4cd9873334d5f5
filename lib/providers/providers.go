package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onkernel/vmconf/cmd/api/config"
	"github.com/onkernel/vmconf/lib/hypervisor"
	_ "github.com/onkernel/vmconf/lib/hypervisor/cloudhypervisor"
	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/logger"
	"github.com/onkernel/vmconf/lib/otel"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// ProvideVMLogs provides the per-VM log buffers
func ProvideVMLogs(cfg *config.Config) *logger.VMLogs {
	return logger.NewVMLogs(cfg.VMLogLines)
}

// ProvideLogger provides the API logger, which also feeds per-VM log buffers
func ProvideLogger(logs *logger.VMLogs) *slog.Logger {
	return subsystemLogger(logger.SubsystemAPI, logs)
}

// subsystemLogger builds the logger of sub at its LOG_LEVEL_<SUBSYSTEM> level,
// feeding records tagged with a VM id to that VM's log buffer.
func subsystemLogger(sub logger.Subsystem, logs *logger.VMLogs) *slog.Logger {
	base := logger.NewSubsystemLogger(sub, logger.NewConfig(), otel.GetGlobalLogHandler())
	return slog.New(logger.NewVMLogHandler(base.Handler(), logs))
}

// ProvideContext provides a context with logger attached
func ProvideContext(log *slog.Logger) context.Context {
	return logger.AddToContext(context.Background(), log)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideTarget provides the target configurations are validated against
func ProvideTarget(cfg *config.Config) (vmconfig.Target, error) {
	target := vmconfig.DefaultTarget()
	if cfg.TargetArch != "" {
		target = vmconfig.TargetForArch(cfg.TargetArch)
	}
	if cfg.MaxPCISegments > 0 {
		if cfg.MaxPCISegments > int(vmconfig.MaxPCISegments) {
			return vmconfig.Target{}, fmt.Errorf("MAX_PCI_SEGMENTS %d exceeds the architectural limit %d", cfg.MaxPCISegments, vmconfig.MaxPCISegments)
		}
		target.MaxPCISegments = uint16(cfg.MaxPCISegments)
	}
	if err := target.Validate(); err != nil {
		return vmconfig.Target{}, err
	}
	return target, nil
}

// ProvideVMManager provides the VM manager
func ProvideVMManager(cfg *config.Config, target vmconfig.Target, logs *logger.VMLogs) (instances.Manager, error) {
	return instances.NewManager(instances.Config{
		Target:         target,
		HypervisorType: hypervisor.Type(cfg.HypervisorType),
		Logs:           logs,
		Meter:          otel.GetGlobalMeter(),
		Tracer:         otel.GetGlobalTracer(),
		Logger:         subsystemLogger(logger.SubsystemInstances, logs),
		HotplugLogger:  subsystemLogger(logger.SubsystemHotplug, logs),
		VMMLogger:      subsystemLogger(logger.SubsystemVMM, logs),
	})
}
