package instances

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the metrics instruments for VM operations.
type Metrics struct {
	createDuration metric.Float64Histogram
	deleteDuration metric.Float64Histogram
}

// newVMMetrics creates and registers all VM metrics.
func newVMMetrics(meter metric.Meter, m *manager) (*Metrics, error) {
	createDuration, err := meter.Float64Histogram(
		"vmconf_vms_create_duration_seconds",
		metric.WithDescription("Time to resolve, validate and create a VM"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	deleteDuration, err := meter.Float64Histogram(
		"vmconf_vms_delete_duration_seconds",
		metric.WithDescription("Time to delete a VM"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	// Register observable gauge for VM counts by state
	vmsTotal, err := meter.Int64ObservableGauge(
		"vmconf_vms_total",
		metric.WithDescription("Total number of VMs by state"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			vms, err := m.ListVMs(ctx)
			if err != nil {
				return nil
			}
			stateCounts := make(map[State]int64)
			for _, vm := range vms {
				stateCounts[vm.State]++
			}
			for state, count := range stateCounts {
				o.ObserveInt64(vmsTotal, count,
					metric.WithAttributes(attribute.String("state", string(state))))
			}
			return nil
		},
		vmsTotal,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		createDuration: createDuration,
		deleteDuration: deleteDuration,
	}, nil
}

// recordDuration records operation duration.
func (m *manager) recordDuration(ctx context.Context, histogram func(*Metrics) metric.Float64Histogram, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	histogram(m.metrics).Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

func (m *manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
