package hotplug

import (
	"context"
	"errors"
	"time"

	"github.com/onkernel/vmconf/lib/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for hotplug transactions.
type Metrics struct {
	transactions metric.Int64Counter
	duration     metric.Float64Histogram
	violations   metric.Int64Counter
}

// NewMetrics creates and registers the hotplug metrics.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transactions, err := meter.Int64Counter(
		"vmconf_hotplug_transactions_total",
		metric.WithDescription("Total number of hotplug transactions by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"vmconf_hotplug_duration_seconds",
		metric.WithDescription("Time to validate and commit or reject a hotplug transaction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	violations, err := meter.Int64Counter(
		"vmconf_hotplug_violations_total",
		metric.WithDescription("Invariant violations reported by rejected hotplug transactions"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactions: transactions,
		duration:     duration,
		violations:   violations,
	}, nil
}

// record records one finished transaction.
func (m *Metrics) record(ctx context.Context, kind Kind, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome(err)),
	)
	m.transactions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	var v validation.Violations
	if errors.As(err, &v) {
		for _, one := range v {
			m.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(one.Code))))
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrInternal):
		return "internal_error"
	case errors.Is(err, ErrHypervisor):
		return "hypervisor_error"
	default:
		return "rejected"
	}
}
