package vmm

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/onkernel/vmconf/lib/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for Cloud Hypervisor API calls.
type Metrics struct {
	APIDuration    metric.Float64Histogram
	APIErrorsTotal metric.Int64Counter
}

// VMMMetrics is the package-wide instance used by every client; nil disables
// recording. Set it once with SetMetrics during startup.
var VMMMetrics *Metrics

// SetMetrics sets the package-wide metrics instance.
func SetMetrics(m *Metrics) {
	VMMMetrics = m
}

// NewMetrics creates VMM metrics instruments. A nil meter returns nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	apiDuration, err := meter.Float64Histogram(
		"vmconf_vmm_api_duration_seconds",
		metric.WithDescription("Cloud Hypervisor API call duration by endpoint"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	apiErrorsTotal, err := meter.Int64Counter(
		"vmconf_vmm_api_errors_total",
		metric.WithDescription("Cloud Hypervisor API calls that failed or returned an error status"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		APIDuration:    apiDuration,
		APIErrorsTotal: apiErrorsTotal,
	}, nil
}

// record observes one API call. status is the HTTP status, 0 when the
// request never got a response.
func (m *Metrics) record(ctx context.Context, endpoint string, status int, elapsed time.Duration) {
	outcome := "success"
	if status == 0 || status >= 300 {
		outcome = "error"
		m.APIErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", strconv.Itoa(status)),
		))
	}
	m.APIDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

// instrumentedRoundTripper records every request against VMMMetrics and logs
// it through the logger carried by the request context.
type instrumentedRoundTripper struct {
	base http.RoundTripper
}

func (t *instrumentedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := path.Base(req.URL.Path)
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if m := VMMMetrics; m != nil {
		m.record(ctx, endpoint, status, elapsed)
	}

	log := logger.FromContext(ctx)
	if err != nil {
		log.WarnContext(ctx, "vmm api call failed", "endpoint", endpoint, "error", err)
	} else {
		log.DebugContext(ctx, "vmm api call", "endpoint", endpoint, "status", status, "duration_ms", elapsed.Milliseconds())
	}
	return resp, err
}
