package vmm

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/onkernel/vmconf/lib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_RecordsErrorsByEndpoint(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)
	SetMetrics(m)
	t.Cleanup(func() { SetMetrics(nil) })

	f := newFakeVMM(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/vm.boot" {
			http.Error(w, "VM is not created", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	require.NoError(t, client.DeleteVM(context.Background()))
	require.Error(t, client.BootVM(context.Background()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var errorsTotal *metricdata.Sum[int64]
	for _, md := range rm.ScopeMetrics[0].Metrics {
		if md.Name == "vmconf_vmm_api_errors_total" {
			sum := md.Data.(metricdata.Sum[int64])
			errorsTotal = &sum
		}
	}
	require.NotNil(t, errorsTotal)
	require.Len(t, errorsTotal.DataPoints, 1)
	endpoint, _ := errorsTotal.DataPoints[0].Attributes.Value("endpoint")
	assert.Equal(t, "vm.boot", endpoint.AsString())
	status, _ := errorsTotal.DataPoints[0].Attributes.Value("status")
	assert.Equal(t, "500", status.AsString())
}

func TestNewMetrics_NilMeter(t *testing.T) {
	m, err := NewMetrics(nil)
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestRoundTripper_LogsThroughContextLogger(t *testing.T) {
	f := newFakeVMM(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	var debug, info bytes.Buffer
	ctx := logger.AddToContext(context.Background(),
		slog.New(slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug})))
	require.NoError(t, client.DeleteVM(ctx))
	assert.Contains(t, debug.String(), `"msg":"vmm api call"`)
	assert.Contains(t, debug.String(), `"endpoint":"vm.delete"`)

	ctx = logger.AddToContext(context.Background(), slog.New(slog.NewJSONHandler(&info, nil)))
	require.NoError(t, client.DeleteVM(ctx))
	assert.Empty(t, info.String(), "successful calls log at debug")
}
