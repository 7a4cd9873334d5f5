package vmm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Method string
	Path   string
	Body   string
}

// fakeVMM serves a scripted Cloud Hypervisor API on a unix socket.
type fakeVMM struct {
	mu       sync.Mutex
	requests []request
	socket   string
}

func newFakeVMM(t *testing.T, handler http.HandlerFunc) *fakeVMM {
	t.Helper()
	// Keep the path short, unix socket paths are limited to ~108 bytes.
	dir, err := os.MkdirTemp("", "vmm")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	f := &fakeVMM{socket: filepath.Join(dir, "ch.sock")}
	l, err := net.Listen("unix", f.socket)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, request{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		f.mu.Unlock()
		handler(w, r)
	}))
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)
	return f
}

func (f *fakeVMM) last() request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestNewVMM_EmptySocket(t *testing.T) {
	_, err := NewVMM("")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	f := newFakeVMM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"build_version":"v49.0","version":"49.0.0","pid":42}`))
	})
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	resp, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "49.0.0", resp.Version)
	assert.Equal(t, int64(42), resp.Pid)
	assert.Equal(t, request{Method: http.MethodGet, Path: "/api/v1/vmm.ping"}, f.last())
}

func TestCreateVM(t *testing.T) {
	f := newFakeVMM(t, noContent)
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	cfg := &vmconfig.VmConfig{
		Payload: &vmconfig.PayloadConfig{Kernel: lo.ToPtr("/boot/vmlinux")},
		Disks:   []vmconfig.DiskConfig{{Path: lo.ToPtr("/img/root.raw"), ID: lo.ToPtr("root")}},
	}
	require.NoError(t, client.CreateVM(context.Background(), cfg))

	got := f.last()
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/api/v1/vm.create", got.Path)

	var sent vmconfig.VmConfig
	require.NoError(t, json.Unmarshal([]byte(got.Body), &sent))
	assert.Equal(t, "root", lo.FromPtr(sent.Disks[0].ID))
}

func TestAddDevice(t *testing.T) {
	f := newFakeVMM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"_net0","bdf":"0000:00:06.0"}`))
	})
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	info, err := client.AddDevice(context.Background(), "vm.add-net", vmconfig.NetConfig{ID: lo.ToPtr("_net0")})
	require.NoError(t, err)
	assert.Equal(t, "_net0", info.ID)
	assert.Equal(t, "0000:00:06.0", info.Bdf)
	assert.Equal(t, "/api/v1/vm.add-net", f.last().Path)
	assert.JSONEq(t, `{"id":"_net0"}`, f.last().Body)
}

func TestResizeAndRemove(t *testing.T) {
	f := newFakeVMM(t, noContent)
	client, err := NewVMM(f.socket)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.Resize(ctx, VmResize{DesiredRam: lo.ToPtr(uint64(2 << 30))}))
	assert.Equal(t, "/api/v1/vm.resize", f.last().Path)
	assert.JSONEq(t, `{"desired_ram":2147483648}`, f.last().Body)

	require.NoError(t, client.ResizeZone(ctx, VmResizeZone{ID: "mem1", DesiredRam: 1 << 30}))
	assert.JSONEq(t, `{"id":"mem1","desired_ram":1073741824}`, f.last().Body)

	require.NoError(t, client.RemoveDevice(ctx, "_disk1"))
	assert.Equal(t, "/api/v1/vm.remove-device", f.last().Path)
	assert.JSONEq(t, `{"id":"_disk1"}`, f.last().Body)
}

func TestAPIError(t *testing.T) {
	f := newFakeVMM(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Error from API: device busy", http.StatusInternalServerError)
	})
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	err = client.RemoveDevice(context.Background(), "_disk0")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "vm.remove-device", apiErr.Operation)
	assert.Contains(t, err.Error(), "device busy")
}

func TestGetVmInfo(t *testing.T) {
	f := newFakeVMM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":"Running","memory_actual_size":1073741824,"config":{"cpus":{"boot_vcpus":2,"max_vcpus":2,"features":{}}}}`))
	})
	client, err := NewVMM(f.socket)
	require.NoError(t, err)

	info, err := client.GetVmInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Running, info.State)
	assert.Equal(t, int64(1<<30), lo.FromPtr(info.MemoryActualSize))
	require.NotNil(t, info.Config)
	assert.Equal(t, uint8(2), info.Config.Cpus.BootVcpus)
}

func TestWaitForSocket(t *testing.T) {
	f := newFakeVMM(t, noContent)
	require.NoError(t, WaitForSocket(context.Background(), f.socket, time.Second))
	assert.True(t, IsSocketInUse(f.socket))

	missing := filepath.Join(filepath.Dir(f.socket), "none.sock")
	assert.False(t, IsSocketInUse(missing))
	assert.Error(t, WaitForSocket(context.Background(), missing, 50*time.Millisecond))
}
