// Package vmm is a client for the Cloud Hypervisor REST API served on the
// VMM's unix socket.
package vmm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/onkernel/vmconf/lib/vmconfig"
)

const baseURL = "http://localhost/api/v1"

// VMM is a Cloud Hypervisor API client bound to one socket.
type VMM struct {
	httpClient *http.Client
	socketPath string
}

// NewVMM creates a Cloud Hypervisor client for an existing VMM socket
func NewVMM(socketPath string) (*VMM, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("empty socket path")
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		// Cloud Hypervisor limits concurrent API connections; don't pool them.
		DisableKeepAlives: true,
	}

	return &VMM{
		httpClient: &http.Client{
			Transport: &instrumentedRoundTripper{base: transport},
			Timeout:   30 * time.Second,
		},
		socketPath: socketPath,
	}, nil
}

// SocketPath returns the API socket the client talks to.
func (v *VMM) SocketPath() string {
	return v.socketPath
}

// Ping returns the VMM build information.
func (v *VMM) Ping(ctx context.Context) (*VmmPingResponse, error) {
	var out VmmPingResponse
	if err := v.do(ctx, http.MethodGet, "vmm.ping", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateVM hands a resolved configuration to the VMM. The VM is not booted.
func (v *VMM) CreateVM(ctx context.Context, cfg *vmconfig.VmConfig) error {
	return v.do(ctx, http.MethodPut, "vm.create", cfg, nil)
}

// BootVM boots the created VM.
func (v *VMM) BootVM(ctx context.Context) error {
	return v.do(ctx, http.MethodPut, "vm.boot", nil, nil)
}

// DeleteVM removes the VM from the VMM. The VMM process keeps running.
func (v *VMM) DeleteVM(ctx context.Context) error {
	return v.do(ctx, http.MethodPut, "vm.delete", nil, nil)
}

// ShutdownVMM stops the VMM process.
func (v *VMM) ShutdownVMM(ctx context.Context) error {
	return v.do(ctx, http.MethodPut, "vmm.shutdown", nil, nil)
}

// GetVmInfo returns the VM state and the configuration the VMM holds.
func (v *VMM) GetVmInfo(ctx context.Context) (*VmInfo, error) {
	var out VmInfo
	if err := v.do(ctx, http.MethodGet, "vm.info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDevice hot-adds one device through the given vm.add-* endpoint.
func (v *VMM) AddDevice(ctx context.Context, endpoint string, device any) (*PciDeviceInfo, error) {
	var out PciDeviceInfo
	if err := v.do(ctx, http.MethodPut, endpoint, device, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveDevice hot-removes the device with the given id.
func (v *VMM) RemoveDevice(ctx context.Context, id string) error {
	return v.do(ctx, http.MethodPut, "vm.remove-device", VmRemoveDevice{ID: id}, nil)
}

// Resize changes vCPUs, RAM or balloon size of a running VM.
func (v *VMM) Resize(ctx context.Context, r VmResize) error {
	return v.do(ctx, http.MethodPut, "vm.resize", r, nil)
}

// ResizeZone changes the size of a hotpluggable memory zone.
func (v *VMM) ResizeZone(ctx context.Context, r VmResizeZone) error {
	return v.do(ctx, http.MethodPut, "vm.resize-zone", r, nil)
}

// do sends body as JSON and decodes a 200 response into out. 204 leaves
// out untouched.
func (v *VMM) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+"/"+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{Operation: endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out != nil && resp.StatusCode == http.StatusOK && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}
