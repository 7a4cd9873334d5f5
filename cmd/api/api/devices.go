package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// DeviceResult is the response of a device hot-add.
type DeviceResult struct {
	ID     string  `json:"id"`
	Bdf    *string `json:"bdf,omitempty"`
	Device any     `json:"device"`
	VM     VM      `json:"vm"`
}

// AddDevice hot-adds one device of the family named in the path
func (s *ApiService) AddDevice(w http.ResponseWriter, r *http.Request) {
	family, err := vmconfig.ParseFamily(chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, r, err, "add device")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Code: "invalid_request", Message: "failed to read request body"})
		return
	}
	device, err := vmconfig.DecodeDevice(family, body)
	if err != nil {
		writeError(w, r, err, "add device")
		return
	}

	res, err := s.VMManager.AddDevice(r.Context(), resolvedVMID(r), instances.AddDeviceRequest{
		Family: family,
		Device: device,
	})
	if err != nil {
		writeError(w, r, err, "add device")
		return
	}
	writeJSON(w, http.StatusOK, DeviceResult{
		ID:     res.ID,
		Bdf:    res.Bdf,
		Device: res.Device,
		VM:     vmToAPI(*res.VM),
	})
}

// RemoveDevice hot-removes a device or an unreferenced memory zone
func (s *ApiService) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	vm, err := s.VMManager.RemoveDevice(r.Context(), resolvedVMID(r), chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, r, err, "remove device")
		return
	}
	writeJSON(w, http.StatusOK, vmToAPI(*vm))
}
