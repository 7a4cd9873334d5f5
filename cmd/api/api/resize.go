package api

import (
	"io"
	"net/http"

	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// ResizeRequest is the body of PUT /vms/{id}/resize.
type ResizeRequest struct {
	DesiredVcpus   *uint8  `json:"desired_vcpus,omitempty"`
	DesiredRam     *uint64 `json:"desired_ram,omitempty"`
	DesiredBalloon *uint64 `json:"desired_balloon,omitempty"`
}

// ResizeZoneRequest is the body of PUT /vms/{id}/resize-zone.
type ResizeZoneRequest struct {
	ID         string `json:"id"`
	DesiredRam uint64 `json:"desired_ram"`
}

// ResizeVM resizes vCPUs, memory and balloon, in that order
func (s *ApiService) ResizeVM(w http.ResponseWriter, r *http.Request) {
	var req ResizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	vm, err := s.VMManager.Resize(r.Context(), resolvedVMID(r), instances.ResizeRequest{
		DesiredVcpus:   req.DesiredVcpus,
		DesiredRam:     req.DesiredRam,
		DesiredBalloon: req.DesiredBalloon,
	})
	if err != nil {
		writeError(w, r, err, "resize vm")
		return
	}
	writeJSON(w, http.StatusOK, vmToAPI(*vm))
}

// ResizeZone resizes a hotpluggable memory zone
func (s *ApiService) ResizeZone(w http.ResponseWriter, r *http.Request) {
	var req ResizeZoneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	vm, err := s.VMManager.ResizeZone(r.Context(), resolvedVMID(r), instances.ResizeZoneRequest{
		ID:         req.ID,
		DesiredRam: req.DesiredRam,
	})
	if err != nil {
		writeError(w, r, err, "resize zone")
		return
	}
	writeJSON(w, http.StatusOK, vmToAPI(*vm))
}

// decodeBody strictly decodes the request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Code: "invalid_request", Message: "failed to read request body"})
		return false
	}
	if err := vmconfig.DecodeStrict(body, v); err != nil {
		writeError(w, r, err, "decode request")
		return false
	}
	return true
}
