package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/logger"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// VM is the API representation of a VM.
type VM struct {
	Id          string             `json:"id"`
	Name        string             `json:"name"`
	CreatedAt   time.Time          `json:"created_at"`
	APISocket   *string            `json:"api_socket,omitempty"`
	State       string             `json:"state"`
	StateError  *string            `json:"state_error,omitempty"`
	Version     uint64             `json:"version"`
	Identifiers []string           `json:"identifiers"`
	Config      *vmconfig.VmConfig `json:"config"`
}

// CreateVMRequest is the body of POST /vms.
type CreateVMRequest struct {
	Name      string          `json:"name"`
	APISocket *string         `json:"api_socket,omitempty"`
	Boot      bool            `json:"boot,omitempty"`
	Config    json.RawMessage `json:"config"`
}

const defaultLogTail = 100

func vmToAPI(vm instances.VM) VM {
	return VM{
		Id:          vm.Id,
		Name:        vm.Name,
		CreatedAt:   vm.CreatedAt,
		APISocket:   vm.APISocket,
		State:       string(vm.State),
		StateError:  vm.StateError,
		Version:     vm.Version,
		Identifiers: vm.Identifiers,
		Config:      vm.Config,
	}
}

// ListVMs lists all VMs
func (s *ApiService) ListVMs(w http.ResponseWriter, r *http.Request) {
	vms, err := s.VMManager.ListVMs(r.Context())
	if err != nil {
		writeError(w, r, err, "list vms")
		return
	}
	out := make([]VM, len(vms))
	for i, vm := range vms {
		out[i] = vmToAPI(vm)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateVM resolves, validates and registers a new VM
func (s *ApiService) CreateVM(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Code: "invalid_request", Message: "failed to read request body"})
		return
	}
	var req CreateVMRequest
	if err := vmconfig.DecodeStrict(body, &req); err != nil {
		writeError(w, r, err, "create vm")
		return
	}
	cfg, err := vmconfig.DecodeJSON(req.Config)
	if err != nil {
		writeError(w, r, err, "create vm")
		return
	}

	vm, err := s.VMManager.CreateVM(r.Context(), instances.CreateVMRequest{
		Name:      req.Name,
		APISocket: req.APISocket,
		Boot:      req.Boot,
		Config:    cfg,
	})
	if err != nil {
		log.DebugContext(r.Context(), "vm creation rejected", "name", req.Name, "error", err)
		writeError(w, r, err, "create vm")
		return
	}
	writeJSON(w, http.StatusCreated, vmToAPI(*vm))
}

// GetVM gets VM details
func (s *ApiService) GetVM(w http.ResponseWriter, r *http.Request) {
	vm, err := s.VMManager.GetVM(r.Context(), resolvedVMID(r))
	if err != nil {
		writeError(w, r, err, "get vm")
		return
	}
	writeJSON(w, http.StatusOK, vmToAPI(*vm))
}

// GetVMConfig returns the current configuration snapshot of a VM
func (s *ApiService) GetVMConfig(w http.ResponseWriter, r *http.Request) {
	vm, err := s.VMManager.GetVM(r.Context(), resolvedVMID(r))
	if err != nil {
		writeError(w, r, err, "get vm config")
		return
	}
	writeJSON(w, http.StatusOK, vm.Config)
}

// DeleteVM deletes a VM
func (s *ApiService) DeleteVM(w http.ResponseWriter, r *http.Request) {
	if err := s.VMManager.DeleteVM(r.Context(), resolvedVMID(r)); err != nil {
		writeError(w, r, err, "delete vm")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetVMLogs returns the newest log lines of a VM
func (s *ApiService) GetVMLogs(w http.ResponseWriter, r *http.Request) {
	tail := defaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, Error{Code: "invalid_request", Message: "tail must be a non-negative integer"})
			return
		}
		tail = n
	}

	lines, err := s.VMManager.GetVMLogs(r.Context(), resolvedVMID(r), tail)
	if err != nil {
		writeError(w, r, err, "get vm logs")
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, lines)
}
