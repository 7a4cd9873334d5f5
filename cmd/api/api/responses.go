package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onkernel/vmconf/lib/hotplug"
	"github.com/onkernel/vmconf/lib/hypervisor"
	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/logger"
	"github.com/onkernel/vmconf/lib/validation"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// Error is the body of every non-2xx response.
type Error struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Violations validation.Violations  `json:"violations,omitempty"`
	Fields     []*vmconfig.ShapeError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and error body. what names the
// operation in the 500 message and the error log.
func writeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "failed to "+what, "error", err)
		body.Message = "failed to " + what
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, Error) {
	var violations validation.Violations
	var shapeErrs vmconfig.ShapeErrors
	var shapeErr *vmconfig.ShapeError

	switch {
	case errors.As(err, &violations):
		return http.StatusUnprocessableEntity, Error{
			Code:       "invalid_config",
			Message:    "configuration violates one or more invariants",
			Violations: violations,
		}
	case errors.As(err, &shapeErrs):
		return http.StatusBadRequest, Error{Code: "malformed_config", Message: err.Error(), Fields: shapeErrs}
	case errors.As(err, &shapeErr):
		return http.StatusBadRequest, Error{Code: "malformed_config", Message: err.Error(), Fields: []*vmconfig.ShapeError{shapeErr}}
	case errors.Is(err, instances.ErrInvalidRequest),
		errors.Is(err, hotplug.ErrInvalidDelta),
		errors.Is(err, vmconfig.ErrUnknownFamily):
		return http.StatusBadRequest, Error{Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, instances.ErrNotFound),
		errors.Is(err, hotplug.ErrNotFound):
		return http.StatusNotFound, Error{Code: "not_found", Message: err.Error()}
	case errors.Is(err, instances.ErrAlreadyExists):
		return http.StatusConflict, Error{Code: "already_exists", Message: err.Error()}
	case errors.Is(err, instances.ErrAmbiguousName):
		return http.StatusConflict, Error{Code: "ambiguous", Message: "multiple vms match, use full ID"}
	case errors.Is(err, hotplug.ErrReferenced):
		return http.StatusConflict, Error{Code: "referenced", Message: err.Error()}
	case errors.Is(err, hotplug.ErrNotRemovable):
		return http.StatusConflict, Error{Code: "not_removable", Message: err.Error()}
	case errors.Is(err, hotplug.ErrConflict):
		return http.StatusConflict, Error{Code: "conflict", Message: err.Error()}
	case errors.Is(err, hypervisor.ErrUnsupported):
		return http.StatusConflict, Error{Code: "unsupported", Message: err.Error()}
	case errors.Is(err, hotplug.ErrHypervisor):
		return http.StatusBadGateway, Error{Code: "hypervisor_error", Message: err.Error()}
	}
	return http.StatusInternalServerError, Error{Code: "internal_error"}
}
