package api

import (
	"context"
	"net/http"

	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/middleware"
)

// VMResolver adapts instances.Manager to middleware.ResourceResolver.
type VMResolver struct {
	Manager instances.Manager
}

func (r VMResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	vm, err := r.Manager.GetVM(ctx, idOrName)
	if err != nil {
		return "", nil, err
	}
	return vm.Id, vm, nil
}

// ResolveVM resolves the {id} path parameter to a VM before handlers run.
func ResolveVM(s *ApiService) func(http.Handler) http.Handler {
	return middleware.ResolveVM(VMResolver{Manager: s.VMManager}, ResolverErrorResponder)
}

// ResolverErrorResponder handles resolver errors by writing appropriate HTTP responses.
func ResolverErrorResponder(w http.ResponseWriter, err error, lookup string) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		body.Message = "failed to resolve resource"
	}
	if status == http.StatusNotFound {
		body.Message = "vm " + lookup + " not found"
	}
	writeJSON(w, status, body)
}

// resolvedVMID returns the id the resolver middleware stored for this request.
func resolvedVMID(r *http.Request) string {
	return middleware.GetResolvedID(r.Context(), middleware.ResourceVM)
}
