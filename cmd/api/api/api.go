package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/onkernel/vmconf/cmd/api/config"
	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// ApiService implements the management API handlers
type ApiService struct {
	Config    *config.Config
	VMManager instances.Manager
	Target    vmconfig.Target
}

// New creates a new ApiService
func New(
	config *config.Config,
	vmManager instances.Manager,
	target vmconfig.Target,
) *ApiService {
	return &ApiService{
		Config:    config,
		VMManager: vmManager,
		Target:    target,
	}
}

// Routes mounts every operation of openapi.yaml on r.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/health", s.GetHealth)
	r.Post("/validate", s.ValidateConfig)

	r.Get("/vms", s.ListVMs)
	r.Post("/vms", s.CreateVM)
	r.Route("/vms/{id}", func(r chi.Router) {
		r.Use(ResolveVM(s))
		r.Get("/", s.GetVM)
		r.Delete("/", s.DeleteVM)
		r.Get("/config", s.GetVMConfig)
		r.Get("/logs", s.GetVMLogs)
		r.Put("/devices/{device}", s.AddDevice)
		r.Delete("/devices/{device}", s.RemoveDevice)
		r.Put("/resize", s.ResizeVM)
		r.Put("/resize-zone", s.ResizeZone)
	})
}
