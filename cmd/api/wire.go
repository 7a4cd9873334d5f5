//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/vmconf/cmd/api/api"
	"github.com/onkernel/vmconf/cmd/api/config"
	"github.com/onkernel/vmconf/lib/instances"
	"github.com/onkernel/vmconf/lib/providers"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// application struct to hold initialized components
type application struct {
	Ctx        context.Context
	Logger     *slog.Logger
	Config     *config.Config
	Target     vmconfig.Target
	VMManager  instances.Manager
	ApiService *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideVMLogs,
		providers.ProvideLogger,
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideTarget,
		providers.ProvideVMManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
