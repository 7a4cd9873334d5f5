package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/ghodss/yaml"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	nethttpmiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/onkernel/vmconf"
	"github.com/onkernel/vmconf/cmd/api/api"
	"github.com/onkernel/vmconf/cmd/api/config"
	mw "github.com/onkernel/vmconf/lib/middleware"
	"github.com/onkernel/vmconf/lib/otel"
	"github.com/onkernel/vmconf/lib/vmm"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("vmconf API exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	telemetry, stopTelemetry := startTelemetry(cfg)
	defer stopTelemetry()

	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := app.Logger
	if app.Config.JwtSecret == "" {
		log.Warn("JWT_SECRET is empty, every authenticated request will be rejected")
	}
	log.Info("validation target",
		"arch", app.Target.Arch,
		"max_pci_segments", app.Target.MaxPCISegments,
		"hypervisor", app.Config.HypervisorType,
		"telemetry", cfg.OtelEnabled)

	opts, err := routerOptionsFor(cfg, telemetry)
	if err != nil {
		return err
	}
	handler, err := newRouter(app, opts)
	if err != nil {
		return err
	}

	return serve(ctx, log, &http.Server{
		Addr:    ":" + app.Config.Port,
		Handler: handler,
	})
}

// startTelemetry initializes OTel and publishes the provider to the packages
// that record through globals. Failure leaves the service running without
// telemetry; the returned func flushes and stops the exporters.
func startTelemetry(cfg *config.Config) (*otel.Provider, func()) {
	provider, shutdown, err := otel.Init(context.Background(), otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
		TraceSampleRatio:  cfg.OtelTraceSampleRatio,
		MetricInterval:    cfg.OtelMetricInterval,
		TargetArch:        cfg.TargetArch,
		MaxPCISegments:    cfg.MaxPCISegments,
	})
	if err != nil {
		slog.Warn("telemetry disabled", "endpoint", cfg.OtelEndpoint, "error", err)
		return nil, func() {}
	}

	otel.SetGlobalProvider(provider)
	if provider.LogHandler != nil {
		otel.SetGlobalLogHandler(provider.LogHandler)
	}
	if provider.MeterProvider != nil {
		if m, err := vmm.NewMetrics(provider.Meter); err != nil {
			slog.Warn("hypervisor API metrics disabled", "error", err)
		} else {
			vmm.SetMetrics(m)
		}
	}

	return provider, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}
}

func routerOptionsFor(cfg *config.Config, telemetry *otel.Provider) (routerOptions, error) {
	var limit datasize.ByteSize
	if err := limit.UnmarshalText([]byte(cfg.MaxRequestSize)); err != nil {
		return routerOptions{}, fmt.Errorf("invalid MAX_REQUEST_SIZE %q: %w", cfg.MaxRequestSize, err)
	}
	opts := routerOptions{
		maxRequestSize: limit,
		otelService:    ifEnabled(cfg.OtelEnabled, cfg.OtelServiceName),
	}

	var otelHandler slog.Handler
	if telemetry != nil {
		otelHandler = telemetry.LogHandler
	}
	opts.accessLogger = mw.NewAccessLogger(otelHandler)

	if telemetry != nil && telemetry.MeterProvider != nil {
		m, err := mw.NewHTTPMetrics(telemetry.Meter)
		if err != nil {
			slog.Warn("HTTP metrics disabled", "error", err)
		} else {
			opts.httpMetrics = m.Middleware
		}
	}
	return opts, nil
}

// serve runs srv until ctx is cancelled, then drains it.
func serve(ctx context.Context, log *slog.Logger, srv *http.Server) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		log.Info("draining http server")
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	return grp.Wait()
}

type routerOptions struct {
	accessLogger   *slog.Logger
	httpMetrics    func(http.Handler) http.Handler
	maxRequestSize datasize.ByteSize
	// otelService enables otelchi tracing when non-empty.
	otelService string
}

// newRouter builds the HTTP handler: authenticated, spec-validated API
// routes plus the unauthenticated spec and docs endpoints.
func newRouter(app *application, opts routerOptions) (http.Handler, error) {
	spec, err := vmconf.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}
	// The validator matches request hosts against servers; routes are host-agnostic.
	spec.Servers = nil

	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)

		if opts.otelService != "" {
			r.Use(otelchi.Middleware(opts.otelService, otelchi.WithChiRoutes(r)))
		}

		// app.Logger feeds the per-VM log buffers.
		r.Use(mw.InjectLogger(app.Logger))
		r.Use(mw.AccessLogger(opts.accessLogger))
		if opts.httpMetrics != nil {
			r.Use(opts.httpMetrics)
		}
		r.Use(mw.MaxBodySize(opts.maxRequestSize))
		r.Use(middleware.Timeout(60 * time.Second))

		validatorOptions := &nethttpmiddleware.Options{
			Options: openapi3filter.Options{
				AuthenticationFunc: mw.OapiAuthenticationFunc(app.Config.JwtSecret),
			},
			ErrorHandler: mw.OapiErrorHandler,
		}
		r.Use(nethttpmiddleware.OapiRequestValidatorWithOptions(spec, validatorOptions))

		app.ApiService.Routes(r)
	})

	// Public: spec and docs.
	r.Get("/spec.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oai.openapi")
		w.Write(vmconf.OpenAPIYAML)
	})

	r.Get("/spec.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := yaml.YAMLToJSON(vmconf.OpenAPIYAML)
		if err != nil {
			app.Logger.ErrorContext(r.Context(), "convert spec to JSON", "error", err)
			http.Error(w, "spec unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})

	r.Get("/swagger", api.SwaggerUI("/spec.json"))

	return r, nil
}

// ifEnabled returns v when enabled, the zero value otherwise.
func ifEnabled[T any](enabled bool, v T) T {
	if enabled {
		return v
	}
	var zero T
	return zero
}
