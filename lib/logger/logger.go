// Package logger provides structured logging with subsystem-specific levels
// and OpenTelemetry log bridging.
package logger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// Subsystem names a component with its own log level.
type Subsystem string

const (
	SubsystemAPI       Subsystem = "API"
	SubsystemHotplug   Subsystem = "HOTPLUG"
	SubsystemInstances Subsystem = "INSTANCES"
	SubsystemVMM       Subsystem = "VMM"
)

// Config holds the default log level and per-subsystem overrides.
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[Subsystem]slog.Level
	AddSource       bool
}

// NewConfig reads LOG_LEVEL and LOG_LEVEL_<SUBSYSTEM> from the environment.
// Unparseable values fall back to info.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[Subsystem]slog.Level),
		AddSource:       os.Getenv("LOG_ADD_SOURCE") == "true",
	}
	if lvl, ok := parseLevel(os.Getenv("LOG_LEVEL")); ok {
		cfg.DefaultLevel = lvl
	}
	for _, sub := range []Subsystem{SubsystemAPI, SubsystemHotplug, SubsystemInstances, SubsystemVMM} {
		if lvl, ok := parseLevel(os.Getenv("LOG_LEVEL_" + string(sub))); ok {
			cfg.SubsystemLevels[sub] = lvl
		}
	}
	return cfg
}

// LevelFor returns the level of sub, or the default level.
func (c Config) LevelFor(sub Subsystem) slog.Level {
	if lvl, ok := c.SubsystemLevels[sub]; ok {
		return lvl
	}
	return c.DefaultLevel
}

func parseLevel(s string) (slog.Level, bool) {
	if s == "" {
		return 0, false
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, false
	}
	return lvl, true
}

// NewSubsystemLogger returns a JSON logger on stdout at the subsystem's level.
// When otelHandler is non-nil records are also sent to it.
func NewSubsystemLogger(sub Subsystem, cfg Config, otelHandler slog.Handler) *slog.Logger {
	level := cfg.LevelFor(sub)
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})
	if otelHandler != nil {
		h = &fanoutHandler{handlers: []slog.Handler{h, &leveledHandler{Handler: otelHandler, level: level}}}
	}
	return slog.New(h).With("subsystem", string(sub))
}

// AddToContext adds a logger to the context
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or returns default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: out}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: out}
}

// leveledHandler applies a minimum level to a handler that has none,
// such as the otelslog bridge.
type leveledHandler struct {
	slog.Handler
	level slog.Level
}

func (h *leveledHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h *leveledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveledHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *leveledHandler) WithGroup(name string) slog.Handler {
	return &leveledHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
