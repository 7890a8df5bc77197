// Package app wires the build pipeline together: workspace loading, task
// table resolution, graph construction, and cache-accelerated execution.
package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/tylerbutler/buildgraph/internal/config"
	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/handlers"
	"github.com/tylerbutler/buildgraph/internal/runner"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle. Each App carries its own isolated logger and registry so
// multiple builds can run in one process without shared mutable state.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	cfg      *Config
	loader   *config.Loader
	registry *handlers.Registry
	runner   runner.CommandRunner
}

// NewApp is the constructor for the main application.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:     outW,
		logger:   logger,
		cfg:      cfg,
		loader:   config.NewLoader(),
		registry: handlers.NewRegistry(),
		runner:   runner.NewExecRunner(),
	}
}

// Registry returns the application's handler registry. Primarily for testing.
func (a *App) Registry() *handlers.Registry {
	return a.registry
}

// SetRunner replaces the command runner. Primarily for testing.
func (a *App) SetRunner(r runner.CommandRunner) {
	a.runner = r
}

// loadPlugins registers every configured plugin manifest, in order.
func (a *App) loadPlugins(ctx context.Context) error {
	if len(a.cfg.PluginPaths) == 0 {
		return nil
	}
	if err := a.registry.LoadPlugins(ctx, a.cfg.PluginPaths...); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Plugins loaded.", "count", len(a.cfg.PluginPaths))
	return nil
}
