// Package app wires configuration, logging, plan loading and the runner
// into a runnable application.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/stagegridgo/internal/ctxlog"
	"github.com/vk/stagegridgo/internal/plan"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	plan   *plan.Plan
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and a loaded,
// validated plan. A failure to load the plan is a fatal startup error and
// panics; the CLI layer recovers and reports it.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	p, err := plan.Load(ctx, cfg.PlanPath)
	if err != nil {
		panic(fmt.Errorf("failed to load plan: %w", err))
	}
	logger.Debug("Plan loaded and validated.", "stages", len(p.Stages))

	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		plan:   p,
	}
}

// Plan returns the loaded plan. This is primarily for testing.
func (a *App) Plan() *plan.Plan {
	return a.plan
}
