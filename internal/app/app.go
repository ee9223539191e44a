package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/apw/internal/buildfile"
	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/graph"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger writing to outW. Command output of targets
// is written to outW as well.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
	}
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// load reads the build files and turns them into a fresh graph.
func (a *App) load(ctx context.Context) (*graph.Graph, *buildfile.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading build files...", "path", a.config.BuildPath)

	model, err := buildfile.Load(ctx, a.config.BuildPath)
	if err != nil {
		return nil, nil, err
	}
	g, err := buildfile.NewGraph(ctx, model, buildfile.Options{Stdout: a.outW, Stderr: a.outW})
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Dependency graph built.", "node_count", len(g.Nodes()), "files", len(model.Files))
	return g, model, nil
}
