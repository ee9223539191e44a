package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/dump"
	"github.com/vk/apw/internal/scheduler"
)

// Run executes the main application logic: it builds the configured
// targets once, or keeps rebuilding them in watch mode until ctx is done.
// With a dump format set, the graph is printed instead.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.Dump != "" {
		return a.dump(ctx)
	}
	if a.config.Force {
		a.logger.Debug("Force requested; every target is rebuilt anyway.")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if a.config.HealthcheckPort > 0 {
		srv := a.newHealthcheckServer(ctx)
		eg.Go(func() error {
			return a.serveHealthcheck(ctx, srv)
		})
		eg.Go(func() error {
			<-ctx.Done()
			return a.closeHealthCheckServer(ctx)
		})
	}

	eg.Go(func() error {
		defer cancel()
		pool := scheduler.New(ctx, scheduler.Config{MaxWorkers: a.config.WorkerCount})
		defer pool.Close()

		if a.config.Watch {
			return a.watch(ctx, pool)
		}
		return a.build(ctx, pool)
	})

	err := eg.Wait()
	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

// build loads the build files and runs the configured targets on pool.
func (a *App) build(ctx context.Context, pool *scheduler.Pool) error {
	logger := ctxlog.FromContext(ctx)

	g, _, err := a.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load build files: %w", err)
	}
	defer pool.Release(g)

	start := time.Now()
	logger.Info("Building targets.", "targets", a.config.Targets, "workers", a.config.WorkerCount)
	if err := scheduler.NewRunner(g, pool).Process(ctx, a.config.Targets...); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	logger.Info("Build finished.", "targets", a.config.Targets, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *App) dump(ctx context.Context) error {
	g, _, err := a.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load build files: %w", err)
	}
	format, err := dump.ParseFormat(a.config.Dump)
	if err != nil {
		return err
	}
	return dump.Write(a.outW, format, g.Snapshot())
}
