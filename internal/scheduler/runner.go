package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/graph"
)

// Runner builds targets of one graph on a pool.
type Runner struct {
	graph *graph.Graph
	pool  *Pool
}

// NewRunner returns a runner for g backed by pool.
func NewRunner(g *graph.Graph, pool *Pool) *Runner {
	return &Runner{graph: g, pool: pool}
}

// Graph returns the graph the runner builds from.
func (r *Runner) Graph() *graph.Graph {
	return r.graph
}

// Process creates a plan for targets and waits until it finished.
func (r *Runner) Process(ctx context.Context, targets ...string) error {
	plan := r.graph.CreatePlan(targets...)
	ctxlog.FromContext(ctx).Debug("Processing targets.", "plan", plan.ID(), "targets", targets)
	return r.pool.Start(plan).Wait(ctx)
}

// ProcessAll runs one plan per group concurrently and returns the first
// failure.
func (r *Runner) ProcessAll(ctx context.Context, groups ...[]string) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, targets := range groups {
		eg.Go(func() error {
			return r.Process(ctx, targets...)
		})
	}
	return eg.Wait()
}
