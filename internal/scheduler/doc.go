// Package scheduler runs plans created from a graph.Graph.
//
// A Pool owns a single loop goroutine that picks ready jobs from the plans
// it drives, round-robin, and hands them to worker goroutines while fewer
// than Config.MaxWorkers are running. A job is identified by its graph and
// node id: once dispatched, every other plan wanting the same id waits for
// that run instead of starting its own, and a failure is reported to all of
// them.
//
// Plans that have nothing queued and nothing running on their behalf for
// two consecutive passes fail with ErrPlanStuck.
//
// Runner is the entry point for callers that only want to build targets:
//
//	pool := scheduler.New(ctx, scheduler.Config{MaxWorkers: 8})
//	defer pool.Close()
//	err := scheduler.NewRunner(g, pool).Process(ctx, "all")
//
// Completion callbacks registered with graph.Plan.OnDone run on the pool
// loop and must not wait for other plans.
package scheduler
