package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/graph"
	"github.com/vk/apw/internal/metrics"
)

// DefaultMaxWorkers is used when Config.MaxWorkers is not positive.
const DefaultMaxWorkers = 4

var tracer = otel.Tracer("github.com/vk/apw/internal/scheduler")

// Config holds the pool settings.
type Config struct {
	MaxWorkers int
}

// jobKey identifies a job across every plan of a graph.
type jobKey struct {
	g  *graph.Graph
	id string
}

type tracked struct {
	plan   *graph.Plan
	future *Future
	idle   int
	done   bool
}

// Pool drives plans to completion. A single loop goroutine owns all
// scheduling state; node actions run on their own goroutines and report
// back to the loop. A job runs at most once per pool, however many plans
// want it.
type Pool struct {
	ctx     context.Context
	logger  *slog.Logger
	workers int

	mu      sync.Mutex
	inbox   []func()
	futures map[*graph.Plan]*Future
	closed  bool

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}

	// Owned by the loop goroutine.
	active    int
	inFlight  map[jobKey]bool
	completed map[jobKey]bool
	failed    map[jobKey]error
	listeners map[jobKey][]*tracked
	plans     []*tracked
	cursor    int
	unwatch   map[*graph.Graph]func()
}

// New starts a pool. The pool stops when ctx is done or Close is called.
func New(ctx context.Context, cfg Config) *Pool {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	p := &Pool{
		ctx:       ctx,
		logger:    ctxlog.FromContext(ctx),
		workers:   workers,
		futures:   make(map[*graph.Plan]*Future),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		inFlight:  make(map[jobKey]bool),
		completed: make(map[jobKey]bool),
		failed:    make(map[jobKey]error),
		listeners: make(map[jobKey][]*tracked),
		unwatch:   make(map[*graph.Graph]func()),
	}
	p.logger.Debug("Starting scheduler pool.", "max_workers", workers)
	go p.loop()
	return p
}

// MaxWorkers returns the concurrency cap.
func (p *Pool) MaxWorkers() int {
	return p.workers
}

// Start begins driving plan. Starting a plan that is already running
// returns its existing future.
func (p *Pool) Start(plan *graph.Plan) *Future {
	p.mu.Lock()
	if f, ok := p.futures[plan]; ok {
		p.mu.Unlock()
		return f
	}
	f := newFuture()
	if p.closed {
		p.mu.Unlock()
		f.resolve(ErrPoolClosed)
		return f
	}
	p.futures[plan] = f
	p.inbox = append(p.inbox, func() { p.track(plan, f) })
	p.mu.Unlock()
	p.signal()
	return f
}

// Close stops the loop. Plans still pending fail with ErrPoolClosed. Jobs
// already running are not interrupted.
func (p *Pool) Close() {
	p.quitOnce.Do(func() { close(p.quit) })
	<-p.stopped
}

// Release drops the pool's memory of jobs run for g, so a later plan of g
// runs them again. It does nothing while g still has plans or jobs in the
// pool.
func (p *Pool) Release(g *graph.Graph) {
	p.post(func() {
		for _, t := range p.plans {
			if t.plan.Graph() == g {
				return
			}
		}
		for key := range p.inFlight {
			if key.g == g {
				return
			}
		}
		for key := range p.completed {
			if key.g == g {
				delete(p.completed, key)
			}
		}
		for key := range p.failed {
			if key.g == g {
				delete(p.failed, key)
			}
		}
		if cancel, ok := p.unwatch[g]; ok {
			cancel()
			delete(p.unwatch, g)
		}
		p.logger.Debug("Released graph.")
	})
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// post queues fn for the loop goroutine.
func (p *Pool) post(fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.inbox = append(p.inbox, fn)
	p.mu.Unlock()
	p.signal()
	return true
}

func (p *Pool) loop() {
	defer close(p.stopped)
	for {
		select {
		case <-p.quit:
			p.shutdown(ErrPoolClosed)
			return
		case <-p.ctx.Done():
			p.shutdown(fmt.Errorf("%w: %w", ErrPoolClosed, p.ctx.Err()))
			return
		case <-p.wake:
		}

		p.mu.Lock()
		inbox := p.inbox
		p.inbox = nil
		p.mu.Unlock()
		for _, fn := range inbox {
			fn()
		}
		p.next()
	}
}

func (p *Pool) track(plan *graph.Plan, f *Future) {
	t := &tracked{plan: plan, future: f}
	p.plans = append(p.plans, t)
	g := plan.Graph()
	if _, ok := p.unwatch[g]; !ok {
		p.unwatch[g] = g.Watch(p.signal)
	}
	metrics.TrackedPlans.Inc()
	p.logger.Debug("Plan tracked.", "plan", plan.ID(), "targets", plan.Targets())
}

// next absorbs jobs other plans already ran or are running, dispatches as
// many jobs as the worker cap allows and retires finished plans.
func (p *Pool) next() {
	p.absorb()
	for p.active < p.workers {
		t, id := p.nextOperable()
		if t == nil {
			break
		}
		p.dispatch(t, id)
	}
	p.reap()
}

func (p *Pool) claimed(key jobKey) bool {
	return p.inFlight[key] || p.completed[key] || p.failed[key] != nil
}

func (p *Pool) absorb() {
	for changed := true; changed; {
		changed = false
		for _, t := range p.plans {
			if t.done {
				continue
			}
			g := t.plan.Graph()
			for _, id := range t.plan.ReadyJobs() {
				key := jobKey{g: g, id: id}
				if !p.claimed(key) {
					continue
				}
				if _, ok := t.plan.NextJob(id); !ok {
					continue
				}
				changed = true
				switch {
				case p.completed[key]:
					metrics.JobsShared.Inc()
					if err := t.plan.OnJobDone(id); err != nil {
						p.logger.Warn("Could not record shared job.", "plan", t.plan.ID(), "job", id, "error", err)
					}
				case p.failed[key] != nil:
					t.plan.OnJobFail(id, p.failed[key])
				default:
					metrics.JobsShared.Inc()
					p.listeners[key] = append(p.listeners[key], t)
				}
			}
		}
	}
}

// nextOperable picks, round-robin, the next plan with a job nobody claimed.
func (p *Pool) nextOperable() (*tracked, string) {
	n := len(p.plans)
	for i := 0; i < n; i++ {
		p.cursor = (p.cursor + 1) % n
		t := p.plans[p.cursor]
		if t.done {
			continue
		}
		g := t.plan.Graph()
		job, ok := t.plan.CheckNextJob(func(id string) bool {
			return p.claimed(jobKey{g: g, id: id})
		})
		if ok {
			return t, job.ID
		}
	}
	return nil, ""
}

func (p *Pool) dispatch(t *tracked, id string) {
	job, ok := t.plan.NextJob(id)
	if !ok {
		return
	}
	g := t.plan.Graph()
	key := jobKey{g: g, id: id}
	p.inFlight[key] = true
	p.listeners[key] = append(p.listeners[key], t)

	for _, o := range p.plans {
		if o == t || o.done || o.plan.Graph() != g {
			continue
		}
		if !slices.Contains(o.plan.ReadyJobs(), id) {
			continue
		}
		if _, ok := o.plan.NextJob(id); ok {
			metrics.JobsShared.Inc()
			p.listeners[key] = append(p.listeners[key], o)
		}
	}

	if graph.CapabilityOf(job.Node) == graph.Inert {
		p.logger.Debug("Job has nothing to run.", "job", id, "plan", t.plan.ID())
		p.finished(key, nil)
		return
	}

	p.active++
	metrics.JobsDispatched.Inc()
	metrics.ActiveJobs.Inc()
	p.logger.Debug("Dispatching job.", "job", id, "plan", t.plan.ID(), "listeners", len(p.listeners[key]), "active", p.active)
	go p.work(job, t.plan, key)
}

func (p *Pool) work(job graph.Job, plan *graph.Plan, key jobKey) {
	err := p.run(job, plan)
	p.post(func() {
		p.active--
		metrics.ActiveJobs.Dec()
		p.finished(key, err)
	})
}

func (p *Pool) run(job graph.Job, plan *graph.Plan) (err error) {
	ctx, span := tracer.Start(p.ctx, "apw.job", trace.WithAttributes(
		attribute.String("apw.job.id", job.ID),
		attribute.String("apw.plan.id", plan.ID()),
	))
	defer span.End()

	ctx, logger := ctxlog.With(ctx, "job", job.ID, "plan", plan.ID())
	x := &graph.Exec{Graph: plan.Graph(), Plan: plan, JobID: job.ID}
	ctx = graph.WithExec(ctx, x)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.JobDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	logger.Debug("Worker picked up job for execution.")
	return job.Node.Action()(ctx, x)
}

// finished fans the outcome of a job out to every plan waiting on it.
func (p *Pool) finished(key jobKey, err error) {
	delete(p.inFlight, key)
	listeners := p.listeners[key]
	delete(p.listeners, key)

	if err == nil {
		p.completed[key] = true
		metrics.JobsFinished.WithLabelValues("ok").Inc()
		p.logger.Debug("Job finished.", "job", key.id, "listeners", len(listeners))
		for _, t := range listeners {
			if t.done {
				continue
			}
			if err := t.plan.OnJobDone(key.id); err != nil {
				p.logger.Warn("Could not record finished job.", "plan", t.plan.ID(), "job", key.id, "error", err)
			}
		}
		return
	}

	jobErr := &JobError{ID: key.id, Err: err}
	p.failed[key] = jobErr
	metrics.JobsFinished.WithLabelValues("failed").Inc()
	p.logger.Error("Job failed.", "job", key.id, "listeners", len(listeners), "error", err)
	for _, t := range listeners {
		if !t.done {
			t.plan.OnJobFail(key.id, jobErr)
		}
	}
}

// reap retires completed plans and fails plans that stalled on two
// consecutive passes.
func (p *Pool) reap() {
	recheck := false
	for _, t := range slices.Clone(p.plans) {
		if t.done {
			continue
		}
		select {
		case <-t.plan.Done():
			p.terminate(t, t.plan.Err())
			continue
		default:
		}

		if !p.stalled(t) {
			t.idle = 0
			continue
		}
		t.idle++
		if t.idle < 2 {
			recheck = true
			continue
		}
		err := fmt.Errorf("%w: don't know how to build %s", ErrPlanStuck, strings.Join(t.plan.Targets(), ", "))
		t.plan.Abort(err)
		p.terminate(t, err)
	}
	if recheck {
		p.signal()
	}
}

// stalled reports whether t has nothing queued and nothing the pool is
// running on its behalf. Jobs taken from the plan outside the pool never
// come back.
func (p *Pool) stalled(t *tracked) bool {
	plan := t.plan
	if plan.Locked() || plan.Failed() || len(plan.ReadyJobs()) > 0 {
		return false
	}
	for _, ls := range p.listeners {
		if slices.Contains(ls, t) {
			return false
		}
	}
	return true
}

func (p *Pool) terminate(t *tracked, err error) {
	t.done = true
	p.plans = slices.DeleteFunc(p.plans, func(o *tracked) bool { return o == t })
	if len(p.plans) == 0 {
		p.cursor = 0
	} else {
		p.cursor %= len(p.plans)
	}
	for key, ls := range p.listeners {
		p.listeners[key] = slices.DeleteFunc(ls, func(o *tracked) bool { return o == t })
	}

	p.mu.Lock()
	delete(p.futures, t.plan)
	p.mu.Unlock()

	metrics.TrackedPlans.Dec()
	result := "ok"
	switch {
	case err == nil:
		p.logger.Debug("Plan finished.", "plan", t.plan.ID())
	case errors.Is(err, ErrPlanStuck):
		result = "stuck"
		p.logger.Error("Plan stuck.", "plan", t.plan.ID(), "error", err)
	default:
		result = "failed"
		p.logger.Debug("Plan failed.", "plan", t.plan.ID(), "error", err)
	}
	metrics.PlansFinished.WithLabelValues(result).Inc()
	t.future.resolve(err)
}

func (p *Pool) shutdown(reason error) {
	p.mu.Lock()
	p.closed = true
	p.inbox = nil
	futures := p.futures
	p.futures = make(map[*graph.Plan]*Future)
	p.mu.Unlock()

	if len(p.plans) > 0 {
		p.logger.Error("Scheduler stopped with unfinished plans.", "count", len(p.plans))
	}
	for _, t := range p.plans {
		p.logger.Error("Unfinished plan.",
			"plan", t.plan.ID(),
			"targets", t.plan.Targets(),
			"jobs", t.plan.ReadyJobs(),
			"active_jobs", t.plan.ActiveJobs(),
		)
		t.done = true
		t.plan.Abort(reason)
		metrics.TrackedPlans.Dec()
	}
	p.plans = nil
	for _, f := range futures {
		f.resolve(reason)
	}
	for _, cancel := range p.unwatch {
		cancel()
	}
	p.logger.Debug("Scheduler pool stopped.")
}
