package graph

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Job is a ready node handed out by a plan.
type Job struct {
	ID   string
	Node Node
}

// Plan is the execution frontier for one build request. It mirrors the part
// of the graph reachable from its targets below a synthetic root and tracks
// which of those nodes are queued, active and done.
//
// A job whose node gained plan-local children while it was running stays
// active until those children are done, and is then finalized without
// running again.
type Plan struct {
	g       *Graph
	id      string
	root    string
	targets []string

	parents  map[string][]string
	children map[string][]string

	jobs      []string
	active    []string
	done      map[string]bool
	doneOrder []string
	ran       map[string]bool

	locked int
	failed bool
	err    error

	completed   bool
	doneCh      chan struct{}
	subscribers []func(error)
}

func newPlan(g *Graph, targets []string) *Plan {
	id := uuid.NewString()
	root := fmt.Sprintf("__plan_%s_root__", id)
	var uniq []string
	for _, t := range targets {
		if !slices.Contains(uniq, t) {
			uniq = append(uniq, t)
		}
	}
	return &Plan{
		g:        g,
		id:       id,
		root:     root,
		targets:  uniq,
		parents:  map[string][]string{root: {}},
		children: map[string][]string{root: {}},
		done:     make(map[string]bool),
		ran:      make(map[string]bool),
		doneCh:   make(chan struct{}),
	}
}

func (p *Plan) init() {
	for _, t := range p.targets {
		p.inject(t, p.root)
	}
}

// ID returns the unique plan id.
func (p *Plan) ID() string { return p.id }

// Root returns the id of the synthetic root node.
func (p *Plan) Root() string { return p.root }

// Graph returns the graph the plan was created from.
func (p *Plan) Graph() *Graph { return p.g }

// Targets returns the ids still hanging directly under the root.
func (p *Plan) Targets() []string {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return slices.Clone(p.children[p.root])
}

// inject links child under parent and pulls in the child's subgraph, then
// recomputes which of the injected nodes are ready.
func (p *Plan) inject(child, parent string) {
	var touched []string
	seen := make(map[string]bool)
	if !p.injectTree(child, parent, seen, &touched) {
		return
	}

	candidates := p.collectLeaves(child)
	for _, id := range touched {
		if len(p.children[id]) == 0 && !slices.Contains(candidates, id) {
			candidates = append(candidates, id)
		}
	}
	p.refactorJobs(candidates)
}

func (p *Plan) injectTree(child, parent string, seen map[string]bool, touched *[]string) bool {
	if !p.hasNode(parent) || p.done[child] || p.done[parent] {
		return false
	}
	p.addEdge(child, parent)
	if seen[child] {
		return true
	}
	seen[child] = true
	*touched = append(*touched, child)
	for _, c := range p.g.children[child] {
		p.injectTree(c, child, seen, touched)
	}
	return true
}

func (p *Plan) addEdge(child, parent string) {
	if _, ok := p.parents[child]; !ok {
		p.parents[child] = []string{}
	}
	if _, ok := p.children[child]; !ok {
		p.children[child] = []string{}
	}
	if !slices.Contains(p.children[parent], child) {
		p.children[parent] = append(p.children[parent], child)
	}
	if !slices.Contains(p.parents[child], parent) {
		p.parents[child] = append(p.parents[child], parent)
	}
}

// refactorJobs drops queued jobs that gained children and queues the
// candidates that are neither active nor done.
func (p *Plan) refactorJobs(candidates []string) {
	jobs := make([]string, 0, len(p.jobs)+len(candidates))
	for _, j := range p.jobs {
		if len(p.children[j]) == 0 {
			jobs = append(jobs, j)
		}
	}
	for _, c := range candidates {
		if c == p.root || !p.hasNode(c) || len(p.children[c]) > 0 {
			continue
		}
		if slices.Contains(jobs, c) || slices.Contains(p.active, c) || p.done[c] {
			continue
		}
		jobs = append(jobs, c)
	}
	p.jobs = jobs
}

// CollectLeaves returns the nodes reachable from id through the graph that
// have no children, skipping nodes already done in this plan.
func (p *Plan) CollectLeaves(id string) []string {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return p.collectLeaves(id)
}

func (p *Plan) collectLeaves(id string) []string {
	var leaves []string
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		if seen[id] || p.done[id] {
			return
		}
		seen[id] = true
		children := p.g.children[id]
		if len(children) == 0 {
			leaves = append(leaves, id)
			return
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(id)
	return leaves
}

// Link injects each child, with everything it depends on, under each
// parent. Without parents the children are linked under the root.
func (p *Plan) Link(children []string, parents ...string) {
	if len(parents) == 0 {
		parents = []string{p.root}
	}
	_ = p.g.update(func() error {
		for _, c := range children {
			for _, parent := range parents {
				p.inject(c, parent)
			}
		}
		return nil
	})
}

// Unlink removes the plan-local relation between id1 and id2. An endpoint
// left without parents is re-rooted.
func (p *Plan) Unlink(id1, id2 string) error {
	return p.g.update(func() error {
		return p.unlink(id1, id2)
	})
}

func (p *Plan) unlink(id1, id2 string) error {
	if err := p.require(id1, id2); err != nil {
		return err
	}
	p.children[id1] = without(p.children[id1], id2)
	p.parents[id1] = without(p.parents[id1], id2)
	p.children[id2] = without(p.children[id2], id1)
	p.parents[id2] = without(p.parents[id2], id1)
	p.reroot(id1)
	p.reroot(id2)
	p.rescan(id1, id2)
	return nil
}

func (p *Plan) reroot(id string) {
	if id != p.root && len(p.parents[id]) == 0 {
		p.addEdge(id, p.root)
	}
}

// rescan re-evaluates whether each id is ready.
func (p *Plan) rescan(ids ...string) {
	for _, id := range ids {
		if id == p.root || !p.hasNode(id) {
			continue
		}
		for _, parent := range p.parents[id] {
			p.removeJob(parent)
		}
		if len(p.children[id]) == 0 {
			p.release(id)
		}
	}
}

// RemoveNode drops id from the plan. Orphaned children are re-rooted and
// the former parents may become ready.
func (p *Plan) RemoveNode(id string) error {
	return p.g.update(func() error {
		if err := p.require(id); err != nil {
			return err
		}
		p.removeNode(id)
		return nil
	})
}

func (p *Plan) removeNode(id string) {
	parents := slices.Clone(p.parents[id])
	children := slices.Clone(p.children[id])
	for _, parent := range parents {
		p.children[parent] = without(p.children[parent], id)
	}
	for _, c := range children {
		p.parents[c] = without(p.parents[c], id)
		p.reroot(c)
	}
	delete(p.parents, id)
	delete(p.children, id)
	p.removeJob(id)
	p.active = without(p.active, id)
	delete(p.ran, id)
	p.rescan(parents...)
}

// RemoveTree removes id and its plan-local descendants. Unless forced, a
// descendant survives while it still has a parent outside the removed set.
func (p *Plan) RemoveTree(id string, forced bool) error {
	return p.g.update(func() error {
		if err := p.require(id); err != nil {
			return err
		}
		for _, n := range treeRemovalOrder(id, p.children, p.parents, forced) {
			if p.hasNode(n) {
				p.removeNode(n)
			}
		}
		return nil
	})
}

// NextJob moves a ready job to the active set. With an empty id the head of
// the queue is taken, otherwise only the named job if it is ready. Nothing
// is returned while the plan is locked.
func (p *Plan) NextJob(id string) (Job, bool) {
	var job Job
	var ok bool
	_ = p.g.update(func() error {
		job, ok = p.nextJob(id)
		return nil
	})
	return job, ok
}

func (p *Plan) nextJob(id string) (Job, bool) {
	if !p.dispatchable() || len(p.jobs) == 0 {
		return Job{}, false
	}
	i := 0
	if id != "" {
		if i = slices.Index(p.jobs, id); i == -1 {
			return Job{}, false
		}
	}
	id = p.jobs[i]
	p.jobs = slices.Delete(p.jobs, i, i+1)
	p.active = append(p.active, id)
	return Job{ID: id, Node: p.g.node(id)}, true
}

// CheckNextJob returns the first ready job skip does not reject, leaving
// the queue untouched.
func (p *Plan) CheckNextJob(skip func(id string) bool) (Job, bool) {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if !p.dispatchable() {
		return Job{}, false
	}
	for _, id := range p.jobs {
		if skip == nil || !skip(id) {
			return Job{ID: id, Node: p.g.node(id)}, true
		}
	}
	return Job{}, false
}

// ReadyJobs returns the queued job ids in dispatch order, or nothing while
// the plan cannot dispatch.
func (p *Plan) ReadyJobs() []string {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if !p.dispatchable() {
		return nil
	}
	return slices.Clone(p.jobs)
}

func (p *Plan) dispatchable() bool {
	return p.locked == 0 && !p.failed && !p.completed
}

// OnJobDone records a successful run of id and releases its parents.
func (p *Plan) OnJobDone(id string) error {
	return p.g.update(func() error {
		return p.jobDone(id)
	})
}

func (p *Plan) jobDone(id string) error {
	if !p.g.has(id) {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	if p.done[id] || !p.hasNode(id) {
		p.active = without(p.active, id)
		return nil
	}
	p.removeJob(id)
	if len(p.children[id]) > 0 {
		if !slices.Contains(p.active, id) {
			p.active = append(p.active, id)
		}
		p.ran[id] = true
		p.g.logger.Debug("Job ran before its new dependencies; deferring completion.", "plan", p.id, "job", id, "pending", p.children[id])
		return nil
	}
	p.finalize(id)
	return nil
}

func (p *Plan) finalize(id string) {
	parents := slices.Clone(p.parents[id])
	delete(p.parents, id)
	delete(p.children, id)
	delete(p.ran, id)
	p.active = without(p.active, id)
	p.removeJob(id)
	p.done[id] = true
	p.doneOrder = append(p.doneOrder, id)

	for _, parent := range parents {
		p.children[parent] = without(p.children[parent], id)
		if len(p.children[parent]) == 0 {
			p.release(parent)
		}
	}
}

// release handles a node that no longer waits for anything.
func (p *Plan) release(id string) {
	if id == p.root {
		return
	}
	if p.ran[id] {
		p.finalize(id)
		return
	}
	p.addJob(id)
}

func (p *Plan) addJob(id string) {
	if p.done[id] || slices.Contains(p.active, id) || slices.Contains(p.jobs, id) {
		return
	}
	p.jobs = append(p.jobs, id)
}

func (p *Plan) removeJob(id string) {
	p.jobs = without(p.jobs, id)
}

// OnJobFail fails the whole plan.
func (p *Plan) OnJobFail(id string, err error) {
	_ = p.g.update(func() error {
		p.fail(err)
		p.active = without(p.active, id)
		return nil
	})
}

// Abort fails the plan without a job being involved.
func (p *Plan) Abort(err error) {
	_ = p.g.update(func() error {
		p.fail(err)
		return nil
	})
}

func (p *Plan) fail(err error) {
	if p.failed || p.completed {
		return
	}
	p.failed = true
	p.err = err
}

// AllDone reports whether the plan has nothing left to do.
func (p *Plan) AllDone() bool {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return p.allDone()
}

func (p *Plan) allDone() bool {
	return p.locked == 0 &&
		len(p.jobs) == 0 &&
		len(p.active) == 0 &&
		len(p.children[p.root]) == 0
}

// settle marks the plan completed once it is done or failed and queues the
// completion subscribers. It reports whether the plan completed just now.
func (p *Plan) settle() bool {
	if p.completed || !(p.failed || p.allDone()) {
		return false
	}
	p.completed = true
	close(p.doneCh)
	err := p.err
	for _, fn := range p.subscribers {
		p.g.later(func() { fn(err) })
	}
	p.subscribers = nil
	return true
}

// OnDone registers fn to run once when the plan completes, with the failure
// if there was one. Registering after completion runs fn right away.
func (p *Plan) OnDone(fn func(err error)) {
	_ = p.g.update(func() error {
		if p.completed {
			err := p.err
			p.g.later(func() { fn(err) })
			return nil
		}
		p.subscribers = append(p.subscribers, fn)
		return nil
	})
}

// Done is closed when the plan completes.
func (p *Plan) Done() <-chan struct{} { return p.doneCh }

// Err returns the failure the plan completed with.
func (p *Plan) Err() error {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return p.err
}

// Failed reports whether a job of the plan failed.
func (p *Plan) Failed() bool {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return p.failed
}

// Lock pauses dispatch for this plan only.
func (p *Plan) Lock() {
	_ = p.g.update(func() error {
		p.locked++
		return nil
	})
}

// Unlock releases one Lock. Extra calls are ignored.
func (p *Plan) Unlock() {
	_ = p.g.update(func() error {
		if p.locked > 0 {
			p.locked--
		}
		return nil
	})
}

// Locked reports whether dispatch is paused.
func (p *Plan) Locked() bool {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return p.locked > 0
}

// ActiveJobs returns the ids dispatched and not yet finalized.
func (p *Plan) ActiveJobs() []string {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return slices.Clone(p.active)
}

// DoneJobs returns the finalized ids in completion order.
func (p *Plan) DoneJobs() []string {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return slices.Clone(p.doneOrder)
}

// HasNode reports whether id is part of the plan's pending structure.
func (p *Plan) HasNode(id string) bool {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	return p.hasNode(id)
}

func (p *Plan) hasNode(id string) bool {
	_, ok := p.parents[id]
	return ok
}

func (p *Plan) require(ids ...string) error {
	for _, id := range ids {
		if !p.hasNode(id) {
			return fmt.Errorf("%w: %q in plan %s", ErrUnknownID, id, p.id)
		}
	}
	return nil
}

// Children returns the plan-local children of id.
func (p *Plan) Children(id string) ([]string, error) {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if err := p.require(id); err != nil {
		return nil, err
	}
	return slices.Clone(p.children[id]), nil
}

// Parents returns the plan-local parents of id.
func (p *Plan) Parents(id string) ([]string, error) {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if err := p.require(id); err != nil {
		return nil, err
	}
	return slices.Clone(p.parents[id]), nil
}

// HasChildren reports whether every one of ids is a plan-local child of id.
func (p *Plan) HasChildren(id string, ids ...string) (bool, error) {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if err := p.require(id); err != nil {
		return false, err
	}
	return containsAll(p.children[id], ids), nil
}

// HasParents reports whether every one of ids is a plan-local parent of id.
func (p *Plan) HasParents(id string, ids ...string) (bool, error) {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if err := p.require(id); err != nil {
		return false, err
	}
	return containsAll(p.parents[id], ids), nil
}

// Snapshot copies the pending structure of the plan.
func (p *Plan) Snapshot() Snapshot {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	nodes := make([]string, 0, len(p.parents))
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		nodes = append(nodes, id)
		for _, c := range p.children[id] {
			walk(c)
		}
	}
	walk(p.root)
	return Snapshot{
		Name:     fmt.Sprintf("Plan[%s]", p.id),
		Roots:    []string{p.root},
		Nodes:    nodes,
		Children: cloneAdjacency(p.children),
	}
}
