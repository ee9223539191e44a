package graph

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Graph is the canonical set of nodes and their dependency edges. A parent
// depends on its children: children are built first.
//
// Every mutation is propagated to the plans created from the graph that are
// still running. One mutex guards the graph together with all of its plans.
type Graph struct {
	mu     sync.Mutex
	logger *slog.Logger

	nodes    map[string]Node
	order    []string
	parents  map[string][]string
	children map[string][]string
	lazy     *lazyLinks

	plans     map[string]*Plan
	planOrder []string
	lockDepth int

	watchers   map[int]func()
	watcherSeq int
	pending    []func()
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for graph and plan diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates and returns an initialized, empty Graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		logger:   slog.New(slog.DiscardHandler),
		nodes:    make(map[string]Node),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
		lazy:     newLazyLinks(),
		plans:    make(map[string]*Plan),
		watchers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// update runs fn under the graph mutex, settles plans that finished as a
// result and then, with the mutex released, runs queued callbacks followed
// by the watchers.
func (g *Graph) update(fn func() error) error {
	var after []func()
	err := func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		err := fn()
		g.settlePlans()
		after = g.pending
		g.pending = nil
		for _, id := range sortedKeys(g.watchers) {
			after = append(after, g.watchers[id])
		}
		return err
	}()
	for _, f := range after {
		f()
	}
	return err
}

func (g *Graph) view(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// later queues f to run once the mutex is released. Callers hold the mutex.
func (g *Graph) later(f func()) {
	g.pending = append(g.pending, f)
}

// Watch registers fn to be called after every mutation and every unlock.
// The returned function removes the registration.
func (g *Graph) Watch(fn func()) (cancel func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watcherSeq++
	id := g.watcherSeq
	g.watchers[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.watchers, id)
	}
}

// AddNode adds n and links it under parents and over children. Ids that do
// not exist yet are recorded as pending links and materialized when they are
// added. Pending links waiting for n are materialized as well.
func (g *Graph) AddNode(n Node, parents, children []string) error {
	return g.update(func() error {
		return g.addNode(n, parents, children)
	})
}

func (g *Graph) addNode(n Node, parents, children []string) error {
	id := n.ID()
	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	if slices.Contains(parents, id) || slices.Contains(children, id) {
		return fmt.Errorf("%w: %q linked to itself", ErrLoopDetected, id)
	}
	for _, c := range children {
		for _, p := range parents {
			if c == p || g.reaches(c, p) {
				return fmt.Errorf("%w: %q would depend on itself through %q and %q", ErrLoopDetected, id, c, p)
			}
		}
	}

	g.nodes[id] = n
	g.order = append(g.order, id)
	g.parents[id] = []string{}
	g.children[id] = []string{}

	for _, p := range parents {
		g.linkOrDefer(id, p)
	}
	for _, c := range children {
		g.linkOrDefer(c, id)
	}
	g.materialize(id)

	g.logger.Debug("Node added.", "id", id, "capability", CapabilityOf(n), "parents", parents, "children", children)
	return nil
}

func (g *Graph) linkOrDefer(child, parent string) {
	var missing []string
	if !g.has(child) {
		missing = append(missing, child)
	}
	if !g.has(parent) {
		missing = append(missing, parent)
	}
	if len(missing) > 0 {
		g.lazy.add(edge{child: child, parent: parent}, missing...)
		return
	}
	g.link(child, parent)
}

// materialize turns pending links waiting for id into real ones.
func (g *Graph) materialize(id string) {
	for _, e := range g.lazy.resolve(id, g.has) {
		if g.linked(e.child, e.parent) {
			continue
		}
		if err := g.checkLoop(e.child, e.parent); err != nil {
			g.logger.Warn("Dropping pending link.", "child", e.child, "parent", e.parent, "error", err)
			continue
		}
		g.link(e.child, e.parent)
	}
}

// SetNode adds n, or replaces the node holding the same id.
func (g *Graph) SetNode(n Node, parents, children []string) error {
	return g.update(func() error {
		if g.has(n.ID()) {
			return g.replaceNode(n, parents, children)
		}
		return g.addNode(n, parents, children)
	})
}

// ReplaceNode swaps the node stored under n's id. With nil parents and
// children the existing links are kept; otherwise the node is re-linked from
// scratch.
func (g *Graph) ReplaceNode(n Node, parents, children []string) error {
	return g.update(func() error {
		return g.replaceNode(n, parents, children)
	})
}

func (g *Graph) replaceNode(n Node, parents, children []string) error {
	id := n.ID()
	if !g.has(id) {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	if parents != nil || children != nil {
		if err := g.checkRelink(id, parents, children); err != nil {
			return err
		}
		g.removeNode(id)
		return g.addNode(n, parents, children)
	}
	g.nodes[id] = n
	return nil
}

// checkRelink runs the loop checks of addNode as if id and its links were
// already gone.
func (g *Graph) checkRelink(id string, parents, children []string) error {
	if slices.Contains(parents, id) || slices.Contains(children, id) {
		return fmt.Errorf("%w: %q linked to itself", ErrLoopDetected, id)
	}
	for _, c := range children {
		for _, p := range parents {
			if c == p || g.reachesAvoiding(c, p, id) {
				return fmt.Errorf("%w: %q would depend on itself through %q and %q", ErrLoopDetected, id, c, p)
			}
		}
	}
	return nil
}

// RemoveNode detaches id from all of its relatives and drops it.
func (g *Graph) RemoveNode(id string) error {
	return g.update(func() error {
		if err := g.require(id); err != nil {
			return err
		}
		g.removeNode(id)
		return nil
	})
}

func (g *Graph) removeNode(id string) {
	for _, p := range g.parents[id] {
		g.children[p] = without(g.children[p], id)
	}
	for _, c := range g.children[id] {
		g.parents[c] = without(g.parents[c], id)
	}
	delete(g.nodes, id)
	delete(g.parents, id)
	delete(g.children, id)
	g.order = without(g.order, id)
	g.lazy.drop(id)

	for _, p := range g.planList() {
		if p.hasNode(id) {
			p.removeNode(id)
		}
	}
	g.logger.Debug("Node removed.", "id", id)
}

// RemoveTree removes id and its descendants. Unless forced, a descendant
// survives while it still has a parent outside the removed set.
func (g *Graph) RemoveTree(id string, forced bool) error {
	return g.update(func() error {
		if err := g.require(id); err != nil {
			return err
		}
		for _, n := range treeRemovalOrder(id, g.children, g.parents, forced) {
			g.removeNode(n)
		}
		return nil
	})
}

// treeRemovalOrder returns the ids removed with root, descendants first.
func treeRemovalOrder(root string, children, parents map[string][]string, forced bool) []string {
	var desc []string
	seen := map[string]bool{root: true}
	var collect func(string)
	collect = func(id string) {
		for _, c := range children[id] {
			if !seen[c] {
				seen[c] = true
				desc = append(desc, c)
				collect(c)
			}
		}
	}
	collect(root)

	removed := map[string]bool{root: true}
	for changed := true; changed; {
		changed = false
		for _, d := range desc {
			if removed[d] {
				continue
			}
			if forced || allIn(parents[d], removed) {
				removed[d] = true
				changed = true
			}
		}
	}

	var order []string
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, c := range children[id] {
			if removed[c] {
				walk(c)
			}
		}
		order = append(order, id)
	}
	walk(root)
	return order
}

// Link makes every child a dependency of every parent. Linking an existing
// edge again is a no-op. Nothing is linked if any pair would form a loop.
func (g *Graph) Link(children, parents []string) error {
	return g.update(func() error {
		if err := g.require(children...); err != nil {
			return err
		}
		if err := g.require(parents...); err != nil {
			return err
		}
		for _, c := range children {
			for _, p := range parents {
				if g.linked(c, p) {
					continue
				}
				if err := g.checkLoop(c, p); err != nil {
					return err
				}
			}
		}
		for _, c := range children {
			for _, p := range parents {
				g.link(c, p)
			}
		}
		return nil
	})
}

// LinkLazy is Link for ids that may not exist yet. Pairs with a missing
// side are kept pending and counted until both ends are added.
func (g *Graph) LinkLazy(children, parents []string) error {
	return g.update(func() error {
		for _, c := range children {
			for _, p := range parents {
				if !g.has(c) || !g.has(p) || g.linked(c, p) {
					continue
				}
				if err := g.checkLoop(c, p); err != nil {
					return err
				}
			}
		}
		for _, c := range children {
			for _, p := range parents {
				g.linkOrDefer(c, p)
			}
		}
		return nil
	})
}

// UnlinkLazy withdraws one LinkLazy request per pair still pending. A pair
// requested several times stays pending until every request is withdrawn.
// Links already materialized are left alone; use Unlink for those.
func (g *Graph) UnlinkLazy(children, parents []string) {
	_ = g.update(func() error {
		for _, c := range children {
			for _, p := range parents {
				g.lazy.release(edge{child: c, parent: p})
			}
		}
		return nil
	})
}

func (g *Graph) link(child, parent string) {
	if g.linked(child, parent) {
		return
	}
	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)

	for _, p := range g.planList() {
		if p.hasNode(parent) {
			p.inject(child, parent)
		}
	}
}

func (g *Graph) linked(child, parent string) bool {
	return slices.Contains(g.children[parent], child)
}

func (g *Graph) checkLoop(child, parent string) error {
	if child == parent || g.reaches(child, parent) {
		return fmt.Errorf("%w: %q cannot depend on %q", ErrLoopDetected, parent, child)
	}
	return nil
}

// reaches reports whether to is a descendant of from.
func (g *Graph) reaches(from, to string) bool {
	return g.reachesAvoiding(from, to, "")
}

// reachesAvoiding is reaches with paths through skip ignored.
func (g *Graph) reachesAvoiding(from, to, skip string) bool {
	if from == skip {
		return false
	}
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range g.children[id] {
			if c == skip {
				continue
			}
			if c == to {
				return true
			}
			if !seen[c] {
				seen[c] = true
				stack = append(stack, c)
			}
		}
	}
	return false
}

// Unlink removes any relation between id1 and id2, in both directions.
func (g *Graph) Unlink(id1, id2 string) error {
	return g.update(func() error {
		if err := g.require(id1, id2); err != nil {
			return err
		}
		g.children[id1] = without(g.children[id1], id2)
		g.parents[id1] = without(g.parents[id1], id2)
		g.children[id2] = without(g.children[id2], id1)
		g.parents[id2] = without(g.parents[id2], id1)
		g.lazy.purge(id1, id2)

		for _, p := range g.planList() {
			if p.hasNode(id1) && p.hasNode(id2) {
				if err := p.unlink(id1, id2); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Lock pauses dispatch of new jobs for every plan of the graph. Locks nest.
func (g *Graph) Lock() {
	_ = g.update(func() error {
		g.lockDepth++
		for _, p := range g.planList() {
			p.locked++
		}
		return nil
	})
}

// Unlock releases one Lock. Extra calls are ignored.
func (g *Graph) Unlock() {
	_ = g.update(func() error {
		if g.lockDepth == 0 {
			return nil
		}
		g.lockDepth--
		for _, p := range g.planList() {
			if p.locked > 0 {
				p.locked--
			}
		}
		return nil
	})
}

// WithLock runs fn between Lock and Unlock. The lock is released on every
// exit path, panics included.
func (g *Graph) WithLock(fn func() error) error {
	g.Lock()
	defer g.Unlock()
	return fn()
}

// LockDepth returns the number of unreleased Lock calls.
func (g *Graph) LockDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockDepth
}

// Node returns the node stored under id. Unknown ids yield a node whose
// action fails with ErrNoRuleForTarget.
func (g *Graph) Node(id string) Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node(id)
}

func (g *Graph) node(id string) Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	return missingNode(id)
}

// HasNode reports whether id is stored in the graph.
func (g *Graph) HasNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.has(id)
}

func (g *Graph) has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) require(ids ...string) error {
	for _, id := range ids {
		if !g.has(id) {
			return fmt.Errorf("%w: %q", ErrUnknownID, id)
		}
	}
	return nil
}

// Nodes returns all node ids in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.order)
}

// Children returns the ids id depends on.
func (g *Graph) Children(id string) ([]string, error) {
	var out []string
	var err error
	g.view(func() {
		if err = g.require(id); err == nil {
			out = slices.Clone(g.children[id])
		}
	})
	return out, err
}

// Parents returns the ids depending on id.
func (g *Graph) Parents(id string) ([]string, error) {
	var out []string
	var err error
	g.view(func() {
		if err = g.require(id); err == nil {
			out = slices.Clone(g.parents[id])
		}
	})
	return out, err
}

// HasChildren reports whether every one of ids is a child of id.
func (g *Graph) HasChildren(id string, ids ...string) (bool, error) {
	var ok bool
	var err error
	g.view(func() {
		if err = g.require(id); err == nil {
			ok = containsAll(g.children[id], ids)
		}
	})
	return ok, err
}

// HasParents reports whether every one of ids is a parent of id.
func (g *Graph) HasParents(id string, ids ...string) (bool, error) {
	var ok bool
	var err error
	g.view(func() {
		if err = g.require(id); err == nil {
			ok = containsAll(g.parents[id], ids)
		}
	})
	return ok, err
}

// Roots returns the ids nothing depends on, in insertion order.
func (g *Graph) Roots() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// PendingLinks returns the number of links waiting for a missing node.
func (g *Graph) PendingLinks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lazy.count()
}

// Plans returns the plans that have not completed yet, oldest first.
func (g *Graph) Plans() []*Plan {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.planList()
}

// Snapshot copies the structure of the graph.
func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Name:     "Graph",
		Roots:    g.rootsLocked(),
		Nodes:    slices.Clone(g.order),
		Children: cloneAdjacency(g.children),
	}
}

func (g *Graph) rootsLocked() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// CreatePlan creates a plan building targets and everything they depend on.
// The plan stays registered with the graph until it completes.
func (g *Graph) CreatePlan(targets ...string) *Plan {
	p := newPlan(g, targets)
	_ = g.update(func() error {
		p.locked = g.lockDepth
		g.plans[p.id] = p
		g.planOrder = append(g.planOrder, p.id)
		p.init()
		g.logger.Debug("Plan created.", "plan", p.id, "targets", p.targets)
		return nil
	})
	return p
}

func (g *Graph) planList() []*Plan {
	plans := make([]*Plan, 0, len(g.planOrder))
	for _, id := range g.planOrder {
		plans = append(plans, g.plans[id])
	}
	return plans
}

// settlePlans completes and unregisters plans that are done or failed.
func (g *Graph) settlePlans() {
	for _, p := range g.planList() {
		if !p.settle() {
			continue
		}
		delete(g.plans, p.id)
		g.planOrder = without(g.planOrder, p.id)
		g.logger.Debug("Plan completed.", "plan", p.id, "failed", p.failed)
	}
}

// Snapshot is a copy of a graph or plan structure for dumping.
type Snapshot struct {
	Name     string
	Roots    []string
	Nodes    []string
	Children map[string][]string
}

func cloneAdjacency(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

func without(list []string, id string) []string {
	i := slices.Index(list, id)
	if i == -1 {
		return list
	}
	return slices.Delete(list, i, i+1)
}

func containsAll(list, ids []string) bool {
	for _, id := range ids {
		if !slices.Contains(list, id) {
			return false
		}
	}
	return true
}

func allIn(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if !set[id] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[int]func()) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
