package graph

import (
	"context"
	"fmt"
)

// Action is the work a node performs. The Exec carries the graph and the
// plan the job was dispatched for, so an action may mutate either while it
// runs.
type Action func(ctx context.Context, x *Exec) error

// Node is a unit of work known to a Graph.
type Node interface {
	ID() string
	// Action returns nil for nodes that have nothing to run.
	Action() Action
}

// Capability tells the scheduler how to dispatch a node.
type Capability int

const (
	// Inert nodes complete immediately without running anything.
	Inert Capability = iota
	// Runnable nodes have an Action.
	Runnable
)

func (c Capability) String() string {
	if c == Runnable {
		return "runnable"
	}
	return "inert"
}

// CapabilityOf reports whether n has an action to run.
func CapabilityOf(n Node) Capability {
	if n.Action() != nil {
		return Runnable
	}
	return Inert
}

type basicNode struct {
	id     string
	action Action
}

func (n *basicNode) ID() string     { return n.id }
func (n *basicNode) Action() Action { return n.action }

// NewNode returns a node running action. A nil action makes the node inert.
func NewNode(id string, action Action) Node {
	return &basicNode{id: id, action: action}
}

// NewInert returns a node with no action.
func NewInert(id string) Node {
	return &basicNode{id: id}
}

// missingNode is handed out for ids the graph does not know about.
func missingNode(id string) Node {
	return NewNode(id, func(context.Context, *Exec) error {
		return fmt.Errorf("%w '%s'", ErrNoRuleForTarget, id)
	})
}

// Exec is the execution context of a running job.
type Exec struct {
	Graph *Graph
	Plan  *Plan
	JobID string
}

type execKey struct{}

// WithExec attaches x to ctx.
func WithExec(ctx context.Context, x *Exec) context.Context {
	return context.WithValue(ctx, execKey{}, x)
}

// ExecFromContext returns the execution context attached by the scheduler,
// if any.
func ExecFromContext(ctx context.Context) (*Exec, bool) {
	x, ok := ctx.Value(execKey{}).(*Exec)
	return x, ok
}
