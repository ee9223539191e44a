package buildfile

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/graph"
)

// killGrace bounds how long a canceled command may keep its output open.
const killGrace = 2 * time.Second

// Options controls the nodes created from targets.
type Options struct {
	// Stdout and Stderr receive command output. They default to the
	// process streams.
	Stdout io.Writer
	Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

// NewGraph builds a fresh graph from m.
func NewGraph(ctx context.Context, m *Model, opts Options) (*graph.Graph, error) {
	g := graph.New(graph.WithLogger(ctxlog.FromContext(ctx)))
	if err := Populate(ctx, g, m, opts); err != nil {
		return nil, err
	}
	return g, nil
}

// Populate adds a node per target to g. Unless m declares it, a DefaultTarget
// node is added that depends on every target nothing else depends on.
func Populate(ctx context.Context, g *graph.Graph, m *Model, opts Options) error {
	logger := ctxlog.FromContext(ctx)
	opts = opts.withDefaults()

	for _, t := range m.Targets {
		for _, dep := range t.DependsOn {
			if _, ok := m.Target(dep); !ok && !g.HasNode(dep) {
				return fmt.Errorf("%w '%s', needed by '%s'", graph.ErrNoRuleForTarget, dep, t.Name)
			}
		}
	}

	err := g.WithLock(func() error {
		for _, t := range m.Targets {
			if err := g.AddNode(NewNode(t, opts), nil, t.DependsOn); err != nil {
				return fmt.Errorf("failed to add target '%s' from %s: %w", t.Name, t.Source, err)
			}
		}
		for _, t := range m.Targets {
			ok, err := g.HasChildren(t.Name, t.DependsOn...)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: target '%s' depends on itself through %s", graph.ErrLoopDetected, t.Name, strings.Join(t.DependsOn, ", "))
			}
		}
		if _, ok := m.Target(DefaultTarget); ok || g.HasNode(DefaultTarget) {
			return nil
		}
		return g.AddNode(defaultNode(m), nil, topLevel(m))
	})
	if err != nil {
		return err
	}

	logger.Debug("Graph populated from build files.", "targets", len(m.Targets), "nodes", len(g.Nodes()))
	return nil
}

// topLevel returns the targets no other target depends on.
func topLevel(m *Model) []string {
	var names []string
	for _, t := range m.Targets {
		needed := slices.ContainsFunc(m.Targets, func(o *Target) bool {
			return slices.Contains(o.DependsOn, t.Name)
		})
		if !needed {
			names = append(names, t.Name)
		}
	}
	return names
}

func defaultNode(m *Model) graph.Node {
	if len(m.Targets) > 0 {
		return graph.NewInert(DefaultTarget)
	}
	return graph.NewNode(DefaultTarget, func(ctx context.Context, _ *graph.Exec) error {
		ctxlog.FromContext(ctx).Info(fmt.Sprintf("Nothing to be done for '%s'.", DefaultTarget))
		return nil
	})
}

// NewNode returns the node running t. Inert targets get no action.
func NewNode(t *Target, opts Options) graph.Node {
	if t.Inert() {
		return graph.NewInert(t.Name)
	}
	opts = opts.withDefaults()
	return graph.NewNode(t.Name, func(ctx context.Context, _ *graph.Exec) error {
		return run(ctx, t, opts)
	})
}

func run(ctx context.Context, t *Target, opts Options) error {
	logger := ctxlog.FromContext(ctx)
	if t.Message != "" {
		logger.Info(t.Message, "target", t.Name)
	}
	if len(t.Command) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	cmd.Dir = t.WorkDir()
	cmd.Env = os.Environ()
	if cmd.Dir != "" {
		if dir, err := filepath.Abs(cmd.Dir); err == nil {
			cmd.Env = append(cmd.Env, "PWD="+dir)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(t.Env)) {
		cmd.Env = append(cmd.Env, k+"="+t.Env[k])
	}
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.WaitDelay = killGrace

	logger.Info("Running command.", "target", t.Name, "command", strings.Join(t.Command, " "), "dir", cmd.Dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q: %w", strings.Join(t.Command, " "), err)
	}
	return nil
}
