package graph

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func add(t *testing.T, g *Graph, id string, parents ...string) {
	t.Helper()
	require.NoError(t, g.AddNode(NewInert(id), parents, nil))
}

// simpleGraph is A -> B -> C.
func simpleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	add(t, g, "A")
	add(t, g, "B", "A")
	add(t, g, "C", "B")
	return g
}

// diamondGraph is A -> {B, C} -> D.
func diamondGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	add(t, g, "A")
	add(t, g, "B", "A")
	add(t, g, "C", "A")
	add(t, g, "D", "B", "C")
	return g
}

// wideGraph is A -> {B, D}, B -> C, D -> E, {C, E} -> F, F -> G.
func wideGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	add(t, g, "A")
	add(t, g, "B", "A")
	add(t, g, "D", "A")
	add(t, g, "C", "B")
	add(t, g, "E", "D")
	add(t, g, "F", "C", "E")
	add(t, g, "G", "F")
	return g
}

func hasChildren(t *testing.T, g *Graph, id string, ids ...string) bool {
	t.Helper()
	ok, err := g.HasChildren(id, ids...)
	require.NoError(t, err)
	return ok
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.Nodes())
	assert.Empty(t, g.Roots())
	assert.Zero(t, g.LockDepth())
}

func TestGraphGetters(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NewNode("A", func(context.Context, *Exec) error { return nil }), nil, nil))
	add(t, g, "B", "A")

	t.Run("stored node", func(t *testing.T) {
		n := g.Node("A")
		assert.Equal(t, "A", n.ID())
		assert.Equal(t, Runnable, CapabilityOf(n))
		assert.Equal(t, Inert, CapabilityOf(g.Node("B")))
	})

	t.Run("missing node fails when run", func(t *testing.T) {
		n := g.Node("XXX")
		assert.Equal(t, "XXX", n.ID())
		require.NotNil(t, n.Action())
		err := n.Action()(context.Background(), &Exec{Graph: g})
		assert.ErrorIs(t, err, ErrNoRuleForTarget)
		assert.EqualError(t, err, "no rule to make target 'XXX'")
		assert.False(t, g.HasNode("XXX"))
	})

	t.Run("adjacency", func(t *testing.T) {
		children, err := g.Children("A")
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, children)

		parents, err := g.Parents("B")
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, parents)

		_, err = g.Children("XXX")
		assert.ErrorIs(t, err, ErrUnknownID)
	})

	t.Run("roots and order", func(t *testing.T) {
		assert.Equal(t, []string{"A", "B"}, g.Nodes())
		assert.Equal(t, []string{"A"}, g.Roots())
	})
}

func TestGraphAddNode(t *testing.T) {
	t.Run("links parents and children", func(t *testing.T) {
		g := simpleGraph(t)
		require.NoError(t, g.AddNode(NewInert("new"), []string{"A"}, []string{"B"}))

		assert.True(t, g.HasNode("new"))
		parents, _ := g.Parents("new")
		children, _ := g.Children("new")
		assert.Equal(t, []string{"A"}, parents)
		assert.Equal(t, []string{"B"}, children)
	})

	t.Run("duplicate id", func(t *testing.T) {
		g := simpleGraph(t)
		err := g.AddNode(NewInert("B"), nil, nil)
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("loop through parents and children", func(t *testing.T) {
		g := simpleGraph(t)
		err := g.AddNode(NewInert("X"), []string{"C"}, []string{"A"})
		assert.ErrorIs(t, err, ErrLoopDetected)
		assert.False(t, g.HasNode("X"))
	})
}

func TestGraphSetAndReplaceNode(t *testing.T) {
	run := func(n Node) error {
		return n.Action()(context.Background(), nil)
	}
	marker := errors.New("new C")
	replacement := NewNode("C", func(context.Context, *Exec) error { return marker })

	t.Run("set adds a new node", func(t *testing.T) {
		g := diamondGraph(t)
		require.NoError(t, g.SetNode(NewInert("new"), []string{"A"}, []string{"D"}))
		assert.True(t, hasChildren(t, g, "A", "new"))
		assert.True(t, hasChildren(t, g, "new", "D"))
	})

	t.Run("set relinks an existing node", func(t *testing.T) {
		g := diamondGraph(t)
		require.NoError(t, g.SetNode(replacement, []string{"A"}, []string{"B"}))

		assert.ErrorIs(t, run(g.Node("C")), marker)
		parents, _ := g.Parents("C")
		children, _ := g.Children("C")
		assert.Equal(t, []string{"A"}, parents)
		assert.Equal(t, []string{"B"}, children)
		dParents, _ := g.Parents("D")
		assert.Equal(t, []string{"B"}, dParents)
	})

	t.Run("replace keeps links when none given", func(t *testing.T) {
		g := diamondGraph(t)
		require.NoError(t, g.ReplaceNode(replacement, nil, nil))

		assert.ErrorIs(t, run(g.Node("C")), marker)
		assert.True(t, hasChildren(t, g, "A", "B", "C"))
		assert.True(t, hasChildren(t, g, "C", "D"))
	})

	t.Run("relink may reverse old links", func(t *testing.T) {
		g := simpleGraph(t)
		require.NoError(t, g.ReplaceNode(NewInert("B"), []string{"C"}, []string{"A"}))
		assert.True(t, hasChildren(t, g, "C", "B"))
		assert.True(t, hasChildren(t, g, "B", "A"))
	})

	t.Run("failed relink keeps the node", func(t *testing.T) {
		g := diamondGraph(t)
		plan := g.CreatePlan("A")

		err := g.ReplaceNode(NewInert("B"), []string{"D"}, []string{"A"})
		require.ErrorIs(t, err, ErrLoopDetected)

		assert.True(t, g.HasNode("B"))
		assert.True(t, hasChildren(t, g, "A", "B", "C"))
		assert.True(t, hasChildren(t, g, "B", "D"))
		assert.True(t, plan.HasNode("B"))
		ok, err := plan.HasChildren("B", "D")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failed relink through itself keeps the node", func(t *testing.T) {
		g := simpleGraph(t)
		err := g.ReplaceNode(NewInert("B"), []string{"C"}, []string{"C"})
		require.ErrorIs(t, err, ErrLoopDetected)

		assert.True(t, g.HasNode("B"))
		assert.True(t, hasChildren(t, g, "A", "B"))
		assert.True(t, hasChildren(t, g, "B", "C"))
	})

	t.Run("replace unknown node", func(t *testing.T) {
		g := diamondGraph(t)
		err := g.ReplaceNode(NewInert("XXX"), nil, nil)
		assert.ErrorIs(t, err, ErrUnknownID)
	})
}

func TestGraphHasParentsAndChildren(t *testing.T) {
	g := New()
	add(t, g, "A1")
	add(t, g, "A2")
	add(t, g, "B", "A1")
	add(t, g, "C", "A1", "A2")

	cases := []struct {
		name string
		fn   func(string, ...string) (bool, error)
		id   string
		ids  []string
		want bool
	}{
		{"parents B", g.HasParents, "B", []string{"A1"}, true},
		{"parents C[A1 A2]", g.HasParents, "C", []string{"A1", "A2"}, true},
		{"parents absent", g.HasParents, "B", []string{"XXX"}, false},
		{"parents C[A1 A2 absent]", g.HasParents, "C", []string{"A1", "A2", "XXX"}, false},
		{"children A1", g.HasChildren, "A1", []string{"B"}, true},
		{"children A1[B C]", g.HasChildren, "A1", []string{"B", "C"}, true},
		{"children A1[B C absent]", g.HasChildren, "A1", []string{"B", "C", "XXX"}, false},
		{"children absent", g.HasChildren, "A1", []string{"XXX"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn(tc.id, tc.ids...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := g.HasParents("XXX", "A1")
	assert.ErrorIs(t, err, ErrUnknownID)
}

func TestGraphRemoveNode(t *testing.T) {
	t.Run("leaf", func(t *testing.T) {
		g := New()
		add(t, g, "A")
		add(t, g, "B", "A")

		require.NoError(t, g.RemoveNode("B"))
		assert.False(t, g.HasNode("B"))
		children, _ := g.Children("A")
		assert.Empty(t, children)
	})

	t.Run("inner node", func(t *testing.T) {
		g := New()
		add(t, g, "A")
		add(t, g, "B", "A")

		require.NoError(t, g.RemoveNode("A"))
		assert.False(t, g.HasNode("A"))
		parents, _ := g.Parents("B")
		assert.Empty(t, parents)
		assert.Equal(t, []string{"B"}, g.Roots())
	})

	t.Run("unknown id", func(t *testing.T) {
		g := New()
		assert.ErrorIs(t, g.RemoveNode("A"), ErrUnknownID)
	})
}

func TestGraphLink(t *testing.T) {
	t.Run("link twice yields one edge", func(t *testing.T) {
		g := New()
		add(t, g, "A")
		add(t, g, "B")

		require.NoError(t, g.Link([]string{"B"}, []string{"A"}))
		require.NoError(t, g.Link([]string{"B"}, []string{"A"}))

		children, _ := g.Children("A")
		parents, _ := g.Parents("B")
		assert.Equal(t, []string{"B"}, children)
		assert.Equal(t, []string{"A"}, parents)
	})

	t.Run("unknown ids", func(t *testing.T) {
		g := New()
		add(t, g, "A")
		assert.ErrorIs(t, g.Link([]string{"XXX"}, []string{"A"}), ErrUnknownID)
		assert.ErrorIs(t, g.Link([]string{"A"}, []string{"XXX"}), ErrUnknownID)
	})

	t.Run("loops", func(t *testing.T) {
		g := simpleGraph(t)
		assert.ErrorIs(t, g.Link([]string{"A"}, []string{"A"}), ErrLoopDetected)
		assert.ErrorIs(t, g.Link([]string{"A"}, []string{"C"}), ErrLoopDetected)
		assert.False(t, hasChildren(t, g, "C", "A"))
	})

	t.Run("loop in a later pair links nothing", func(t *testing.T) {
		g := simpleGraph(t)
		add(t, g, "X")

		err := g.Link([]string{"X", "A"}, []string{"C"})
		require.ErrorIs(t, err, ErrLoopDetected)

		children, _ := g.Children("C")
		assert.Empty(t, children)
		parents, _ := g.Parents("X")
		assert.Empty(t, parents)
	})

	t.Run("lazy loop in a later pair links nothing", func(t *testing.T) {
		g := simpleGraph(t)
		add(t, g, "X")

		err := g.LinkLazy([]string{"X", "later", "A"}, []string{"C"})
		require.ErrorIs(t, err, ErrLoopDetected)

		children, _ := g.Children("C")
		assert.Empty(t, children)
		assert.Zero(t, g.PendingLinks())
	})
}

func TestGraphUnlink(t *testing.T) {
	g := New()
	add(t, g, "A")
	add(t, g, "B", "A")

	require.NoError(t, g.Unlink("B", "A"))
	require.NoError(t, g.Unlink("B", "A"))

	children, _ := g.Children("A")
	parents, _ := g.Parents("B")
	assert.Empty(t, children)
	assert.Empty(t, parents)

	assert.ErrorIs(t, g.Unlink("B", "XXX"), ErrUnknownID)
}

func TestGraphRemoveTree(t *testing.T) {
	t.Run("diamond unforced keeps shared child", func(t *testing.T) {
		g := diamondGraph(t)
		require.NoError(t, g.RemoveTree("C", false))

		assert.True(t, hasChildren(t, g, "A", "B"))
		assert.False(t, hasChildren(t, g, "A", "C"))
		assert.True(t, hasChildren(t, g, "B", "D"))
		assert.False(t, g.HasNode("C"))
	})

	t.Run("diamond forced removes shared child", func(t *testing.T) {
		g := diamondGraph(t)
		require.NoError(t, g.RemoveTree("C", true))

		assert.True(t, hasChildren(t, g, "A", "B"))
		assert.False(t, hasChildren(t, g, "A", "C"))
		assert.False(t, hasChildren(t, g, "B", "D"))
		assert.False(t, g.HasNode("C"))
		assert.False(t, g.HasNode("D"))
	})

	t.Run("wide unforced", func(t *testing.T) {
		g := wideGraph(t)
		require.NoError(t, g.RemoveTree("D", false))

		assert.True(t, hasChildren(t, g, "A", "B"))
		assert.True(t, hasChildren(t, g, "B", "C"))
		assert.True(t, hasChildren(t, g, "C", "F"))
		assert.True(t, hasChildren(t, g, "F", "G"))
		assert.False(t, g.HasNode("D"))
		assert.False(t, g.HasNode("E"))
	})

	t.Run("wide forced", func(t *testing.T) {
		g := wideGraph(t)
		require.NoError(t, g.RemoveTree("D", true))

		assert.True(t, hasChildren(t, g, "A", "B"))
		assert.True(t, hasChildren(t, g, "B", "C"))
		assert.False(t, hasChildren(t, g, "C", "F"))
		for _, id := range []string{"D", "E", "F", "G"} {
			assert.False(t, g.HasNode(id), id)
		}
	})

	t.Run("apex unforced removes everything", func(t *testing.T) {
		g := diamondGraph(t)
		require.NoError(t, g.RemoveTree("A", false))
		assert.Empty(t, g.Nodes())
	})

	t.Run("unknown id", func(t *testing.T) {
		g := diamondGraph(t)
		assert.ErrorIs(t, g.RemoveTree("XXX", false), ErrUnknownID)
	})
}

func TestGraphLazyLinks(t *testing.T) {
	t.Run("parent added later", func(t *testing.T) {
		g := New()
		add(t, g, "B", "A")

		assert.False(t, g.HasNode("A"))
		assert.Equal(t, 1, g.PendingLinks())

		add(t, g, "A")
		assert.True(t, hasChildren(t, g, "A", "B"))
		assert.Zero(t, g.PendingLinks())
	})

	t.Run("both ends added later", func(t *testing.T) {
		g := New()
		require.NoError(t, g.LinkLazy([]string{"lib"}, []string{"app"}))
		require.NoError(t, g.LinkLazy([]string{"lib"}, []string{"app"}))
		assert.Equal(t, 1, g.PendingLinks())
		assert.Equal(t, 2, g.lazy.refs(edge{child: "lib", parent: "app"}))

		add(t, g, "app")
		assert.Equal(t, 1, g.PendingLinks())
		add(t, g, "lib")
		assert.True(t, hasChildren(t, g, "app", "lib"))
		assert.Zero(t, g.PendingLinks())
	})

	t.Run("each request needs a release", func(t *testing.T) {
		g := New()
		require.NoError(t, g.LinkLazy([]string{"lib"}, []string{"app"}))
		require.NoError(t, g.LinkLazy([]string{"lib"}, []string{"app"}))

		g.UnlinkLazy([]string{"lib"}, []string{"app"})
		assert.Equal(t, 1, g.PendingLinks())
		assert.Equal(t, 1, g.lazy.refs(edge{child: "lib", parent: "app"}))

		g.UnlinkLazy([]string{"lib"}, []string{"app"})
		assert.Zero(t, g.PendingLinks())

		add(t, g, "app")
		add(t, g, "lib")
		assert.False(t, hasChildren(t, g, "app", "lib"))
	})

	t.Run("release after one end exists", func(t *testing.T) {
		g := New()
		require.NoError(t, g.LinkLazy([]string{"lib"}, []string{"app"}))
		add(t, g, "app")

		g.UnlinkLazy([]string{"lib"}, []string{"app"})
		assert.Zero(t, g.PendingLinks())
		add(t, g, "lib")
		assert.False(t, hasChildren(t, g, "app", "lib"))
	})

	t.Run("existing ends link right away", func(t *testing.T) {
		g := simpleGraph(t)
		require.NoError(t, g.LinkLazy([]string{"C"}, []string{"A"}))
		assert.True(t, hasChildren(t, g, "A", "B", "C"))
		assert.ErrorIs(t, g.LinkLazy([]string{"A"}, []string{"C"}), ErrLoopDetected)
	})

	t.Run("loop is dropped", func(t *testing.T) {
		var logs bytes.Buffer
		g := New(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
		add(t, g, "B", "A")
		add(t, g, "A", "B")

		assert.True(t, hasChildren(t, g, "B", "A"))
		assert.False(t, hasChildren(t, g, "A", "B"))
		assert.Zero(t, g.PendingLinks())
		assert.Contains(t, logs.String(), "Dropping pending link.")
	})

	t.Run("removal drops pending links", func(t *testing.T) {
		g := New()
		add(t, g, "B", "A")
		require.NoError(t, g.RemoveNode("B"))
		assert.Zero(t, g.PendingLinks())

		add(t, g, "A")
		children, _ := g.Children("A")
		assert.Empty(t, children)
	})
}

func TestGraphLock(t *testing.T) {
	g := simpleGraph(t)

	g.Lock()
	g.Lock()
	assert.Equal(t, 2, g.LockDepth())
	g.Unlock()
	assert.Equal(t, 1, g.LockDepth())
	g.Unlock()
	assert.Equal(t, 0, g.LockDepth())
	g.Unlock()
	assert.Equal(t, 0, g.LockDepth())
}

func TestGraphWithLock(t *testing.T) {
	t.Run("locked while fn runs", func(t *testing.T) {
		g := New()
		var depth int
		err := g.WithLock(func() error {
			depth = g.LockDepth()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, depth)
		assert.Zero(t, g.LockDepth())
	})

	t.Run("error is returned and lock released", func(t *testing.T) {
		g := New()
		boom := errors.New("boom")
		assert.ErrorIs(t, g.WithLock(func() error { return boom }), boom)
		assert.Zero(t, g.LockDepth())
	})

	t.Run("panic is re-raised and lock released", func(t *testing.T) {
		g := New()
		assert.PanicsWithValue(t, "boom", func() {
			_ = g.WithLock(func() error { panic("boom") })
		})
		assert.Zero(t, g.LockDepth())
	})
}

func TestGraphWatch(t *testing.T) {
	g := New()
	calls := 0
	cancel := g.Watch(func() { calls++ })

	add(t, g, "A")
	g.Lock()
	g.Unlock()
	assert.Equal(t, 3, calls)

	cancel()
	add(t, g, "B")
	assert.Equal(t, 3, calls)
}

func TestGraphSnapshot(t *testing.T) {
	g := diamondGraph(t)
	s := g.Snapshot()

	assert.Equal(t, "Graph", s.Name)
	assert.Equal(t, []string{"A"}, s.Roots)
	assert.Equal(t, []string{"A", "B", "C", "D"}, s.Nodes)
	assert.Equal(t, []string{"B", "C"}, s.Children["A"])

	s.Children["A"] = nil
	assert.True(t, hasChildren(t, g, "A", "B", "C"))
}
