// Package graph holds the dependency graph of a build and the plans that
// execute parts of it.
//
// # Model
//
// A Graph stores Nodes by id together with parent/child adjacency. A parent
// depends on its children, so children are built first:
//
//	    A            A is built last
//	   / \
//	  B   C
//	   \ /
//	    D            D is built first, exactly once
//
// Links may name ids that do not exist yet. Such links are kept in a pending
// table keyed by the missing id and become real links when that id is added.
//
// A Plan is created from a Graph for a set of targets. It copies the part of
// the graph reachable from the targets below a synthetic root and moves each
// node through the states
//
//	unlinked -> queued -> active -> done
//
// Graph mutations are pushed into every plan that is still running, so a
// node's action can add new dependencies while the build is in flight.
//
// # Locking
//
// Graph.Lock and Plan.Lock are counters, not mutexes. While a graph is
// locked none of its plans hands out new jobs, which lets an action perform
// several mutations that must not be observed half done:
//
//	err := x.Graph.WithLock(func() error {
//	    if err := x.Graph.AddNode(graph.NewInert("gen"), []string{"app"}, nil); err != nil {
//	        return err
//	    }
//	    return x.Graph.AddNode(graph.NewInert("lib"), []string{"app"}, nil)
//	})
//
// # Thread-Safety
//
// All exported methods are safe for concurrent use. A single mutex guards a
// graph and all of its plans. Plan completion callbacks and watchers run
// after that mutex is released, so they may call back into the graph.
package graph
