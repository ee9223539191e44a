package graph

import (
	"cmp"
	"slices"
)

// edge is a parent -> child relation.
type edge struct {
	child  string
	parent string
}

func (e edge) touches(id string) bool {
	return e.child == id || e.parent == id
}

func (e edge) other(id string) string {
	if e.child == id {
		return e.parent
	}
	return e.child
}

// lazyLinks holds edges recorded before one or both endpoints existed. Each
// edge is indexed under every endpoint that was missing when it was recorded
// and carries the number of times it was requested.
type lazyLinks struct {
	byID map[string]map[edge]int
}

func newLazyLinks() *lazyLinks {
	return &lazyLinks{byID: make(map[string]map[edge]int)}
}

func (l *lazyLinks) add(e edge, missing ...string) {
	for _, id := range missing {
		refs, ok := l.byID[id]
		if !ok {
			refs = make(map[edge]int)
			l.byID[id] = refs
		}
		refs[e]++
	}
}

// release withdraws one request for e. The edge stays pending while other
// requests remain.
func (l *lazyLinks) release(e edge) {
	for id, refs := range l.byID {
		n, ok := refs[e]
		if !ok {
			continue
		}
		if n > 1 {
			refs[e] = n - 1
			continue
		}
		delete(refs, e)
		if len(refs) == 0 {
			delete(l.byID, id)
		}
	}
}

// resolve removes every edge waiting on id and returns the ones whose other
// endpoint exists as well. Edges still missing their other endpoint stay
// indexed under it.
func (l *lazyLinks) resolve(id string, exists func(string) bool) []edge {
	refs, ok := l.byID[id]
	if !ok {
		return nil
	}
	delete(l.byID, id)

	var ready []edge
	for e := range refs {
		other := e.other(id)
		if other != id && !exists(other) {
			continue
		}
		l.forget(other, e)
		ready = append(ready, e)
	}
	sortEdges(ready)
	return ready
}

// drop purges every pending edge touching id.
func (l *lazyLinks) drop(id string) {
	refs := l.byID[id]
	delete(l.byID, id)
	for e := range refs {
		l.forget(e.other(id), e)
	}
	for key, others := range l.byID {
		for e := range others {
			if e.touches(id) {
				delete(others, e)
			}
		}
		if len(others) == 0 {
			delete(l.byID, key)
		}
	}
}

// purge removes pending edges between a and b in either direction.
func (l *lazyLinks) purge(a, b string) {
	for _, e := range []edge{{child: a, parent: b}, {child: b, parent: a}} {
		l.forget(e.child, e)
		l.forget(e.parent, e)
	}
}

func (l *lazyLinks) forget(id string, e edge) {
	refs, ok := l.byID[id]
	if !ok {
		return
	}
	delete(refs, e)
	if len(refs) == 0 {
		delete(l.byID, id)
	}
}

func (l *lazyLinks) count() int {
	seen := make(map[edge]struct{})
	for _, refs := range l.byID {
		for e := range refs {
			seen[e] = struct{}{}
		}
	}
	return len(seen)
}

func (l *lazyLinks) refs(e edge) int {
	n := 0
	for _, refs := range l.byID {
		if c := refs[e]; c > n {
			n = c
		}
	}
	return n
}

func sortEdges(edges []edge) {
	slices.SortFunc(edges, func(a, b edge) int {
		if c := cmp.Compare(a.parent, b.parent); c != 0 {
			return c
		}
		return cmp.Compare(a.child, b.child)
	})
}
