package element

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Arena holds every element seen during one import run, keyed by id.
// Ways and relations refer to other elements by key, so shared nodes are
// stored once. An Arena is safe for concurrent use.
type Arena struct {
	mu        sync.RWMutex
	nodes     map[int64]Element
	ways      map[int64]Element
	relations map[int64]Element
}

// NewArena creates an empty arena
func NewArena() *Arena {
	a := &Arena{}
	a.Reset()
	return a
}

// Reset drops everything, ending the arena's lifetime for the current run
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes = make(map[int64]Element)
	a.ways = make(map[int64]Element)
	a.relations = make(map[int64]Element)
}

func (a *Arena) table(t osm.Type) map[int64]Element {
	switch t {
	case osm.TypeNode:
		return a.nodes
	case osm.TypeWay:
		return a.ways
	case osm.TypeRelation:
		return a.relations
	}
	return nil
}

// Add stores e. A placeholder never replaces a resolved element.
func (a *Arena) Add(e Element) {
	k := e.Key()
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.table(k.Type)
	if t == nil {
		return
	}
	if existing, ok := t[k.ID]; ok && IsPlaceholder(e) && !IsPlaceholder(existing) {
		return
	}
	t[k.ID] = e
}

// Get returns the element stored under k, resolved or placeholder
func (a *Arena) Get(k Key) (Element, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t := a.table(k.Type)
	if t == nil {
		return nil, false
	}
	e, ok := t[k.ID]
	return e, ok
}

// Resolved reports whether k is present and not a placeholder
func (a *Arena) Resolved(k Key) bool {
	e, ok := a.Get(k)
	return ok && !IsPlaceholder(e)
}

// Node returns a resolved node
func (a *Arena) Node(id int64) (*Node, bool) {
	e, ok := a.Get(NodeKey(id))
	if !ok {
		return nil, false
	}
	n, ok := e.(*Node)
	return n, ok
}

// Way returns a resolved way
func (a *Arena) Way(id int64) (*Way, bool) {
	e, ok := a.Get(WayKey(id))
	if !ok {
		return nil, false
	}
	w, ok := e.(*Way)
	return w, ok
}

// Relation returns a resolved relation
func (a *Arena) Relation(id int64) (*Relation, bool) {
	e, ok := a.Get(RelationKey(id))
	if !ok {
		return nil, false
	}
	r, ok := e.(*Relation)
	return r, ok
}

// Member returns the arena's current view of a relation member
func (a *Arena) Member(m Member) Element {
	if e, ok := a.Get(m.Ref); ok {
		return e
	}
	return Placeholder{K: m.Ref}
}

// Len returns the number of stored elements per type
func (a *Arena) Len() (nodes, ways, relations int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes), len(a.ways), len(a.relations)
}

// Ring resolves the coordinates of a way
func (a *Arena) Ring(w *Way) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(w.Nodes))
	for _, id := range w.Nodes {
		n, ok := a.Node(id)
		if !ok || !n.Located {
			return nil, &MissingNodeError{WayID: w.ID, NodeID: id}
		}
		ring = append(ring, n.Point)
	}
	return ring, nil
}
