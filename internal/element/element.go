package element

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Key identifies an element independent of whether it has been resolved
type Key struct {
	Type osm.Type
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Type, k.ID)
}

// ParseKey parses "relation/123" style keys. Single-letter type prefixes
// such as "r123" are accepted too.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	var typ, id string
	if i := strings.IndexByte(s, '/'); i >= 0 {
		typ, id = s[:i], s[i+1:]
	} else if len(s) > 1 {
		typ, id = s[:1], s[1:]
	}

	var t osm.Type
	switch strings.ToLower(typ) {
	case "n", "node":
		t = osm.TypeNode
	case "w", "way":
		t = osm.TypeWay
	case "r", "relation":
		t = osm.TypeRelation
	default:
		return Key{}, fmt.Errorf("invalid element key %q", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Key{}, fmt.Errorf("invalid element id in %q", s)
	}
	return Key{Type: t, ID: n}, nil
}

// NodeKey, WayKey and RelationKey build keys for the three element types
func NodeKey(id int64) Key     { return Key{Type: osm.TypeNode, ID: id} }
func WayKey(id int64) Key      { return Key{Type: osm.TypeWay, ID: id} }
func RelationKey(id int64) Key { return Key{Type: osm.TypeRelation, ID: id} }

// Element is a node, way, relation or a placeholder for one of them.
// Two elements are equal iff their keys are equal.
type Element interface {
	Key() Key
}

// Equal compares elements by key only, so a placeholder equals its resolved counterpart
func Equal(a, b Element) bool {
	return a.Key() == b.Key()
}

// IsPlaceholder reports whether e is known only by its key
func IsPlaceholder(e Element) bool {
	_, ok := e.(Placeholder)
	return ok
}

// Placeholder stands in for an element referenced but not (yet) available
type Placeholder struct {
	K Key
}

func (p Placeholder) Key() Key { return p.K }

// Node is an OSM node. Located is false for nodes without coordinates.
type Node struct {
	ID      int64
	Point   orb.Point // lon, lat
	Located bool
	Tags    map[string]string
}

func (n *Node) Key() Key { return NodeKey(n.ID) }

// Way references its nodes by id; coordinates live in the Arena.
type Way struct {
	ID    int64
	Nodes []int64
	Tags  map[string]string

	// Parts lists the source way ids of a way produced by joining fragments
	Parts []int64
}

func (w *Way) Key() Key { return WayKey(w.ID) }

// Closed reports whether the first and last node are the same node
func (w *Way) Closed() bool {
	return len(w.Nodes) > 0 && w.Nodes[0] == w.Nodes[len(w.Nodes)-1]
}

// First returns the id of the first node
func (w *Way) First() int64 { return w.Nodes[0] }

// Last returns the id of the last node
func (w *Way) Last() int64 { return w.Nodes[len(w.Nodes)-1] }

// Reversed returns a copy of the way with its node order reversed
func (w *Way) Reversed() *Way {
	nodes := make([]int64, len(w.Nodes))
	for i, id := range w.Nodes {
		nodes[len(nodes)-1-i] = id
	}
	return &Way{ID: w.ID, Nodes: nodes, Tags: w.Tags, Parts: w.Parts}
}

// Member is a relation member. The member itself is looked up in the Arena.
type Member struct {
	Ref  Key
	Role string
}

// Relation is an OSM relation
type Relation struct {
	ID      int64
	Members []Member
	Tags    map[string]string
}

func (r *Relation) Key() Key { return RelationKey(r.ID) }

// Tags returns the tags of a resolved element, nil for placeholders
func Tags(e Element) map[string]string {
	switch v := e.(type) {
	case *Node:
		return v.Tags
	case *Way:
		return v.Tags
	case *Relation:
		return v.Tags
	}
	return nil
}

// Tag returns the value of a tag on any resolved element
func Tag(e Element, key string) (string, bool) {
	val, ok := Tags(e)[key]
	return val, ok
}

// MissingNodeError is returned when a way references a node that is absent or has no location
type MissingNodeError struct {
	WayID  int64
	NodeID int64
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("way %d references missing node %d", e.WayID, e.NodeID)
}
