package boundary

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/mapit-go/internal/element"
)

// OuterRoles are member roles that contribute outer rings
var OuterRoles = map[string]bool{"outer": true, "exclave": true, "": true}

// InnerRoles are member roles that contribute holes
var InnerRoles = map[string]bool{"inner": true, "enclave": true}

// Builder turns boundary relations and closed ways into polygons using the
// coordinates held in an arena. A Builder is not safe for concurrent use
// because its GEOS context is not.
type Builder struct {
	arena *element.Arena
	gctx  *geos.Context
}

// NewBuilder creates a builder
func NewBuilder(arena *element.Arena, gctx *geos.Context) *Builder {
	return &Builder{arena: arena, gctx: gctx}
}

// Build dispatches on the element type
func (b *Builder) Build(e element.Element) (orb.MultiPolygon, error) {
	switch v := e.(type) {
	case *element.Relation:
		return b.Relation(v)
	case *element.Way:
		return b.Way(v)
	}
	return nil, fmt.Errorf("cannot build a boundary from %s", e.Key())
}

// Way builds the polygon enclosed by a single closed way
func (b *Builder) Way(w *element.Way) (orb.MultiPolygon, error) {
	if !w.Closed() {
		return nil, &UnclosedBoundaryError{Endpoints: map[int64]int64{w.First(): w.ID, w.Last(): w.ID}}
	}
	ring, err := b.arena.Ring(w)
	if err != nil {
		return nil, err
	}
	return MultiPolygon(GroupRings(b.gctx, []orb.Ring{ring}, nil)), nil
}

// Relation joins the relation's outer and inner way members into rings and groups them
func (b *Builder) Relation(rel *element.Relation) (orb.MultiPolygon, error) {
	var outerWays, innerWays []element.Element
	for _, m := range rel.Members {
		if m.Ref.Type != osm.TypeWay {
			continue
		}
		member := b.arena.Member(m)
		switch {
		case OuterRoles[m.Role]:
			outerWays = append(outerWays, member)
		case InnerRoles[m.Role]:
			innerWays = append(innerWays, member)
		}
	}

	outers, err := b.rings(outerWays)
	if err != nil {
		return nil, fmt.Errorf("relation %d outer rings: %w", rel.ID, err)
	}
	inners, err := b.rings(innerWays)
	if err != nil {
		return nil, fmt.Errorf("relation %d inner rings: %w", rel.ID, err)
	}

	return MultiPolygon(GroupRings(b.gctx, outers, inners)), nil
}

func (b *Builder) rings(ways []element.Element) ([]orb.Ring, error) {
	joined, err := JoinWaySoup(ways)
	if err != nil {
		return nil, err
	}
	rings := make([]orb.Ring, 0, len(joined))
	for _, w := range joined {
		r, err := b.arena.Ring(w)
		if err != nil {
			return nil, err
		}
		rings = append(rings, r)
	}
	return rings, nil
}
