package boundary

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/mapit-go/internal/geom"
)

// MinRingPoints is the smallest closed ring that encloses area
const MinRingPoints = 4

// Group is one outer ring with the holes assigned to it
type Group struct {
	Outer  orb.Ring
	Inners []orb.Ring
}

// Polygon returns the group as an orb polygon
func (g Group) Polygon() orb.Polygon {
	p := make(orb.Polygon, 0, 1+len(g.Inners))
	p = append(p, g.Outer)
	return append(p, g.Inners...)
}

// GroupRings assigns each inner ring to the first outer ring it intersects.
// Outer rings with fewer than four points are ignored, an inner ring is
// never assigned twice and inner rings no outer claims are dropped.
func GroupRings(gctx *geos.Context, outers, inners []orb.Ring) []Group {
	claimed := make([]bool, len(inners))
	groups := make([]Group, 0, len(outers))

	for _, outer := range outers {
		if len(outer) < MinRingPoints {
			continue
		}
		g := Group{Outer: outer}
		outerGeom := ringGeom(gctx, outer)

		for i, inner := range inners {
			if claimed[i] || len(inner) < MinRingPoints {
				continue
			}
			if intersects(gctx, outerGeom, outer, inner) {
				claimed[i] = true
				g.Inners = append(g.Inners, inner)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// MultiPolygon converts groups to an orb multipolygon
func MultiPolygon(groups []Group) orb.MultiPolygon {
	mp := make(orb.MultiPolygon, 0, len(groups))
	for _, g := range groups {
		mp = append(mp, g.Polygon())
	}
	return mp
}

func ringGeom(gctx *geos.Context, r orb.Ring) *geos.Geom {
	var g *geos.Geom
	if err := geom.Catch(func() { g = geom.FromRing(gctx, r) }); err != nil {
		return nil
	}
	return g
}

// intersects tests polygon intersection with GEOS, falling back to a
// vertex-in-ring test when a ring is too broken for GEOS to handle
func intersects(gctx *geos.Context, outerGeom *geos.Geom, outer, inner orb.Ring) bool {
	if outerGeom != nil {
		var hit bool
		err := geom.Catch(func() {
			hit = outerGeom.Intersects(geom.FromRing(gctx, inner))
		})
		if err == nil {
			return hit
		}
	}
	for _, p := range inner {
		if planar.RingContains(outer, p) {
			return true
		}
	}
	return false
}
