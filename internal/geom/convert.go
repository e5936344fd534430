// Package geom converts between orb geometries, used for storage and export,
// and GEOS geometries, used for validity, repair and predicates.
package geom

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
)

// RingCoords converts a ring to GEOS coordinates
func RingCoords(r orb.Ring) [][]float64 {
	coords := make([][]float64, len(r))
	for i, p := range r {
		coords[i] = []float64{p[0], p[1]}
	}
	return coords
}

// PolygonCoords converts a polygon to GEOS coordinates
func PolygonCoords(p orb.Polygon) [][][]float64 {
	coords := make([][][]float64, len(p))
	for i, r := range p {
		coords[i] = RingCoords(r)
	}
	return coords
}

// FromPolygon builds a GEOS polygon in gctx
func FromPolygon(gctx *geos.Context, p orb.Polygon) *geos.Geom {
	return gctx.NewPolygon(PolygonCoords(p))
}

// FromRing builds a hole-free GEOS polygon from a ring
func FromRing(gctx *geos.Context, r orb.Ring) *geos.Geom {
	return gctx.NewPolygon([][][]float64{RingCoords(r)})
}

// FromMultiPolygon builds a GEOS multipolygon in gctx
func FromMultiPolygon(gctx *geos.Context, mp orb.MultiPolygon) *geos.Geom {
	if len(mp) == 0 {
		return Empty(gctx)
	}
	polys := make([]*geos.Geom, len(mp))
	for i, p := range mp {
		polys[i] = FromPolygon(gctx, p)
	}
	return gctx.NewCollection(geos.TypeIDMultiPolygon, polys)
}

// Empty returns an empty multipolygon
func Empty(gctx *geos.Context) *geos.Geom {
	g, err := gctx.NewGeomFromWKT("MULTIPOLYGON EMPTY")
	if err != nil {
		panic(err)
	}
	return g
}

// ToMultiPolygon converts a polygonal GEOS geometry to orb. Non-polygonal
// parts of a collection are ignored.
func ToMultiPolygon(g *geos.Geom) (orb.MultiPolygon, error) {
	if g == nil || g.IsEmpty() {
		return orb.MultiPolygon{}, nil
	}

	switch g.TypeID() {
	case geos.TypeIDPolygon:
		return orb.MultiPolygon{toPolygon(g)}, nil
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		mp := make(orb.MultiPolygon, 0, g.NumGeometries())
		for i := 0; i < g.NumGeometries(); i++ {
			part := g.Geometry(i)
			if part.IsEmpty() {
				continue
			}
			switch part.TypeID() {
			case geos.TypeIDPolygon:
				mp = append(mp, toPolygon(part))
			case geos.TypeIDMultiPolygon:
				sub, err := ToMultiPolygon(part)
				if err != nil {
					return nil, err
				}
				mp = append(mp, sub...)
			}
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("geometry type %v is not polygonal", g.TypeID())
	}
}

func toPolygon(g *geos.Geom) orb.Polygon {
	p := orb.Polygon{toRing(g.ExteriorRing())}
	for i := 0; i < g.NumInteriorRings(); i++ {
		p = append(p, toRing(g.InteriorRing(i)))
	}
	return p
}

func toRing(g *geos.Geom) orb.Ring {
	coords := g.CoordSeq().ToCoords()
	r := make(orb.Ring, len(coords))
	for i, c := range coords {
		r[i] = orb.Point{c[0], c[1]}
	}
	return r
}

// Perimeter returns the total boundary length of a polygonal geometry
func Perimeter(g *geos.Geom) float64 {
	return g.Length()
}

// Catch runs fn and converts a GEOS panic into an error
func Catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("geos: %w", e)
				return
			}
			err = fmt.Errorf("geos: %v", r)
		}
	}()
	fn()
	return nil
}
