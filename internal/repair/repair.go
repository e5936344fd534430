package repair

import (
	"math"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/geom"
	"github.com/wegman-software/mapit-go/internal/logger"
)

// DefaultMaxPerimeterChange is the largest relative perimeter change a repair may cause
const DefaultMaxPerimeterChange = 0.01

// Strategy names the repair that produced a geometry
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyBuffer
	StrategyPolygonize
)

func (s Strategy) String() string {
	switch s {
	case StrategyBuffer:
		return "buffer"
	case StrategyPolygonize:
		return "polygonize"
	}
	return "none"
}

// Result is the outcome of repairing a polygonal geometry. An empty Geom
// means nothing could be salvaged; callers decide whether to skip it.
type Result struct {
	Geom     *geos.Geom
	Strategy Strategy
	Repaired int
	Dropped  int
}

// Empty reports whether the repair left nothing usable
func (r Result) Empty() bool {
	return r.Geom == nil || r.Geom.IsEmpty()
}

// Repairer makes invalid polygons and multipolygons valid. All geometries
// passed in must belong to the repairer's GEOS context.
type Repairer struct {
	gctx               *geos.Context
	maxPerimeterChange float64
	log                *zap.Logger
}

// New creates a repairer bound to gctx
func New(gctx *geos.Context) *Repairer {
	return &Repairer{
		gctx:               gctx,
		maxPerimeterChange: DefaultMaxPerimeterChange,
		log:                logger.Named("repair"),
	}
}

// WithMaxPerimeterChange overrides the acceptance threshold
func (r *Repairer) WithMaxPerimeterChange(f float64) *Repairer {
	r.maxPerimeterChange = f
	return r
}

// Fix repairs a polygon or multipolygon. Valid input is returned unchanged.
// Each part of a multipolygon is repaired on its own, unrepairable parts are
// dropped and the survivors are unioned.
func (r *Repairer) Fix(g *geos.Geom) Result {
	if g == nil || g.IsEmpty() {
		return Result{Geom: geom.Empty(r.gctx)}
	}
	if valid(g) {
		return Result{Geom: g}
	}

	if g.TypeID() == geos.TypeIDPolygon {
		fixed, strategy, ok := r.FixPolygon(g)
		if !ok {
			return Result{Geom: geom.Empty(r.gctx), Dropped: 1}
		}
		return Result{Geom: fixed, Strategy: strategy, Repaired: 1}
	}

	res := Result{}
	parts := make([]*geos.Geom, 0, g.NumGeometries())
	for i := 0; i < g.NumGeometries(); i++ {
		part := g.Geometry(i)
		if part.IsEmpty() {
			continue
		}
		if valid(part) {
			parts = append(parts, part)
			continue
		}
		fixed, strategy, ok := r.FixPolygon(part)
		if !ok {
			res.Dropped++
			r.log.Debug("Dropping unrepairable part", zap.Int("part", i))
			continue
		}
		res.Repaired++
		if strategy > res.Strategy {
			res.Strategy = strategy
		}
		parts = append(parts, fixed)
	}

	if len(parts) == 0 {
		res.Geom = geom.Empty(r.gctx)
		return res
	}

	var merged *geos.Geom
	err := geom.Catch(func() { merged = union(parts) })
	if err != nil || !valid(merged) {
		r.log.Debug("Union of repaired parts failed", zap.Error(err))
		res.Geom = geom.Empty(r.gctx)
		res.Dropped += len(parts)
		return res
	}
	res.Geom = merged
	return res
}

// FixPolygon tries a zero-width buffer and then re-polygonizing the noded
// rings. A strategy is accepted only when its result is valid and its
// perimeter is close to the original's.
func (r *Repairer) FixPolygon(p *geos.Geom) (*geos.Geom, Strategy, bool) {
	if valid(p) {
		return p, StrategyNone, true
	}

	var original float64
	if err := geom.Catch(func() { original = p.Length() }); err != nil || original == 0 {
		return nil, StrategyNone, false
	}

	strategies := []struct {
		strategy Strategy
		apply    func(*geos.Geom) *geos.Geom
	}{
		{StrategyBuffer, func(g *geos.Geom) *geos.Geom { return g.Buffer(0, 8) }},
		{StrategyPolygonize, r.polygonize},
	}

	for _, s := range strategies {
		var fixed *geos.Geom
		if err := geom.Catch(func() { fixed = s.apply(p) }); err != nil {
			r.log.Debug("Repair strategy failed", zap.Stringer("strategy", s.strategy), zap.Error(err))
			continue
		}
		if fixed == nil || fixed.IsEmpty() || !valid(fixed) {
			continue
		}
		if change := math.Abs(fixed.Length()-original) / original; change >= r.maxPerimeterChange {
			r.log.Debug("Repair changed perimeter too much",
				zap.Stringer("strategy", s.strategy), zap.Float64("change", change))
			continue
		}
		return fixed, s.strategy, true
	}
	return nil, StrategyNone, false
}

// polygonize nodes each ring against itself, rebuilds simple polygons from
// the resulting linework and subtracts the rebuilt holes from the rebuilt shell
func (r *Repairer) polygonize(p *geos.Geom) *geos.Geom {
	shell := r.ringArea(p.ExteriorRing())
	if p.NumInteriorRings() == 0 {
		return shell
	}

	holes := make([]*geos.Geom, 0, p.NumInteriorRings())
	for i := 0; i < p.NumInteriorRings(); i++ {
		holes = append(holes, r.ringArea(p.InteriorRing(i)))
	}
	return shell.Difference(union(holes))
}

// union merges geometries pairwise; adjacent parts may merge into one
func union(geoms []*geos.Geom) *geos.Geom {
	merged := geoms[0].UnaryUnion()
	for _, g := range geoms[1:] {
		merged = merged.Union(g)
	}
	return merged
}

func (r *Repairer) ringArea(ring *geos.Geom) *geos.Geom {
	noded := ring.Union(ring)
	return r.gctx.Polygonize([]*geos.Geom{noded}).UnaryUnion()
}

func valid(g *geos.Geom) bool {
	ok := false
	if err := geom.Catch(func() { ok = g.IsValid() }); err != nil {
		return false
	}
	return ok
}
