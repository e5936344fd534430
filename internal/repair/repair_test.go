package repair

import (
	"math"
	"testing"

	"github.com/twpayne/go-geos"
)

func mustWKT(t *testing.T, gctx *geos.Context, wkt string) *geos.Geom {
	t.Helper()
	g, err := gctx.NewGeomFromWKT(wkt)
	if err != nil {
		t.Fatalf("NewGeomFromWKT(%s): %v", wkt, err)
	}
	return g
}

const (
	// square whose boundary pinches in to trace a diamond hole touching the shell at (2 0)
	banana = "POLYGON((0 0,2 0,1 1.5,2 3,3 1.5,2 0,4 0,4 4,0 4,0 0))"
	// same shape with the diamond traversed the other way round
	reversedLoop = "POLYGON((0 0,2 0,3 1.5,2 3,1 1.5,2 0,4 0,4 4,0 4,0 0))"
	bowtie       = "POLYGON((0 0,2 2,2 0,0 2,0 0))"
	square       = "POLYGON((0 0,1 0,1 1,0 1,0 0))"
)

func TestFixPolygonBanana(t *testing.T) {
	gctx := geos.NewContext()
	p := mustWKT(t, gctx, banana)
	if p.IsValid() {
		t.Fatal("banana polygon should start out invalid")
	}

	fixed, strategy, ok := New(gctx).FixPolygon(p)
	if !ok {
		t.Fatal("banana polygon should be repairable")
	}
	if !fixed.IsValid() {
		t.Error("repaired polygon is not valid")
	}
	if change := math.Abs(fixed.Length()-p.Length()) / p.Length(); change >= 0.01 {
		t.Errorf("perimeter changed by %.4f", change)
	}
	if strategy == StrategyNone {
		t.Error("expected a repair strategy to be reported")
	}
}

func TestFixPolygonReversedLoop(t *testing.T) {
	gctx := geos.NewContext()
	p := mustWKT(t, gctx, reversedLoop)

	res := New(gctx).Fix(p)
	if !res.Empty() {
		t.Errorf("expected unrepairable result, got %s", res.Geom.ToWKT())
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
}

func TestFixValidUnchanged(t *testing.T) {
	gctx := geos.NewContext()
	p := mustWKT(t, gctx, square)

	res := New(gctx).Fix(p)
	if res.Geom != p {
		t.Error("valid input should be returned as is")
	}
	if res.Strategy != StrategyNone || res.Repaired != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestFixMultiPolygonDropsUnrepairable(t *testing.T) {
	gctx := geos.NewContext()
	mp := mustWKT(t, gctx,
		"MULTIPOLYGON(((10 10,11 10,11 11,10 11,10 10)),((0 0,2 0,3 1.5,2 3,1 1.5,2 0,4 0,4 4,0 4,0 0)))")

	res := New(gctx).Fix(mp)
	if res.Empty() {
		t.Fatal("the valid part should survive")
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
	if got := res.Geom.Area(); math.Abs(got-1) > 1e-9 {
		t.Errorf("area = %v, want 1", got)
	}
}

func TestFixMultiPolygonMergesOverlappingParts(t *testing.T) {
	gctx := geos.NewContext()
	mp := mustWKT(t, gctx,
		"MULTIPOLYGON(((0 0,2 0,2 2,0 2,0 0)),((1 0,3 0,3 2,1 2,1 0)))")
	if mp.IsValid() {
		t.Fatal("overlapping parts should make the multipolygon invalid")
	}

	res := New(gctx).Fix(mp)
	if res.Empty() || !res.Geom.IsValid() {
		t.Fatal("expected a valid union")
	}
	if got := res.Geom.Area(); math.Abs(got-6) > 1e-9 {
		t.Errorf("area = %v, want 6", got)
	}
}

func TestFixAllPartsUnrepairable(t *testing.T) {
	gctx := geos.NewContext()
	mp := mustWKT(t, gctx,
		"MULTIPOLYGON(((0 0,2 0,3 1.5,2 3,1 1.5,2 0,4 0,4 4,0 4,0 0)),((10 0,12 0,13 1.5,12 3,11 1.5,12 0,14 0,14 4,10 4,10 0)))")

	res := New(gctx).Fix(mp)
	if !res.Empty() {
		t.Error("expected empty result")
	}
	if res.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", res.Dropped)
	}
}

func TestFixPolygonBowtie(t *testing.T) {
	gctx := geos.NewContext()
	p := mustWKT(t, gctx, bowtie)

	fixed, _, ok := New(gctx).FixPolygon(p)
	if !ok {
		t.Fatal("bowtie should be repairable")
	}
	if !fixed.IsValid() {
		t.Error("repaired bowtie is not valid")
	}
	if got := fixed.Area(); math.Abs(got-2) > 1e-9 {
		t.Errorf("area = %v, want both lobes (2)", got)
	}
}

func TestFixPolygonRejectsPerimeterChange(t *testing.T) {
	gctx := geos.NewContext()
	p := mustWKT(t, gctx, bowtie)

	_, _, ok := New(gctx).WithMaxPerimeterChange(0).FixPolygon(p)
	if ok {
		t.Error("a zero threshold should reject every repair")
	}
}

func TestStrategyString(t *testing.T) {
	tests := map[Strategy]string{
		StrategyNone:       "none",
		StrategyBuffer:     "buffer",
		StrategyPolygonize: "polygonize",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
