package boundary

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/mapit-go/internal/element"
)

func square(x, y, size float64) orb.Ring {
	return orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}
}

func TestGroupRings(t *testing.T) {
	gctx := geos.NewContext()

	outer := square(0, 0, 10)
	hole := square(2, 2, 2)
	island := square(20, 20, 5)

	groups := GroupRings(gctx, []orb.Ring{outer, island}, []orb.Ring{hole})
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if len(groups[0].Inners) != 1 {
		t.Errorf("first group has %d holes, want 1", len(groups[0].Inners))
	}
	if len(groups[1].Inners) != 0 {
		t.Errorf("second group has %d holes, want 0", len(groups[1].Inners))
	}
}

func TestGroupRingsClaimsOnce(t *testing.T) {
	gctx := geos.NewContext()

	// the hole straddles both outers; the first outer keeps it
	a := square(0, 0, 10)
	b := square(10, 0, 10)
	hole := square(8, 2, 4)

	groups := GroupRings(gctx, []orb.Ring{a, b}, []orb.Ring{hole})
	if len(groups[0].Inners) != 1 || len(groups[1].Inners) != 0 {
		t.Errorf("hole assigned %d/%d times, want 1/0", len(groups[0].Inners), len(groups[1].Inners))
	}
}

func TestGroupRingsDropsDegenerate(t *testing.T) {
	gctx := geos.NewContext()

	degenerate := orb.Ring{{0, 0}, {1, 1}, {0, 0}}
	orphan := square(50, 50, 1)

	groups := GroupRings(gctx, []orb.Ring{degenerate, square(0, 0, 10)}, []orb.Ring{orphan})
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Inners) != 0 {
		t.Errorf("unclaimed inner should be dropped")
	}
}

func TestBuilderRelation(t *testing.T) {
	arena := element.NewArena()
	coords := map[int64]orb.Point{
		1: {0, 0}, 2: {10, 0}, 3: {10, 10}, 4: {0, 10},
		5: {2, 2}, 6: {4, 2}, 7: {4, 4}, 8: {2, 4},
	}
	for id, p := range coords {
		arena.Add(&element.Node{ID: id, Point: p, Located: true})
	}
	arena.Add(way(10, 1, 2, 3))
	arena.Add(way(11, 3, 4, 1))
	arena.Add(way(12, 5, 6, 7, 8, 5))
	arena.Add(&element.Node{ID: 99, Point: orb.Point{5, 5}, Located: true})

	rel := &element.Relation{ID: 100, Members: []element.Member{
		{Ref: element.WayKey(10), Role: "outer"},
		{Ref: element.WayKey(11), Role: ""},
		{Ref: element.WayKey(12), Role: "inner"},
		{Ref: element.NodeKey(99), Role: "admin_centre"},
	}}

	mp, err := NewBuilder(arena, geos.NewContext()).Build(rel)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(mp) != 1 {
		t.Fatalf("got %d polygons, want 1", len(mp))
	}
	if len(mp[0]) != 2 {
		t.Errorf("polygon has %d rings, want outer + hole", len(mp[0]))
	}
}

func TestBuilderMissingNode(t *testing.T) {
	arena := element.NewArena()
	arena.Add(&element.Node{ID: 1, Point: orb.Point{0, 0}, Located: true})
	arena.Add(&element.Node{ID: 2, Point: orb.Point{1, 0}, Located: true})
	arena.Add(&element.Node{ID: 3})

	_, err := NewBuilder(arena, geos.NewContext()).Way(way(1, 1, 2, 3, 1))
	var missing *element.MissingNodeError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingNodeError, got %v", err)
	}
}

func TestBuilderOpenWay(t *testing.T) {
	_, err := NewBuilder(element.NewArena(), geos.NewContext()).Way(way(1, 1, 2, 3))
	var unclosed *UnclosedBoundaryError
	if !errors.As(err, &unclosed) {
		t.Fatalf("expected UnclosedBoundaryError, got %v", err)
	}
}
