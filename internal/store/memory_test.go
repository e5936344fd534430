package store

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/wegman-software/mapit-go/internal/spatial"
)

func box(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func TestGenerationLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.CurrentGeneration(ctx); !errors.Is(err, ErrNoActiveGeneration) {
		t.Errorf("CurrentGeneration() on empty store = %v", err)
	}
	if _, err := m.NewGeneration(ctx); !errors.Is(err, ErrNoNewGeneration) {
		t.Errorf("NewGeneration() on empty store = %v", err)
	}

	g1, err := m.CreateGeneration(ctx, "first")
	if err != nil {
		t.Fatalf("CreateGeneration() error: %v", err)
	}
	if _, err := m.CreateGeneration(ctx, "second"); !errors.Is(err, ErrNewGenerationExists) {
		t.Errorf("second CreateGeneration() = %v, want ErrNewGenerationExists", err)
	}

	ng, err := m.NewGeneration(ctx)
	if err != nil || ng.ID != g1.ID {
		t.Errorf("NewGeneration() = %v, %v", ng, err)
	}

	if err := m.ActivateGeneration(ctx, g1.ID); err != nil {
		t.Fatalf("ActivateGeneration() error: %v", err)
	}
	cur, err := m.CurrentGeneration(ctx)
	if err != nil || cur.ID != g1.ID {
		t.Errorf("CurrentGeneration() = %v, %v", cur, err)
	}

	g2, err := m.CreateGeneration(ctx, "second")
	if err != nil {
		t.Fatalf("CreateGeneration() after activation: %v", err)
	}
	if g2.ID <= g1.ID {
		t.Errorf("generation ids must increase: %d then %d", g1.ID, g2.ID)
	}

	if err := m.ActivateGeneration(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActivateGeneration(99) = %v", err)
	}
}

func TestRelatedDefaultsToActiveGeneration(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	g1, _ := m.CreateGeneration(ctx, "one")
	m.ActivateGeneration(ctx, g1.ID)
	g2, _ := m.CreateGeneration(ctx, "two")

	county, _ := m.CreateArea(ctx, &Area{Type: "CTY", GenerationLow: 1, GenerationHigh: 2}, box(0, 0, 10, 10))
	old, _ := m.CreateArea(ctx, &Area{Type: "DIS", GenerationLow: 1, GenerationHigh: 1}, box(1, 1, 2, 2))
	m.CreateArea(ctx, &Area{Type: "DIS", GenerationLow: g2.ID, GenerationHigh: g2.ID}, box(3, 3, 4, 4))

	got, err := m.Related(ctx, spatial.Query{AreaID: county, Predicates: []spatial.Predicate{spatial.Covers}})
	if err != nil {
		t.Fatalf("Related() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != old {
		t.Errorf("Related() = %v, want only area %d from the active generation", got, old)
	}

	got, _ = m.Related(ctx, spatial.Query{AreaID: county, Predicates: []spatial.Predicate{spatial.Covers}, Generation: g2.ID})
	if len(got) != 1 || got[0].ID == old {
		t.Errorf("explicit generation override = %v", got)
	}
}

func TestExtendArea(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, _ := m.CreateArea(ctx, &Area{
		Name: "Testshire", Type: "CTY", GenerationLow: 1, GenerationHigh: 1,
		Codes: map[string]string{"osm_rel": "100"},
		Names: map[string]string{"name": "Testshire"},
	}, box(0, 0, 1, 1))

	err := m.ExtendArea(ctx, id, 2, map[string]string{"name:cy": "Sir Prawf"}, map[string]string{"gss": "E1"})
	if err != nil {
		t.Fatalf("ExtendArea() error: %v", err)
	}

	a, _ := m.Area(ctx, id)
	if a.GenerationHigh != 2 || !a.LiveIn(2) || !a.LiveIn(1) || a.LiveIn(3) {
		t.Errorf("unexpected range %d..%d", a.GenerationLow, a.GenerationHigh)
	}
	if a.Names["name:cy"] != "Sir Prawf" || a.Codes["gss"] != "E1" || a.Codes["osm_rel"] != "100" {
		t.Errorf("names/codes not refreshed: %v %v", a.Names, a.Codes)
	}

	found, _ := m.AreasByCode(ctx, "gss", "E1")
	if len(found) != 1 || found[0].ID != id {
		t.Errorf("AreasByCode() = %v", found)
	}
}

func TestReplaceGeometry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	g, _ := m.CreateGeneration(ctx, "first")
	m.ActivateGeneration(ctx, g.ID)

	id, _ := m.CreateArea(ctx, &Area{
		Name: "Testshire", Type: "CTY", GenerationLow: 1, GenerationHigh: 1,
		Codes: map[string]string{"osm_rel": "100"},
		Names: map[string]string{"name": "Testshire"},
	}, box(0, 0, 1, 1))

	if err := m.ReplaceGeometry(ctx, id, box(5, 5, 6, 6), nil, map[string]string{"gss": "E1"}); err != nil {
		t.Fatalf("ReplaceGeometry() error: %v", err)
	}
	mp, err := m.Geometry(ctx, id)
	if err != nil {
		t.Fatalf("Geometry() error: %v", err)
	}
	if b := mp.Bound(); b.Min != (orb.Point{5, 5}) || b.Max != (orb.Point{6, 6}) {
		t.Errorf("geometry bound = %v", b)
	}
	a, _ := m.Area(ctx, id)
	if a.Codes["gss"] != "E1" || a.Codes["osm_rel"] != "100" || a.GenerationHigh != 1 {
		t.Errorf("area after replace = %+v", a)
	}

	// the index follows the new shape
	inner, _ := m.CreateArea(ctx, &Area{Type: "PT", GenerationLow: 1, GenerationHigh: 1}, box(5.4, 5.4, 5.6, 5.6))
	got, err := m.Related(ctx, spatial.Query{AreaID: inner, Predicates: []spatial.Predicate{spatial.CoveredBy}, Types: []string{"CTY"}})
	if err != nil {
		t.Fatalf("Related() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Errorf("Related() after replace = %v", got)
	}

	if err := m.ReplaceGeometry(ctx, 999, box(0, 0, 1, 1), nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReplaceGeometry(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDisplayName(t *testing.T) {
	a := &Area{Name: "fallback", Names: map[string]string{"name:en": "English", "name": "Local", "alt": ""}}

	tests := []struct {
		order []string
		want  string
	}{
		{[]string{"name:en", "name"}, "English"},
		{[]string{"name"}, "Local"},
		{[]string{"missing"}, "Local"},
		{nil, "Local"},
	}
	for _, tt := range tests {
		if got := a.DisplayName(tt.order); got != tt.want {
			t.Errorf("DisplayName(%v) = %q, want %q", tt.order, got, tt.want)
		}
	}

	if got := (&Area{Name: "only"}).DisplayName(nil); got != "only" {
		t.Errorf("DisplayName() without names = %q", got)
	}
}

func TestPostcodes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.PutPostcodes(ctx, []Postcode{{Code: "sw1a 1aa", Point: orb.Point{-0.14, 51.5}}})
	if err != nil || n != 1 {
		t.Fatalf("PutPostcodes() = %d, %v", n, err)
	}
	if err := m.SetPostcodeAreas(ctx, "SW1A1AA", 2, []int64{3, 4}); err != nil {
		t.Fatalf("SetPostcodeAreas() error: %v", err)
	}

	pc, err := m.Postcode(ctx, "Sw1a 1aA")
	if err != nil {
		t.Fatalf("Postcode() error: %v", err)
	}
	if pc.Code != "SW1A1AA" || len(pc.Areas) != 2 || pc.AreasGeneration != 2 {
		t.Errorf("Postcode() = %+v", pc)
	}

	if _, err := m.Postcode(ctx, "ZZ1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown postcode = %v", err)
	}
}

func TestNormalizePostcode(t *testing.T) {
	tests := map[string]string{
		"sw1a 1aa":  "SW1A1AA",
		" EH1\t1YZ": "EH11YZ",
		"0150":      "0150",
	}
	for in, want := range tests {
		if got := NormalizePostcode(in); got != want {
			t.Errorf("NormalizePostcode(%q) = %q, want %q", in, got, want)
		}
	}
}
