package proj

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestRoundTrip(t *testing.T) {
	fwd, err := NewTransformer(SRID4326, SRID3857)
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewTransformer(SRID3857, SRID4326)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []orb.Point{{0, 0}, {-0.1276, 51.5072}, {174.76, -36.85}, {-180, 85}} {
		got := back.Point(fwd.Point(p))
		if math.Abs(got[0]-p[0]) > 1e-9 || math.Abs(got[1]-p[1]) > 1e-9 {
			t.Errorf("round trip of %v = %v", p, got)
		}
	}
}

func TestKnownValues(t *testing.T) {
	fwd, _ := NewTransformer(SRID4326, SRID3857)

	x, y := fwd.Transform(180, 0)
	if math.Abs(x-maxExtent) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("Transform(180, 0) = %v, %v", x, y)
	}

	// latitudes past the mercator limit are clamped
	_, y1 := fwd.Transform(0, 89)
	_, y2 := fwd.Transform(0, maxLat)
	if y1 != y2 {
		t.Errorf("latitude not clamped: %v != %v", y1, y2)
	}
}

func TestMultiPolygonCopies(t *testing.T) {
	fwd, _ := NewTransformer(SRID4326, SRID3857)
	mp := orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}

	out := fwd.MultiPolygon(mp)
	if mp[0][0][1][0] != 1 {
		t.Error("input must not be modified")
	}
	if out[0][0][1][0] <= 1 {
		t.Errorf("output not projected: %v", out)
	}

	same, _ := NewTransformer(SRID4326, SRID4326)
	if same.NeedsTransform() || !same.MultiPolygon(mp).Equal(mp) {
		t.Error("identity transform should copy unchanged")
	}
}

func TestParseSRID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"4326", SRID4326, false},
		{"epsg:3857", SRID3857, false},
		{"EPSG:27700", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSRID(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSRID(%q) = %d, %v", tt.in, got, err)
		}
	}

	if _, err := NewTransformer(27700, SRID4326); err == nil {
		t.Error("expected error for unsupported SRID")
	}
}
