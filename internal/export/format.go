package export

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/mapit-go/internal/store"
)

// Format names an output encoding
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatWKT     Format = "wkt"
	FormatRings   Format = "rings"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a format name case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatGeoJSON, FormatWKT, FormatRings, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Feature builds a GeoJSON feature for an area
func Feature(a *store.Area, shape orb.MultiPolygon) *geojson.Feature {
	f := geojson.NewFeature(shape)
	f.ID = a.ID
	f.Properties["name"] = a.Name
	f.Properties["type"] = a.Type
	f.Properties["country"] = a.Country
	f.Properties["generation_low"] = a.GenerationLow
	f.Properties["generation_high"] = a.GenerationHigh
	if a.ParentID != nil {
		f.Properties["parent_area"] = *a.ParentID
	}
	if len(a.Codes) > 0 {
		f.Properties["codes"] = a.Codes
	}
	return f
}

// FeatureCollection builds a collection from areas and their shapes, which
// must be the same length
func FeatureCollection(areas []*store.Area, shapes []orb.MultiPolygon) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, a := range areas {
		fc.Append(Feature(a, shapes[i]))
	}
	return fc
}

// WKT encodes a shape as well-known text
func WKT(shape orb.MultiPolygon) string {
	return wkt.MarshalString(shape)
}

// Rings is a shape as polygons of rings of x,y pairs. The first ring of
// each polygon is the outer ring.
type Rings [][][][2]float64

// NestedRings converts a shape to plain nested coordinate lists
func NestedRings(shape orb.MultiPolygon) Rings {
	out := make(Rings, len(shape))
	for i, poly := range shape {
		out[i] = make([][][2]float64, len(poly))
		for j, ring := range poly {
			out[i][j] = make([][2]float64, len(ring))
			for k, p := range ring {
				out[i][j][k] = [2]float64(p)
			}
		}
	}
	return out
}
