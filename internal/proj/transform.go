package proj

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// SRID constants for the supported projections
const (
	SRID4326 = 4326 // WGS84 (lon/lat)
	SRID3857 = 3857 // Web Mercator
)

// Transformer converts coordinates between WGS84 and Web Mercator
type Transformer struct {
	SourceSRID int
	TargetSRID int
}

// NewTransformer creates a transformer from source to target SRID
func NewTransformer(sourceSRID, targetSRID int) (*Transformer, error) {
	for _, srid := range []int{sourceSRID, targetSRID} {
		if srid != SRID4326 && srid != SRID3857 {
			return nil, fmt.Errorf("unsupported SRID: %d (only 4326 and 3857 supported)", srid)
		}
	}
	return &Transformer{
		SourceSRID: sourceSRID,
		TargetSRID: targetSRID,
	}, nil
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.SourceSRID != t.TargetSRID
}

// Transform converts one coordinate
func (t *Transformer) Transform(x, y float64) (float64, float64) {
	switch {
	case t.SourceSRID == t.TargetSRID:
		return x, y
	case t.TargetSRID == SRID3857:
		return lonLatToWebMercator(x, y)
	default:
		return webMercatorToLonLat(x, y)
	}
}

// Point transforms an orb point
func (t *Transformer) Point(p orb.Point) orb.Point {
	x, y := t.Transform(p[0], p[1])
	return orb.Point{x, y}
}

// MultiPolygon returns a transformed copy of mp
func (t *Transformer) MultiPolygon(mp orb.MultiPolygon) orb.MultiPolygon {
	out := mp.Clone()
	if !t.NeedsTransform() {
		return out
	}
	for _, poly := range out {
		for _, ring := range poly {
			for i := range ring {
				ring[i] = t.Point(ring[i])
			}
		}
	}
	return out
}

// Web Mercator constants
const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	// Latitude limit of the square Web Mercator world
	maxLat = 85.06
)

// lonLatToWebMercator converts WGS84 (lon, lat) to Web Mercator (x, y)
func lonLatToWebMercator(lon, lat float64) (x, y float64) {
	if lat > maxLat {
		lat = maxLat
	} else if lat < -maxLat {
		lat = -maxLat
	}

	x = lon * maxExtent / 180.0
	latRad := lat * math.Pi / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius
	return x, y
}

// webMercatorToLonLat converts Web Mercator (x, y) to WGS84 (lon, lat)
func webMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x * 180.0 / maxExtent
	lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2.0) * 180.0 / math.Pi
	return lon, lat
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "3857", "EPSG:4326", "EPSG:3857"
func ParseSRID(s string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "4326", "EPSG:4326":
		return SRID4326, nil
	case "3857", "EPSG:3857":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}
