// Package export turns stored area geometry into simplified, reprojected
// shapes and writes them as GeoJSON, WKT, nested rings or Parquet.
package export

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/mapit-go/internal/geom"
	"github.com/wegman-software/mapit-go/internal/proj"
	"github.com/wegman-software/mapit-go/internal/wkb"
)

// ErrCollapsed is returned when simplification reduces a non-empty shape to nothing
var ErrCollapsed = errors.New("simplification collapsed the shape")

// TransformError reports a failed export step
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Options controls export. Tolerance is in units of the output SRID; zero
// disables simplification. SRID zero means the storage SRID.
type Options struct {
	Tolerance        float64
	SRID             int
	PreserveTopology bool
}

// Shaper simplifies and reprojects shapes. It holds a GEOS context and
// must not be shared between goroutines.
type Shaper struct {
	gctx *geos.Context
	tr   *proj.Transformer
	opts Options
}

// NewShaper validates opts and prepares the reprojection
func NewShaper(opts Options) (*Shaper, error) {
	if opts.SRID == 0 {
		opts.SRID = wkb.SRID4326
	}
	if opts.Tolerance < 0 {
		return nil, &TransformError{Op: "simplify", Err: fmt.Errorf("negative tolerance %v", opts.Tolerance)}
	}
	tr, err := proj.NewTransformer(wkb.SRID4326, opts.SRID)
	if err != nil {
		return nil, &TransformError{Op: "reproject", Err: err}
	}
	return &Shaper{gctx: geos.NewContext(), tr: tr, opts: opts}, nil
}

// SRID returns the output SRID
func (s *Shaper) SRID() int {
	return s.opts.SRID
}

// Shape reprojects mp and then simplifies it. An empty input gives an
// empty output.
func (s *Shaper) Shape(mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	if len(mp) == 0 {
		return orb.MultiPolygon{}, nil
	}
	out := s.tr.MultiPolygon(mp)
	if s.opts.Tolerance == 0 {
		return out, nil
	}

	var simplified orb.MultiPolygon
	var convErr error
	err := geom.Catch(func() {
		g := geom.FromMultiPolygon(s.gctx, out)
		if s.opts.PreserveTopology {
			g = g.TopologyPreserveSimplify(s.opts.Tolerance)
		} else {
			g = g.Simplify(s.opts.Tolerance)
		}
		simplified, convErr = geom.ToMultiPolygon(g)
	})
	if err == nil {
		err = convErr
	}
	if err != nil {
		return nil, &TransformError{Op: "simplify", Err: err}
	}
	if len(simplified) == 0 {
		return nil, &TransformError{Op: "simplify", Err: ErrCollapsed}
	}
	return simplified, nil
}

// Shape exports one shape with a fresh Shaper
func Shape(mp orb.MultiPolygon, opts Options) (orb.MultiPolygon, error) {
	s, err := NewShaper(opts)
	if err != nil {
		return nil, err
	}
	return s.Shape(mp)
}
