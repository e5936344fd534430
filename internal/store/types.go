package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/wegman-software/mapit-go/internal/spatial"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNewGenerationExists = errors.New("an inactive new generation already exists")
	ErrNoNewGeneration     = errors.New("no new generation; create one first")
	ErrNoActiveGeneration  = errors.New("no active generation")
)

// Generation is a versioned snapshot of the area set
type Generation struct {
	ID          int64
	Active      bool
	Description string
	Created     time.Time
}

// Area is a boundary valid over an inclusive range of generations
type Area struct {
	ID             int64
	Name           string
	Type           string
	Country        string
	ParentID       *int64
	GenerationLow  int64
	GenerationHigh int64
	Codes          map[string]string
	Names          map[string]string
}

// LiveIn reports whether the area is valid in generation g
func (a *Area) LiveIn(g int64) bool {
	return a.GenerationLow <= g && g <= a.GenerationHigh
}

// DisplayName derives the area's name from its typed names, preferring the
// name types in order and falling back to the alphabetically first type
func (a *Area) DisplayName(order []string) string {
	for _, t := range order {
		if n, ok := a.Names[t]; ok && n != "" {
			return n
		}
	}
	types := make([]string, 0, len(a.Names))
	for t := range a.Names {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if a.Names[t] != "" {
			return a.Names[t]
		}
	}
	return a.Name
}

// Postcode is a point with the areas it falls within. Areas was computed
// against AreasGeneration; zero means it has not been computed.
type Postcode struct {
	Code            string
	Point           orb.Point
	Areas           []int64
	AreasGeneration int64
}

// Generations manages the generation lifecycle. At most one inactive
// generation newer than every active one exists at a time.
type Generations interface {
	ListGenerations(ctx context.Context) ([]Generation, error)
	// CurrentGeneration returns the latest active generation
	CurrentGeneration(ctx context.Context) (*Generation, error)
	// NewGeneration returns the inactive generation awaiting import
	NewGeneration(ctx context.Context) (*Generation, error)
	CreateGeneration(ctx context.Context, description string) (*Generation, error)
	ActivateGeneration(ctx context.Context, id int64) error
}

// Areas reads and writes area rows with their codes, names and geometry
type Areas interface {
	Area(ctx context.Context, id int64) (*Area, error)
	AreasByCode(ctx context.Context, codeType, code string) ([]*Area, error)
	AreasByName(ctx context.Context, name, areaType, country string) ([]*Area, error)
	AreasLiveIn(ctx context.Context, generation int64, types []string) ([]*Area, error)
	Geometry(ctx context.Context, id int64) (orb.MultiPolygon, error)

	// CreateArea stores a new area row with its geometry and returns its id
	CreateArea(ctx context.Context, a *Area, shape orb.MultiPolygon) (int64, error)
	// ExtendArea sets an area's generation_high and refreshes its names and codes
	ExtendArea(ctx context.Context, id, generationHigh int64, names, codes map[string]string) error
	// ReplaceGeometry swaps an area's polygons and refreshes its names and codes
	ReplaceGeometry(ctx context.Context, id int64, shape orb.MultiPolygon, names, codes map[string]string) error
	SetParent(ctx context.Context, id int64, parentID *int64) error
}

// Spatial answers relationship queries. A query without a generation is
// run against the current active generation.
type Spatial interface {
	Related(ctx context.Context, q spatial.Query) ([]*Area, error)
}

// Postcodes stores postcode points and their cached area sets
type Postcodes interface {
	Postcode(ctx context.Context, code string) (*Postcode, error)
	PutPostcodes(ctx context.Context, pcs []Postcode) (int64, error)
	// SetPostcodeAreas records the areas containing a postcode in a generation
	SetPostcodeAreas(ctx context.Context, code string, generation int64, areas []int64) error
}

// Store is the full persistence surface
type Store interface {
	Generations
	Areas
	Spatial
	Postcodes
	Close()
}

// NormalizePostcode upper-cases a postcode and strips spaces
func NormalizePostcode(code string) string {
	out := make([]rune, 0, len(code))
	for _, r := range code {
		if r == ' ' || r == '\t' {
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
