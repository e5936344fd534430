package spatial

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/mapit-go/internal/geom"
)

type entry struct {
	id        int64
	areaType  string
	low, high int64
	bound     orb.Bound
	shape     *geos.Geom
}

func (e *entry) liveIn(g int64) bool {
	return e.low <= g && g <= e.high
}

// Index evaluates queries in memory with the same plan the SQL uses:
// generation, type filter, bounding box, then the exact predicate.
// It is safe for concurrent use; GEOS calls are serialised on one context.
type Index struct {
	mu      sync.Mutex
	gctx    *geos.Context
	entries map[int64]*entry
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		gctx:    geos.NewContext(),
		entries: make(map[int64]*entry),
	}
}

// Put adds or replaces an area
func (ix *Index) Put(id int64, areaType string, low, high int64, mp orb.MultiPolygon) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = &entry{
		id:       id,
		areaType: areaType,
		low:      low,
		high:     high,
		bound:    mp.Bound(),
		shape:    geom.FromMultiPolygon(ix.gctx, mp),
	}
}

// SetRange updates an area's generation range
func (ix *Index) SetRange(id, low, high int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.entries[id]; ok {
		e.low, e.high = low, high
	}
}

// Len returns the number of indexed areas
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// Query returns the ids of matching areas in ascending order
func (ix *Index) Query(q Query) ([]int64, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var refShape *geos.Geom
	var refBound orb.Bound
	if q.Point != nil {
		refShape = ix.gctx.NewPoint([]float64{q.Point[0], q.Point[1]})
		refBound = q.Point.Bound()
	} else {
		ref, ok := ix.entries[q.AreaID]
		if !ok {
			return nil, fmt.Errorf("area %d is not indexed", q.AreaID)
		}
		refShape = ref.shape
		refBound = ref.bound
	}

	var types map[string]bool
	if len(q.Types) > 0 {
		types = make(map[string]bool, len(q.Types))
		for _, t := range q.Types {
			types[t] = true
		}
	}

	var out []int64
	for id, e := range ix.entries {
		if id == q.AreaID || !e.liveIn(q.Generation) {
			continue
		}
		if types != nil && !types[e.areaType] {
			continue
		}
		if !e.bound.Intersects(refBound) {
			continue
		}

		var hit bool
		if err := geom.Catch(func() { hit = matchAny(q.Predicates, refShape, e.shape) }); err != nil {
			return nil, fmt.Errorf("area %d: %w", id, err)
		}
		if hit {
			out = append(out, id)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func matchAny(preds []Predicate, ref, cand *geos.Geom) bool {
	for _, p := range preds {
		if Match(p, ref, cand) {
			return true
		}
	}
	return false
}

// Match evaluates one predicate as PRED(ref, cand)
func Match(p Predicate, ref, cand *geos.Geom) bool {
	switch p {
	case Touches:
		return ref.Touches(cand)
	case Overlaps:
		return ref.Overlaps(cand)
	case Covers:
		return ref.Covers(cand)
	case CoveredBy:
		return ref.CoveredBy(cand)
	case CoversOrOverlaps:
		return ref.Covers(cand) || ref.Overlaps(cand)
	case Intersects:
		return ref.Intersects(cand)
	}
	return false
}
