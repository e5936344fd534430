package spatial

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// Predicate is a topological relationship evaluated as PRED(reference, candidate)
type Predicate string

const (
	Touches          Predicate = "touches"
	Overlaps         Predicate = "overlaps"
	Covers           Predicate = "covers"
	CoveredBy        Predicate = "covered_by"
	CoversOrOverlaps Predicate = "covers_or_overlaps"
	Intersects       Predicate = "intersects"
)

// Predicates lists every supported predicate
var Predicates = []Predicate{Touches, Overlaps, Covers, CoveredBy, CoversOrOverlaps, Intersects}

// ParsePredicate accepts the predicate names with either '_' or '-' separators
func ParsePredicate(s string) (Predicate, error) {
	p := Predicate(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	for _, known := range Predicates {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown spatial predicate %q", s)
}

// sqlExpr returns the PostGIS expression for the predicate
func (p Predicate) sqlExpr(ref, cand string) string {
	switch p {
	case Touches:
		return fmt.Sprintf("ST_Touches(%s, %s)", ref, cand)
	case Overlaps:
		return fmt.Sprintf("ST_Overlaps(%s, %s)", ref, cand)
	case Covers:
		return fmt.Sprintf("ST_Covers(%s, %s)", ref, cand)
	case CoveredBy:
		return fmt.Sprintf("ST_CoveredBy(%s, %s)", ref, cand)
	case CoversOrOverlaps:
		return fmt.Sprintf("(ST_Covers(%[1]s, %[2]s) OR ST_Overlaps(%[1]s, %[2]s))", ref, cand)
	case Intersects:
		return fmt.Sprintf("ST_Intersects(%s, %s)", ref, cand)
	}
	return "FALSE"
}

var (
	ErrNoReference  = errors.New("query needs exactly one of an area or a point")
	ErrNoPredicate  = errors.New("query needs at least one predicate")
	ErrNoGeneration = errors.New("query has no generation")
)

// Query asks for live areas standing in any of Predicates to a reference
// area or point. Types, when set, restricts candidates by area type.
type Query struct {
	AreaID     int64
	Point      *orb.Point
	Predicates []Predicate
	Types      []string
	Generation int64
}

// Validate checks the query is complete
func (q Query) Validate() error {
	if (q.AreaID == 0) == (q.Point == nil) {
		return ErrNoReference
	}
	if len(q.Predicates) == 0 {
		return ErrNoPredicate
	}
	if q.Generation == 0 {
		return ErrNoGeneration
	}
	return nil
}

// SQL builds a single statement answering the query against the area and
// geometry tables in schema. Candidates are narrowed by generation, then by
// type, then by bounding box overlap with the unioned reference, and only
// the survivors are tested with the exact predicates, OR-ed together.
func (q Query) SQL(schema string, srid int) (string, []interface{}, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var target string
	var exclude string
	if q.Point != nil {
		target = fmt.Sprintf("SELECT ST_SetSRID(ST_MakePoint(%s, %s), %d) AS shape",
			arg(q.Point[0]), arg(q.Point[1]), srid)
	} else {
		id := arg(q.AreaID)
		target = fmt.Sprintf("SELECT ST_Union(polygon) AS shape FROM %s.geometry WHERE area_id = %s", schema, id)
		exclude = fmt.Sprintf("\n      AND a.id <> %s", id)
	}

	gen := arg(q.Generation)
	typeFilter := ""
	if len(q.Types) > 0 {
		typeFilter = fmt.Sprintf("\n      AND a.type = ANY(%s)", arg(q.Types))
	}

	preds := make([]string, len(q.Predicates))
	for i, p := range q.Predicates {
		preds[i] = p.sqlExpr("t.shape", "c.shape")
	}

	sql := fmt.Sprintf(`WITH target AS (
    %[1]s
), candidates AS (
    SELECT DISTINCT a.id
    FROM %[2]s.areas a
    JOIN %[2]s.geometry g ON g.area_id = a.id
    CROSS JOIN target t
    WHERE a.generation_low <= %[3]s AND a.generation_high >= %[3]s%[4]s%[5]s
      AND g.polygon && t.shape
)
SELECT c.id
FROM (
    SELECT cand.id, ST_Union(g.polygon) AS shape
    FROM candidates cand
    JOIN %[2]s.geometry g ON g.area_id = cand.id
    GROUP BY cand.id
) c
CROSS JOIN target t
WHERE %[6]s
ORDER BY c.id`, target, schema, gen, exclude, typeFilter, strings.Join(preds, "\n   OR "))

	return sql, args, nil
}
