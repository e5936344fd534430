// Package reconcile decides, for each boundary built during an import, whether
// it continues an existing area, replaces it with a new version, or is new.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/element"
	"github.com/wegman-software/mapit-go/internal/geom"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/store"
)

// State is the reconciliation state of one candidate boundary
type State int

const (
	StateNew State = iota
	Created
	Unchanged
	Changed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case Created:
		return "created"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Strategy selects how a candidate is matched against existing areas
type Strategy int

const (
	MatchByCode Strategy = iota
	MatchByName
	MatchOverride
	TreatAsNew
)

func (s Strategy) String() string {
	switch s {
	case MatchByCode:
		return "code"
	case MatchByName:
		return "name"
	case MatchOverride:
		return "override"
	case TreatAsNew:
		return "new"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Decision is a control hook's answer for one candidate
type Decision struct {
	Strategy       Strategy
	OverrideAreaID int64
}

// Control is the per-run hook for country and release specific matching rules
type Control interface {
	Check(name, areaType, country string, shape orb.MultiPolygon) (Decision, error)
	// CodeType names the code used by MatchByCode
	CodeType() string
}

// DefaultControl matches every candidate by its code of type Code
type DefaultControl struct {
	Code string
}

func (c DefaultControl) Check(name, areaType, country string, shape orb.MultiPolygon) (Decision, error) {
	return Decision{Strategy: MatchByCode}, nil
}

func (c DefaultControl) CodeType() string { return c.Code }

// ErrAmbiguousMatch is returned when a candidate matches more than one live
// area, or an area already claimed earlier in the same run
var ErrAmbiguousMatch = errors.New("ambiguous area match")

// InconsistencyError reports a matched area whose validity ended before the
// current generation. The generation sequence has a gap and the run must stop.
type InconsistencyError struct {
	AreaID         int64
	GenerationHigh int64
	Current        int64
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("area %d ends at generation %d, behind current generation %d",
		e.AreaID, e.GenerationHigh, e.Current)
}

// Candidate is a boundary built from OSM data awaiting reconciliation
type Candidate struct {
	Source  element.Key
	Name    string
	Type    string
	Country string
	Codes   map[string]string
	Names   map[string]string
	Shape   orb.MultiPolygon
}

// Outcome records what happened to a candidate. AreaID is the area now
// carrying the boundary in the new generation; it is zero for new rows in a
// dry run. PreviousID is the superseded area of a Changed candidate.
type Outcome struct {
	Source     element.Key
	State      State
	Strategy   Strategy
	AreaID     int64
	PreviousID int64
}

// Reconciler runs the state machine against one store for one import run.
// It is not safe for concurrent use.
type Reconciler struct {
	areas   store.Areas
	control Control
	gctx    *geos.Context
	current int64
	next    int64
	dryRun  bool
	claimed map[int64]element.Key
	counts  map[State]int
	log     *zap.Logger
}

// New creates a reconciler moving areas from generation current into next.
// current is zero when no generation has been activated yet.
func New(areas store.Areas, control Control, gctx *geos.Context, current, next int64) *Reconciler {
	return &Reconciler{
		areas:   areas,
		control: control,
		gctx:    gctx,
		current: current,
		next:    next,
		claimed: make(map[int64]element.Key),
		counts:  make(map[State]int),
		log:     logger.Named("reconcile"),
	}
}

// WithDryRun reports decisions without writing
func (r *Reconciler) WithDryRun(dryRun bool) *Reconciler {
	r.dryRun = dryRun
	return r
}

// Counts returns the number of candidates per final state
func (r *Reconciler) Counts() map[State]int {
	out := make(map[State]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Generations reads the current and new generation ids from gens
func Generations(ctx context.Context, gens store.Generations) (current, next int64, err error) {
	ng, err := gens.NewGeneration(ctx)
	if err != nil {
		return 0, 0, err
	}
	cg, err := gens.CurrentGeneration(ctx)
	switch {
	case errors.Is(err, store.ErrNoActiveGeneration):
		return 0, ng.ID, nil
	case err != nil:
		return 0, 0, err
	}
	return cg.ID, ng.ID, nil
}

// Reconcile moves c from New to Created, Unchanged or Changed
func (r *Reconciler) Reconcile(ctx context.Context, c *Candidate) (Outcome, error) {
	out := Outcome{Source: c.Source, State: StateNew}

	decision, err := r.control.Check(c.Name, c.Type, c.Country, c.Shape)
	if err != nil {
		return out, fmt.Errorf("control check for %s: %w", c.Source, err)
	}
	out.Strategy = decision.Strategy

	match, resumed, err := r.match(ctx, c, decision)
	if err != nil {
		return out, fmt.Errorf("matching %s: %w", c.Source, err)
	}
	if resumed != nil {
		return r.resume(ctx, out, c, match, resumed)
	}

	if match == nil {
		id, err := r.create(ctx, c)
		if err != nil {
			return out, err
		}
		out.State, out.AreaID = Created, id
		return r.done(out, c), nil
	}

	if err := r.claim(match.ID, c.Source); err != nil {
		return out, err
	}
	same, err := r.compare(ctx, c, match.ID)
	if err != nil {
		return out, err
	}

	if same {
		if !r.dryRun {
			if err := r.areas.ExtendArea(ctx, match.ID, r.next, c.Names, c.Codes); err != nil {
				return out, fmt.Errorf("extending area %d: %w", match.ID, err)
			}
		}
		out.State, out.AreaID = Unchanged, match.ID
		return r.done(out, c), nil
	}

	if err := r.retire(ctx, match); err != nil {
		return out, err
	}
	id, err := r.create(ctx, c)
	if err != nil {
		return out, err
	}
	out.State, out.AreaID, out.PreviousID = Changed, id, match.ID
	return r.done(out, c), nil
}

// resume handles a candidate whose area an interrupted run already wrote
// into the new generation. The row is reused so a re-run never adds a
// second live area for the same boundary.
func (r *Reconciler) resume(ctx context.Context, out Outcome, c *Candidate, prev, resumed *store.Area) (Outcome, error) {
	if err := r.claim(resumed.ID, c.Source); err != nil {
		return out, err
	}
	if prev != nil {
		if err := r.claim(prev.ID, c.Source); err != nil {
			return out, err
		}
		if err := r.retire(ctx, prev); err != nil {
			return out, err
		}
	}

	same, err := r.compare(ctx, c, resumed.ID)
	if err != nil {
		return out, err
	}
	out.AreaID = resumed.ID
	if same {
		if !r.dryRun {
			if err := r.areas.ExtendArea(ctx, resumed.ID, r.next, c.Names, c.Codes); err != nil {
				return out, fmt.Errorf("refreshing area %d: %w", resumed.ID, err)
			}
		}
		out.State = Unchanged
		return r.done(out, c), nil
	}

	if !r.dryRun {
		if err := r.areas.ReplaceGeometry(ctx, resumed.ID, c.Shape, c.Names, c.Codes); err != nil {
			return out, fmt.Errorf("replacing geometry of area %d: %w", resumed.ID, err)
		}
	}
	out.State = Created
	if prev != nil {
		out.State, out.PreviousID = Changed, prev.ID
	}
	return r.done(out, c), nil
}

func (r *Reconciler) claim(id int64, source element.Key) error {
	if prev, ok := r.claimed[id]; ok && prev != source {
		return fmt.Errorf("%w: area %d matched by both %s and %s", ErrAmbiguousMatch, id, prev, source)
	}
	r.claimed[id] = source
	return nil
}

func (r *Reconciler) compare(ctx context.Context, c *Candidate, id int64) (bool, error) {
	existing, err := r.areas.Geometry(ctx, id)
	if err != nil {
		return false, fmt.Errorf("loading geometry of area %d: %w", id, err)
	}
	same, err := r.sameShape(existing, c.Shape)
	if err != nil {
		return false, fmt.Errorf("comparing %s with area %d: %w", c.Source, id, err)
	}
	return same, nil
}

// retire ends a superseded area at the current generation. An earlier run
// may have extended it into the new one before the boundary changed.
func (r *Reconciler) retire(ctx context.Context, a *store.Area) error {
	if a.GenerationHigh < r.next || r.dryRun {
		return nil
	}
	if err := r.areas.ExtendArea(ctx, a.ID, r.current, nil, nil); err != nil {
		return fmt.Errorf("retiring area %d: %w", a.ID, err)
	}
	return nil
}

func (r *Reconciler) done(out Outcome, c *Candidate) Outcome {
	r.counts[out.State]++
	r.log.Debug("Reconciled boundary",
		zap.Stringer("source", c.Source),
		zap.String("name", c.Name),
		zap.Stringer("state", out.State),
		zap.Stringer("strategy", out.Strategy),
		zap.Int64("area_id", out.AreaID),
		zap.Int64("previous_id", out.PreviousID),
		zap.Bool("dry_run", r.dryRun))
	return out
}

func (r *Reconciler) create(ctx context.Context, c *Candidate) (int64, error) {
	if r.dryRun {
		return 0, nil
	}
	a := &store.Area{
		Name:           c.Name,
		Type:           c.Type,
		Country:        c.Country,
		GenerationLow:  r.next,
		GenerationHigh: r.next,
		Codes:          c.Codes,
		Names:          c.Names,
	}
	id, err := r.areas.CreateArea(ctx, a, c.Shape)
	if err != nil {
		return 0, fmt.Errorf("creating area for %s: %w", c.Source, err)
	}
	r.claimed[id] = c.Source
	return id, nil
}

// match finds the existing area continuing c from the current generation,
// and the area already started in the new generation for c, if any
func (r *Reconciler) match(ctx context.Context, c *Candidate, d Decision) (prev, resumed *store.Area, err error) {
	var found []*store.Area

	switch d.Strategy {
	case TreatAsNew:
		return nil, nil, nil
	case MatchOverride:
		a, err := r.areas.Area(ctx, d.OverrideAreaID)
		if err != nil {
			return nil, nil, fmt.Errorf("override area: %w", err)
		}
		found = []*store.Area{a}
	case MatchByName:
		found, err = r.areas.AreasByName(ctx, c.Name, c.Type, c.Country)
	default:
		code := c.Codes[r.control.CodeType()]
		if code == "" {
			return nil, nil, nil
		}
		found, err = r.areas.AreasByCode(ctx, r.control.CodeType(), code)
	}
	if err != nil {
		return nil, nil, err
	}
	return r.pick(found)
}

// pick chooses the candidate with the highest generation_high among those
// that started no later than the current generation. Areas starting in the
// new generation are returned separately.
func (r *Reconciler) pick(found []*store.Area) (best, resumed *store.Area, err error) {
	live := 0
	for _, a := range found {
		if a.GenerationLow == r.next {
			if resumed != nil {
				return nil, nil, fmt.Errorf("%w: areas %d and %d both start in generation %d",
					ErrAmbiguousMatch, resumed.ID, a.ID, r.next)
			}
			resumed = a
			continue
		}
		if a.GenerationLow > r.current {
			continue
		}
		if a.LiveIn(r.current) {
			live++
		}
		if best == nil || a.GenerationHigh > best.GenerationHigh {
			best = a
		}
	}
	if best == nil {
		return nil, resumed, nil
	}
	if live > 1 {
		return nil, nil, fmt.Errorf("%w: %d areas live in generation %d", ErrAmbiguousMatch, live, r.current)
	}
	if best.GenerationHigh < r.current {
		return nil, nil, &InconsistencyError{AreaID: best.ID, GenerationHigh: best.GenerationHigh, Current: r.current}
	}
	return best, resumed, nil
}

func (r *Reconciler) sameShape(a, b orb.MultiPolygon) (bool, error) {
	var same bool
	err := geom.Catch(func() {
		same = SameShape(r.gctx, a, b)
	})
	return same, err
}

// SameShape reports exact equality after canonicalising both shapes with a
// zero tolerance simplify and normalisation
func SameShape(gctx *geos.Context, a, b orb.MultiPolygon) bool {
	ga := canonical(geom.FromMultiPolygon(gctx, a))
	gb := canonical(geom.FromMultiPolygon(gctx, b))
	return ga.EqualsExact(gb, 0)
}

func canonical(g *geos.Geom) *geos.Geom {
	return g.Simplify(0).Normalize()
}
