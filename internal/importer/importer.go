// Package importer runs a boundary import: parse OSM data, build and repair
// the selected boundaries in parallel, then reconcile them into the new
// generation one at a time.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapit-go/internal/boundary"
	"github.com/wegman-software/mapit-go/internal/control"
	"github.com/wegman-software/mapit-go/internal/element"
	"github.com/wegman-software/mapit-go/internal/geom"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/metrics"
	"github.com/wegman-software/mapit-go/internal/osmdoc"
	"github.com/wegman-software/mapit-go/internal/reconcile"
	"github.com/wegman-software/mapit-go/internal/repair"
	"github.com/wegman-software/mapit-go/internal/store"
)

// Options tunes an import run
type Options struct {
	Workers            int
	DryRun             bool
	MaxPerimeterChange float64
	// Resolver fills in elements referenced but absent from XML input; may be nil
	Resolver osmdoc.Resolver
	// Metrics receives run counters; may be nil
	Metrics *metrics.Run
}

// Stats summarises an import run
type Stats struct {
	Nodes, Ways, Relations int64
	Selected               int
	Built                  int
	Repaired               int
	Skipped                int
	Created                int
	Unchanged              int
	Changed                int
	Generation             int64
	Duration               time.Duration
}

// Importer imports boundaries into a store
type Importer struct {
	store   store.Store
	control *control.Control
	opts    Options
	log     *zap.Logger
}

// New creates an importer
func New(s store.Store, c *control.Control, opts Options) *Importer {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxPerimeterChange <= 0 {
		opts.MaxPerimeterChange = repair.DefaultMaxPerimeterChange
	}
	return &Importer{store: s, control: c, opts: opts, log: logger.Named("import")}
}

// ImportFile imports an .osm, .osm.gz or .osm.pbf file
func (im *Importer) ImportFile(ctx context.Context, path string) (*Stats, error) {
	start := time.Now()
	arena := element.NewArena()
	var selected []element.Element
	collect := func(e element.Element) error {
		if im.control.Select(e) {
			selected = append(selected, e)
		}
		return nil
	}

	var ps osmdoc.Stats
	if strings.HasSuffix(path, ".pbf") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		if ps, err = osmdoc.ReadPBF(ctx, f, arena, collect); err != nil {
			return nil, err
		}
	} else {
		p := osmdoc.NewParser(arena, im.opts.Resolver)
		if err := p.ParseFile(ctx, path, collect); err != nil {
			return nil, err
		}
		ps = p.Stats()
	}

	im.log.Info("Parsed input",
		zap.String("file", path),
		zap.String("nodes", humanize.Comma(ps.Nodes)),
		zap.String("ways", humanize.Comma(ps.Ways)),
		zap.String("relations", humanize.Comma(ps.Relations)),
		zap.Int64("skipped_members", ps.SkippedMembers),
		zap.Int64("placeholders", ps.Placeholders),
		zap.Int("selected", len(selected)))

	stats, err := im.Import(ctx, arena, selected)
	if stats != nil {
		stats.Nodes, stats.Ways, stats.Relations = ps.Nodes, ps.Ways, ps.Relations
		stats.Duration = time.Since(start)
	}
	return stats, err
}

// Import builds and reconciles selected boundaries whose members are in arena
func (im *Importer) Import(ctx context.Context, arena *element.Arena, selected []element.Element) (*Stats, error) {
	start := time.Now()
	current, next, err := reconcile.Generations(ctx, im.store)
	if err != nil {
		return nil, fmt.Errorf("import needs a new generation: %w", err)
	}
	stats := &Stats{Selected: len(selected), Generation: next}

	// relations before ways, each in id order
	sort.Slice(selected, func(i, j int) bool {
		a, b := selected[i].Key(), selected[j].Key()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})

	results, err := im.buildAll(ctx, arena, selected)
	if err != nil {
		return stats, err
	}

	gctx := geos.NewContext()
	rec := reconcile.New(im.store, im.control, gctx, current, next).WithDryRun(im.opts.DryRun)
	for i, e := range selected {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		r := results[i]
		if r.skip {
			stats.Skipped++
			im.count("skipped")
			continue
		}
		if r.repaired {
			stats.Repaired++
		}
		stats.Built++

		cand, ok := im.control.Candidate(e, r.shape)
		if !ok {
			continue
		}
		out, err := rec.Reconcile(ctx, cand)
		if err != nil {
			return stats, fmt.Errorf("reconciliation aborted: %w", err)
		}
		im.count(out.State.String())
		switch out.State {
		case reconcile.Created:
			stats.Created++
		case reconcile.Unchanged:
			stats.Unchanged++
		case reconcile.Changed:
			stats.Changed++
		}
	}

	stats.Duration = time.Since(start)
	im.log.Info("Import complete",
		zap.Int64("generation", next),
		zap.Bool("dry_run", im.opts.DryRun),
		zap.Int("built", stats.Built),
		zap.Int("repaired", stats.Repaired),
		zap.Int("skipped", stats.Skipped),
		zap.Int("created", stats.Created),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("changed", stats.Changed),
		zap.Duration("duration", time.Since(start)))
	return stats, nil
}

type buildResult struct {
	shape    orb.MultiPolygon
	repaired bool
	skip     bool
}

// buildAll builds every selected element on Workers goroutines, each with
// its own GEOS context. Results are indexed like selected.
func (im *Importer) buildAll(ctx context.Context, arena *element.Arena, selected []element.Element) ([]buildResult, error) {
	results := make([]buildResult, len(selected))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range selected {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers := im.opts.Workers
	if workers > len(selected) {
		workers = len(selected)
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			geosCtx := geos.NewContext()
			builder := boundary.NewBuilder(arena, geosCtx)
			repairer := repair.New(geosCtx).WithMaxPerimeterChange(im.opts.MaxPerimeterChange)
			for i := range jobs {
				results[i] = im.build(builder, repairer, geosCtx, selected[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// build turns one element into a valid shape; failures are logged and skipped
func (im *Importer) build(b *boundary.Builder, r *repair.Repairer, gctx *geos.Context, e element.Element) buildResult {
	start := time.Now()
	if im.opts.Metrics != nil {
		defer func() { im.opts.Metrics.BuildSeconds.Observe(time.Since(start).Seconds()) }()
	}

	var res buildResult
	err := geom.Catch(func() {
		shape, err := b.Build(e)
		if err != nil {
			im.warnSkip(e, err)
			res.skip = true
			return
		}
		if len(shape) == 0 {
			im.log.Warn("Skipping boundary with no polygons", zap.Stringer("element", e.Key()))
			res.skip = true
			return
		}

		fixed := r.Fix(geom.FromMultiPolygon(gctx, shape))
		if fixed.Empty() {
			im.log.Warn("Skipping unrepairable boundary",
				zap.Stringer("element", e.Key()), zap.Int("dropped", fixed.Dropped))
			res.skip = true
			return
		}
		if fixed.Strategy != repair.StrategyNone {
			res.repaired = true
			if im.opts.Metrics != nil {
				im.opts.Metrics.Repairs.WithLabelValues(fixed.Strategy.String()).Inc()
			}
		}
		res.shape, err = geom.ToMultiPolygon(fixed.Geom)
		if err != nil {
			im.warnSkip(e, err)
			res.skip = true
		}
	})
	if err != nil {
		im.warnSkip(e, err)
		res.skip = true
	}
	return res
}

func (im *Importer) warnSkip(e element.Element, err error) {
	fields := []zap.Field{zap.Stringer("element", e.Key()), zap.Error(err)}

	var unclosed *boundary.UnclosedBoundaryError
	var missing *element.MissingNodeError
	switch {
	case errors.As(err, &unclosed):
		fields = append(fields, zap.String("endpoints", unclosed.Pretty()))
		im.log.Warn("Skipping unclosed boundary", fields...)
	case errors.As(err, &missing):
		im.log.Warn("Skipping boundary with missing node", append(fields, zap.Int64("node", missing.NodeID))...)
	default:
		im.log.Warn("Skipping boundary", fields...)
	}
}

func (im *Importer) count(outcome string) {
	if im.opts.Metrics != nil {
		im.opts.Metrics.Boundaries.WithLabelValues(outcome).Inc()
	}
}
