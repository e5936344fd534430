package reconcile

import (
	"context"
	"fmt"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/geom"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/spatial"
	"github.com/wegman-software/mapit-go/internal/store"
)

// ParentStore is what parent assignment reads and writes
type ParentStore interface {
	store.Areas
	store.Spatial
}

// ParentStats summarises a FindParents run
type ParentStats struct {
	Children int
	Assigned int
	Orphans  int
}

// FindParents sets the parent of every childType area live in generation to
// the smallest live parentType area covering it. Children with no covering
// parent keep no parent.
func FindParents(ctx context.Context, s ParentStore, gctx *geos.Context, generation int64, childType, parentType string, dryRun bool) (ParentStats, error) {
	log := logger.Named("parents")
	var stats ParentStats

	children, err := s.AreasLiveIn(ctx, generation, []string{childType})
	if err != nil {
		return stats, fmt.Errorf("listing %s areas: %w", childType, err)
	}

	areaOf := make(map[int64]float64)
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Children++

		parents, err := s.Related(ctx, spatial.Query{
			AreaID:     child.ID,
			Predicates: []spatial.Predicate{spatial.CoveredBy},
			Types:      []string{parentType},
			Generation: generation,
		})
		if err != nil {
			return stats, fmt.Errorf("finding parents of area %d: %w", child.ID, err)
		}

		var best *store.Area
		for _, p := range parents {
			size, ok := areaOf[p.ID]
			if !ok {
				if size, err = shapeArea(ctx, s, gctx, p.ID); err != nil {
					return stats, err
				}
				areaOf[p.ID] = size
			}
			if best == nil || size < areaOf[best.ID] {
				best = p
			}
		}

		if best == nil {
			stats.Orphans++
			log.Warn("No parent found", zap.Int64("area_id", child.ID), zap.String("name", child.Name))
			continue
		}
		stats.Assigned++
		if dryRun {
			continue
		}
		parentID := best.ID
		if err := s.SetParent(ctx, child.ID, &parentID); err != nil {
			return stats, err
		}
	}

	log.Info("Parent assignment complete",
		zap.String("child_type", childType),
		zap.String("parent_type", parentType),
		zap.Int("children", stats.Children),
		zap.Int("assigned", stats.Assigned),
		zap.Int("orphans", stats.Orphans))
	return stats, nil
}

func shapeArea(ctx context.Context, s store.Areas, gctx *geos.Context, id int64) (float64, error) {
	mp, err := s.Geometry(ctx, id)
	if err != nil {
		return 0, err
	}
	var size float64
	err = geom.Catch(func() {
		size = geom.FromMultiPolygon(gctx, mp).Area()
	})
	return size, err
}
