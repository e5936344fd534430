// Package postcode loads postcode centroids and answers which areas contain
// a postcode or point.
package postcode

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/metrics"
	"github.com/wegman-software/mapit-go/internal/spatial"
	"github.com/wegman-software/mapit-go/internal/store"
)

// DefaultBatchSize is the number of postcodes loaded per store call
const DefaultBatchSize = 10000

// Import reads code,lat,lon rows from r and stores them in batches. A first
// row whose lat is not a number is taken as a header.
func Import(ctx context.Context, s store.Postcodes, r io.Reader, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	log := logger.Named("postcode")

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var total int64
	batch := make([]store.Postcode, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.PutPostcodes(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		log.Debug("Postcode batch stored", zap.Int64("total", total))
		return nil
	}

	for line := 1; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 3 {
			return total, fmt.Errorf("line %d: want code,lat,lon, got %d fields", line, len(rec))
		}

		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if latErr != nil || lonErr != nil {
			if line == 1 {
				continue
			}
			return total, fmt.Errorf("line %d: bad coordinates %q,%q", line, rec[1], rec[2])
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return total, fmt.Errorf("line %d: coordinates out of range", line)
		}
		code := store.NormalizePostcode(rec[0])
		if code == "" {
			return total, fmt.Errorf("line %d: empty postcode", line)
		}

		batch = append(batch, store.Postcode{Code: code, Point: orb.Point{lon, lat}})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
		if line%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	log.Info("Postcodes imported", zap.Int64("count", total))
	return total, nil
}

// Result is a postcode with the areas containing it
type Result struct {
	Postcode *store.Postcode
	Areas    []*store.Area
}

// Service answers lookups against the current generation. The cache and
// metrics are optional.
type Service struct {
	store   store.Store
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Run
	log     *zap.Logger
}

// NewService creates a lookup service
func NewService(s store.Store, cache Cache, ttl time.Duration, m *metrics.Run) *Service {
	return &Service{store: s, cache: cache, ttl: ttl, metrics: m, log: logger.Named("lookup")}
}

// Lookup returns the postcode and the live areas containing it. The area
// set is cached and persisted on the postcode row with the generation it
// was computed for; a set from another generation is recomputed.
func (s *Service) Lookup(ctx context.Context, code string) (*Result, error) {
	pc, err := s.store.Postcode(ctx, code)
	if err != nil {
		s.count("postcode", "missing")
		return nil, err
	}
	gen, err := s.store.CurrentGeneration(ctx)
	if err != nil {
		return nil, err
	}

	key := PostcodeKey(gen.ID, pc.Code)
	if areas, ok := s.fromCache(ctx, key, gen.ID); ok {
		s.count("postcode", "hit")
		return &Result{Postcode: pc, Areas: areas}, nil
	}
	if pc.AreasGeneration == gen.ID {
		if areas, ok := s.fromIDs(ctx, pc.Areas, gen.ID); ok {
			s.count("postcode", "stored")
			s.toCache(ctx, key, pc.Areas)
			return &Result{Postcode: pc, Areas: areas}, nil
		}
	}

	areas, err := s.covering(ctx, pc.Point, gen.ID)
	if err != nil {
		return nil, err
	}
	ids := idsOf(areas)
	if err := s.store.SetPostcodeAreas(ctx, pc.Code, gen.ID, ids); err != nil {
		return nil, err
	}
	pc.Areas, pc.AreasGeneration = ids, gen.ID
	s.toCache(ctx, key, ids)
	s.count("postcode", "computed")
	return &Result{Postcode: pc, Areas: areas}, nil
}

// LookupPoint returns the live areas covering a lon/lat point
func (s *Service) LookupPoint(ctx context.Context, lon, lat float64) ([]*store.Area, error) {
	gen, err := s.store.CurrentGeneration(ctx)
	if err != nil {
		return nil, err
	}
	key := PointKey(gen.ID, lon, lat)
	if areas, ok := s.fromCache(ctx, key, gen.ID); ok {
		s.count("point", "hit")
		return areas, nil
	}
	areas, err := s.covering(ctx, orb.Point{lon, lat}, gen.ID)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, key, idsOf(areas))
	s.count("point", "computed")
	return areas, nil
}

func (s *Service) covering(ctx context.Context, pt orb.Point, generation int64) ([]*store.Area, error) {
	return s.store.Related(ctx, spatial.Query{
		Point:      &pt,
		Predicates: []spatial.Predicate{spatial.CoveredBy},
		Generation: generation,
	})
}

func (s *Service) fromCache(ctx context.Context, key string, generation int64) ([]*store.Area, bool) {
	if s.cache == nil {
		return nil, false
	}
	ids, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Lookup cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return s.fromIDs(ctx, ids, generation)
}

// fromIDs loads areas by id, failing if any is gone or not live in generation
func (s *Service) fromIDs(ctx context.Context, ids []int64, generation int64) ([]*store.Area, bool) {
	if ids == nil {
		return nil, false
	}
	areas := make([]*store.Area, 0, len(ids))
	for _, id := range ids {
		a, err := s.store.Area(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Warn("Cached area unreadable", zap.Int64("area_id", id), zap.Error(err))
			}
			return nil, false
		}
		if !a.LiveIn(generation) {
			return nil, false
		}
		areas = append(areas, a)
	}
	return areas, true
}

func (s *Service) toCache(ctx context.Context, key string, ids []int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, ids, s.ttl); err != nil {
		s.log.Warn("Lookup cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) count(kind, result string) {
	if s.metrics != nil {
		s.metrics.Lookups.WithLabelValues(kind, result).Inc()
	}
}

func idsOf(areas []*store.Area) []int64 {
	ids := make([]int64, len(areas))
	for i, a := range areas {
		ids[i] = a.ID
	}
	return ids
}
