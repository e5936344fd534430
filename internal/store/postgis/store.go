package postgis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	orbwkb "github.com/paulmach/orb/encoding/wkb"

	"github.com/wegman-software/mapit-go/internal/config"
	"github.com/wegman-software/mapit-go/internal/spatial"
	"github.com/wegman-software/mapit-go/internal/store"
	"github.com/wegman-software/mapit-go/internal/wkb"
)

// Store implements store.Store on PostGIS. Geometry is stored in EPSG:4326,
// one row per polygon.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

var _ store.Store = (*Store)(nil)

// Open connects to the database named by cfg
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Workers)
	if poolConfig.MaxConns < 2 {
		poolConfig.MaxConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return &Store{pool: pool, schema: cfg.DBSchema}, nil
}

// Close closes connections
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) table(name string) string {
	return s.schema + "." + name
}

// Generations

func (s *Store) ListGenerations(ctx context.Context) ([]store.Generation, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT id, active, description, created FROM %s ORDER BY id", s.table("generations")))
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return pgx.CollectRows(rows, scanGeneration)
}

func scanGeneration(row pgx.CollectableRow) (store.Generation, error) {
	var g store.Generation
	err := row.Scan(&g.ID, &g.Active, &g.Description, &g.Created)
	return g, err
}

func (s *Store) CurrentGeneration(ctx context.Context) (*store.Generation, error) {
	g, err := s.oneGeneration(ctx, "WHERE active ORDER BY id DESC LIMIT 1")
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoActiveGeneration
	}
	return g, err
}

func (s *Store) NewGeneration(ctx context.Context) (*store.Generation, error) {
	g, err := s.oneGeneration(ctx, "ORDER BY id DESC LIMIT 1")
	if errors.Is(err, store.ErrNotFound) || (err == nil && g.Active) {
		return nil, store.ErrNoNewGeneration
	}
	return g, err
}

func (s *Store) oneGeneration(ctx context.Context, clause string) (*store.Generation, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT id, active, description, created FROM %s %s", s.table("generations"), clause))
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	g, err := pgx.CollectOneRow(rows, scanGeneration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) CreateGeneration(ctx context.Context, description string) (*store.Generation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// serialise concurrent creators
	if _, err := tx.Exec(ctx, fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", s.table("generations"))); err != nil {
		return nil, fmt.Errorf("failed to lock generations: %w", err)
	}

	var pending bool
	err = tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %[1]s WHERE NOT active AND id > COALESCE((SELECT max(id) FROM %[1]s WHERE active), 0))",
		s.table("generations"))).Scan(&pending)
	if err != nil {
		return nil, fmt.Errorf("failed to check for new generation: %w", err)
	}
	if pending {
		return nil, store.ErrNewGenerationExists
	}

	var g store.Generation
	err = tx.QueryRow(ctx, fmt.Sprintf(
		"INSERT INTO %s (description) VALUES ($1) RETURNING id, active, description, created", s.table("generations")),
		description).Scan(&g.ID, &g.Active, &g.Description, &g.Created)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &g, nil
}

func (s *Store) ActivateGeneration(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET active = TRUE WHERE id = $1", s.table("generations")), id)
	if err != nil {
		return fmt.Errorf("failed to activate generation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("generation %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// Areas

const areaColumns = "a.id, a.name, a.type, a.country, a.parent_area_id, a.generation_low, a.generation_high"

func (s *Store) Area(ctx context.Context, id int64) (*store.Area, error) {
	areas, err := s.queryAreas(ctx, "WHERE a.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(areas) == 0 {
		return nil, fmt.Errorf("area %d: %w", id, store.ErrNotFound)
	}
	return areas[0], nil
}

func (s *Store) AreasByCode(ctx context.Context, codeType, code string) ([]*store.Area, error) {
	return s.queryAreas(ctx, fmt.Sprintf(
		"JOIN %s c ON c.area_id = a.id WHERE c.type = $1 AND c.code = $2", s.table("codes")), codeType, code)
}

func (s *Store) AreasByName(ctx context.Context, name, areaType, country string) ([]*store.Area, error) {
	return s.queryAreas(ctx, "WHERE a.name = $1 AND a.type = $2 AND a.country = $3", name, areaType, country)
}

func (s *Store) AreasLiveIn(ctx context.Context, generation int64, types []string) ([]*store.Area, error) {
	if len(types) == 0 {
		return s.queryAreas(ctx, "WHERE a.generation_low <= $1 AND a.generation_high >= $1", generation)
	}
	return s.queryAreas(ctx,
		"WHERE a.generation_low <= $1 AND a.generation_high >= $1 AND a.type = ANY($2)", generation, types)
}

// queryAreas loads areas matching clause together with their codes and names
func (s *Store) queryAreas(ctx context.Context, clause string, args ...interface{}) ([]*store.Area, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s a %s ORDER BY a.id",
		areaColumns, s.table("areas"), clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query areas: %w", err)
	}
	areas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Area, error) {
		a := &store.Area{Codes: map[string]string{}, Names: map[string]string{}}
		err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Country, &a.ParentID, &a.GenerationLow, &a.GenerationHigh)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan areas: %w", err)
	}
	if len(areas) == 0 {
		return nil, nil
	}
	return areas, s.attachLabels(ctx, areas)
}

// attachLabels fills Codes and Names for areas
func (s *Store) attachLabels(ctx context.Context, areas []*store.Area) error {
	byID := make(map[int64]*store.Area, len(areas))
	ids := make([]int64, len(areas))
	for i, a := range areas {
		byID[a.ID] = a
		ids[i] = a.ID
	}

	for _, l := range []struct {
		table string
		value string
		dst   func(*store.Area) map[string]string
	}{
		{"codes", "code", func(a *store.Area) map[string]string { return a.Codes }},
		{"names", "name", func(a *store.Area) map[string]string { return a.Names }},
	} {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(
			"SELECT area_id, type, %s FROM %s WHERE area_id = ANY($1)", l.value, s.table(l.table)), ids)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", l.table, err)
		}
		var areaID int64
		var typ, value string
		_, err = pgx.ForEachRow(rows, []any{&areaID, &typ, &value}, func() error {
			if a := byID[areaID]; a != nil {
				l.dst(a)[typ] = value
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", l.table, err)
		}
	}
	return nil
}

func (s *Store) Geometry(ctx context.Context, id int64) (orb.MultiPolygon, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT ST_AsBinary(polygon) FROM %s WHERE area_id = $1 ORDER BY id", s.table("geometry")), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query geometry: %w", err)
	}
	polys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orb.Polygon, error) {
		var b []byte
		if err := row.Scan(&b); err != nil {
			return nil, err
		}
		return decodePolygon(b)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read geometry for area %d: %w", id, err)
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("geometry for area %d: %w", id, store.ErrNotFound)
	}
	return orb.MultiPolygon(polys), nil
}

func decodePolygon(b []byte) (orb.Polygon, error) {
	g, err := orbwkb.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	p, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("expected polygon, got %s", g.GeoJSONType())
	}
	return p, nil
}

func (s *Store) CreateArea(ctx context.Context, a *store.Area, shape orb.MultiPolygon) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, type, country, parent_area_id, generation_low, generation_high)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, s.table("areas")),
		a.Name, a.Type, a.Country, a.ParentID, a.GenerationLow, a.GenerationHigh).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert area: %w", err)
	}

	batch := &pgx.Batch{}
	s.queueLabels(batch, id, a.Names, a.Codes)

	enc := wkb.NewEncoder(1024)
	insertPolygon := fmt.Sprintf("INSERT INTO %s (area_id, polygon) VALUES ($1, ST_GeomFromEWKB($2))", s.table("geometry"))
	for _, p := range shape {
		b := append([]byte(nil), enc.EncodePolygon(p)...)
		batch.Queue(insertPolygon, id, b)
	}

	if err := sendBatch(ctx, tx, batch); err != nil {
		return 0, fmt.Errorf("failed to insert area %d details: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return id, nil
}

// queueLabels upserts names and codes in a stable order
func (s *Store) queueLabels(batch *pgx.Batch, id int64, names, codes map[string]string) {
	upsert := func(table, column string, values map[string]string) {
		sql := fmt.Sprintf(`INSERT INTO %s (area_id, type, %[2]s) VALUES ($1, $2, $3)
			ON CONFLICT (area_id, type) DO UPDATE SET %[2]s = EXCLUDED.%[2]s`, s.table(table), column)
		for _, k := range sortedKeys(values) {
			batch.Queue(sql, id, k, values[k])
		}
	}
	upsert("names", "name", names)
	upsert("codes", "code", codes)
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (s *Store) ExtendArea(ctx context.Context, id, generationHigh int64, names, codes map[string]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET generation_high = $2 WHERE id = $1", s.table("areas")), id, generationHigh)
	if err != nil {
		return fmt.Errorf("failed to extend area %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("area %d: %w", id, store.ErrNotFound)
	}

	batch := &pgx.Batch{}
	s.queueLabels(batch, id, names, codes)
	if err := sendBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("failed to refresh labels for area %d: %w", id, err)
	}
	return tx.Commit(ctx)
}

// ReplaceGeometry rewrites an area's polygon rows in one transaction
func (s *Store) ReplaceGeometry(ctx context.Context, id int64, shape orb.MultiPolygon, names, codes map[string]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", s.table("areas")), id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up area %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("area %d: %w", id, store.ErrNotFound)
	}

	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf("DELETE FROM %s WHERE area_id = $1", s.table("geometry")), id)
	s.queueLabels(batch, id, names, codes)
	enc := wkb.NewEncoder(1024)
	insertPolygon := fmt.Sprintf("INSERT INTO %s (area_id, polygon) VALUES ($1, ST_GeomFromEWKB($2))", s.table("geometry"))
	for _, p := range shape {
		b := append([]byte(nil), enc.EncodePolygon(p)...)
		batch.Queue(insertPolygon, id, b)
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("failed to replace geometry of area %d: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) SetParent(ctx context.Context, id int64, parentID *int64) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET parent_area_id = $2 WHERE id = $1", s.table("areas")), id, parentID)
	if err != nil {
		return fmt.Errorf("failed to set parent of area %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("area %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// Spatial

func (s *Store) Related(ctx context.Context, q spatial.Query) ([]*store.Area, error) {
	if q.Generation == 0 {
		g, err := s.CurrentGeneration(ctx)
		if err != nil {
			return nil, err
		}
		q.Generation = g.ID
	}

	sql, args, err := q.SQL(s.schema, wkb.SRID4326)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("spatial query failed: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("spatial query failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryAreas(ctx, "WHERE a.id = ANY($1)", ids)
}

// Postcodes

func (s *Store) Postcode(ctx context.Context, code string) (*store.Postcode, error) {
	code = store.NormalizePostcode(code)
	pc := &store.Postcode{Code: code}
	var areasGeneration *int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT ST_X(location), ST_Y(location), areas, areas_generation FROM %s WHERE code = $1", s.table("postcodes")), code).
		Scan(&pc.Point[0], &pc.Point[1], &pc.Areas, &areasGeneration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postcode %s: %w", code, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read postcode %s: %w", code, err)
	}
	if areasGeneration != nil {
		pc.AreasGeneration = *areasGeneration
	}
	return pc, nil
}

// PutPostcodes bulk loads postcodes through a temporary table and upserts
// them. Cached area sets of replaced postcodes are cleared.
func (s *Store) PutPostcodes(ctx context.Context, pcs []store.Postcode) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const tempTable = "postcode_load_tmp"
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			code TEXT,
			location_wkb BYTEA
		) ON COMMIT DROP`, tempTable)); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	count, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, []string{"code", "location_wkb"},
		&postcodeSource{pcs: pcs, enc: wkb.NewEncoder(32), idx: -1})
	if err != nil {
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (code, location)
		SELECT DISTINCT ON (code) code, ST_GeomFromEWKB(location_wkb) FROM %s
		ON CONFLICT (code) DO UPDATE SET location = EXCLUDED.location, areas = NULL, areas_generation = NULL`,
		s.table("postcodes"), tempTable)); err != nil {
		return 0, fmt.Errorf("failed to insert from temp table: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return count, nil
}

func (s *Store) SetPostcodeAreas(ctx context.Context, code string, generation int64, areas []int64) error {
	code = store.NormalizePostcode(code)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET areas = $2, areas_generation = $3 WHERE code = $1",
		s.table("postcodes")), code, areas, generation)
	if err != nil {
		return fmt.Errorf("failed to store areas for %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postcode %s: %w", code, store.ErrNotFound)
	}
	return nil
}

// postcodeSource implements pgx.CopyFromSource over a postcode slice
type postcodeSource struct {
	pcs []store.Postcode
	enc *wkb.Encoder
	idx int
}

func (r *postcodeSource) Next() bool {
	r.idx++
	return r.idx < len(r.pcs)
}

func (r *postcodeSource) Values() ([]interface{}, error) {
	pc := r.pcs[r.idx]
	b := append([]byte(nil), r.enc.EncodePoint(pc.Point)...)
	return []interface{}{store.NormalizePostcode(pc.Code), b}, nil
}

func (r *postcodeSource) Err() error {
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
