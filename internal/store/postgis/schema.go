// Package postgis stores generations, areas and postcodes in PostgreSQL
// with PostGIS geometry columns.
package postgis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/logger"
)

// tables lists the schema in creation order. Each statement takes the
// schema name for every %[1]s.
var tables = []struct {
	name   string
	schema string
}{
	{
		name: "generations",
		schema: `
			CREATE TABLE IF NOT EXISTS %[1]s.generations (
				id BIGSERIAL PRIMARY KEY,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				description TEXT NOT NULL DEFAULT '',
				created TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
	},
	{
		name: "areas",
		schema: `
			CREATE TABLE IF NOT EXISTS %[1]s.areas (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL,
				country TEXT NOT NULL DEFAULT '',
				parent_area_id BIGINT REFERENCES %[1]s.areas(id) ON DELETE SET NULL,
				generation_low BIGINT NOT NULL REFERENCES %[1]s.generations(id),
				generation_high BIGINT NOT NULL REFERENCES %[1]s.generations(id),
				CHECK (generation_low <= generation_high)
			)`,
	},
	{
		name: "codes",
		schema: `
			CREATE TABLE IF NOT EXISTS %[1]s.codes (
				area_id BIGINT NOT NULL REFERENCES %[1]s.areas(id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				code TEXT NOT NULL,
				PRIMARY KEY (area_id, type)
			)`,
	},
	{
		name: "names",
		schema: `
			CREATE TABLE IF NOT EXISTS %[1]s.names (
				area_id BIGINT NOT NULL REFERENCES %[1]s.areas(id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				name TEXT NOT NULL,
				PRIMARY KEY (area_id, type)
			)`,
	},
	{
		name: "geometry",
		schema: `
			CREATE TABLE IF NOT EXISTS %[1]s.geometry (
				id BIGSERIAL PRIMARY KEY,
				area_id BIGINT NOT NULL REFERENCES %[1]s.areas(id) ON DELETE CASCADE,
				polygon geometry(Polygon, 4326) NOT NULL
			)`,
	},
	{
		name: "postcodes",
		schema: `
			CREATE TABLE IF NOT EXISTS %[1]s.postcodes (
				code TEXT PRIMARY KEY,
				location geometry(Point, 4326) NOT NULL,
				areas BIGINT[],
				areas_generation BIGINT
			)`,
	},
}

// columns added after the first release, applied to existing tables
var columns = []string{
	"ALTER TABLE %[1]s.postcodes ADD COLUMN IF NOT EXISTS areas_generation BIGINT",
}

var indexes = []struct {
	name string
	sql  string
}{
	{"geometry_area_idx", "CREATE INDEX IF NOT EXISTS geometry_area_idx ON %[1]s.geometry (area_id)"},
	{"geometry_polygon_idx", "CREATE INDEX IF NOT EXISTS geometry_polygon_idx ON %[1]s.geometry USING GIST (polygon)"},
	{"areas_generation_idx", "CREATE INDEX IF NOT EXISTS areas_generation_idx ON %[1]s.areas (generation_low, generation_high)"},
	{"areas_type_idx", "CREATE INDEX IF NOT EXISTS areas_type_idx ON %[1]s.areas (type)"},
	{"codes_code_idx", "CREATE INDEX IF NOT EXISTS codes_code_idx ON %[1]s.codes (type, code)"},
	{"postcodes_location_idx", "CREATE INDEX IF NOT EXISTS postcodes_location_idx ON %[1]s.postcodes USING GIST (location)"},
}

// SchemaStatements returns the DDL for schema in execution order
func SchemaStatements(schema string, dropExisting bool) []string {
	var out []string
	out = append(out, "CREATE EXTENSION IF NOT EXISTS postgis")
	if schema != "public" {
		out = append(out, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	}
	if dropExisting {
		for i := len(tables) - 1; i >= 0; i-- {
			out = append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s CASCADE", schema, tables[i].name))
		}
	}
	for _, t := range tables {
		out = append(out, fmt.Sprintf(t.schema, schema))
	}
	for _, c := range columns {
		out = append(out, fmt.Sprintf(c, schema))
	}
	for _, idx := range indexes {
		out = append(out, fmt.Sprintf(idx.sql, schema))
	}
	return out
}

// EnsureSchema creates the tables and indexes if they don't exist
func (s *Store) EnsureSchema(ctx context.Context, dropExisting bool) error {
	log := logger.Named("postgis")
	log.Info("Ensuring schema", zap.String("schema", s.schema), zap.Bool("drop", dropExisting))

	for _, stmt := range SchemaStatements(s.schema, dropExisting) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
