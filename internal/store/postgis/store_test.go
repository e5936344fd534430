package postgis

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/wegman-software/mapit-go/internal/store"
	"github.com/wegman-software/mapit-go/internal/wkb"
)

func TestSchemaStatements(t *testing.T) {
	stmts := SchemaStatements("mapit", false)

	if stmts[0] != "CREATE EXTENSION IF NOT EXISTS postgis" {
		t.Errorf("first statement = %q", stmts[0])
	}
	if stmts[1] != "CREATE SCHEMA IF NOT EXISTS mapit" {
		t.Errorf("second statement = %q", stmts[1])
	}

	order := []string{"mapit.generations", "mapit.areas", "mapit.codes", "mapit.names", "mapit.geometry", "mapit.postcodes"}
	last := -1
	for _, name := range order {
		found := -1
		for i, s := range stmts {
			if strings.Contains(s, "CREATE TABLE IF NOT EXISTS "+name+" (") {
				found = i
				break
			}
		}
		if found < 0 {
			t.Fatalf("no CREATE TABLE for %s", name)
		}
		if found < last {
			t.Errorf("%s created before a table it references", name)
		}
		last = found
	}

	for _, s := range stmts {
		if strings.Contains(s, "%!") || strings.Contains(s, "DROP TABLE") {
			t.Errorf("unexpected statement: %s", s)
		}
	}
}

func TestSchemaStatementsDrop(t *testing.T) {
	stmts := SchemaStatements("public", true)
	for _, s := range stmts {
		if strings.HasPrefix(s, "CREATE SCHEMA") {
			t.Error("public schema should not be created")
		}
	}
	if !strings.Contains(stmts[1], "DROP TABLE IF EXISTS public.postcodes") {
		t.Errorf("drops should start with dependent tables, got %q", stmts[1])
	}
}

func TestSchemaAddsPostcodeGenerationColumn(t *testing.T) {
	stmts := SchemaStatements("mapit", false)
	create, alter := -1, -1
	for i, s := range stmts {
		if strings.Contains(s, "CREATE TABLE IF NOT EXISTS mapit.postcodes (") && strings.Contains(s, "areas_generation BIGINT") {
			create = i
		}
		if s == "ALTER TABLE mapit.postcodes ADD COLUMN IF NOT EXISTS areas_generation BIGINT" {
			alter = i
		}
	}
	if create < 0 || alter < 0 || alter < create {
		t.Errorf("postcodes.areas_generation: create at %d, alter at %d", create, alter)
	}
}

func TestPostcodeSource(t *testing.T) {
	src := &postcodeSource{
		pcs: []store.Postcode{
			{Code: "sw1a 1aa", Point: orb.Point{-0.14, 51.5}},
			{Code: "EH1 1YZ", Point: orb.Point{-3.19, 55.95}},
		},
		enc: wkb.NewEncoder(32),
		idx: -1,
	}

	var rows [][]interface{}
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, v)
	}
	if src.Err() != nil || len(rows) != 2 {
		t.Fatalf("got %d rows, err %v", len(rows), src.Err())
	}
	if rows[0][0] != "SW1A1AA" || rows[1][0] != "EH11YZ" {
		t.Errorf("codes not normalised: %v %v", rows[0][0], rows[1][0])
	}

	// each row owns its bytes
	first := rows[0][1].([]byte)
	if srid := binary.LittleEndian.Uint32(first[5:9]); srid != 4326 {
		t.Errorf("srid = %d", srid)
	}
	if string(first) == string(rows[1][1].([]byte)) {
		t.Error("rows share an encoder buffer")
	}
}

func TestDecodePolygonRejectsPoint(t *testing.T) {
	// plain little-endian WKB point
	b := []byte{1, 1, 0, 0, 0}
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = binary.LittleEndian.AppendUint64(b, 0)
	if _, err := decodePolygon(b); err == nil {
		t.Error("expected error decoding a point as polygon")
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]string{"name:en": "", "name": "", "alt": ""})
	if strings.Join(got, ",") != "alt,name,name:en" {
		t.Errorf("sortedKeys() = %v", got)
	}
}
