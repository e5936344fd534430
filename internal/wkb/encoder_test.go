package wkb

import (
	"encoding/binary"
	"testing"

	"github.com/paulmach/orb"
	orbwkb "github.com/paulmach/orb/encoding/wkb"
)

func TestEncodePointHeader(t *testing.T) {
	e := NewEncoder(32)
	b := e.EncodePoint(orb.Point{-0.1, 51.5})

	if len(b) != 25 {
		t.Fatalf("len = %d, want 25", len(b))
	}
	if b[0] != 0x01 {
		t.Errorf("byte order = %x, want little-endian", b[0])
	}
	if typ := binary.LittleEndian.Uint32(b[1:5]); typ != wkbPoint|wkbSRIDFlag {
		t.Errorf("type = %x", typ)
	}
	if srid := binary.LittleEndian.Uint32(b[5:9]); srid != 4326 {
		t.Errorf("srid = %d", srid)
	}
}

// stripSRID turns EWKB with an SRID into plain WKB so orb can read it back
func stripSRID(b []byte) []byte {
	out := make([]byte, 0, len(b)-4)
	out = append(out, b[0])
	typ := binary.LittleEndian.Uint32(b[1:5]) &^ wkbSRIDFlag
	out = binary.LittleEndian.AppendUint32(out, typ)
	return append(out, b[9:]...)
}

func TestEncodeMultiPolygonDecodes(t *testing.T) {
	mp := orb.MultiPolygon{
		{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}},
		},
		{
			{{20, 20}, {25, 20}, {25, 25}, {20, 20}},
		},
	}

	e := NewEncoderWithSRID(0, 3857)
	b := e.EncodeMultiPolygon(mp)
	if e.SRID() != 3857 || binary.LittleEndian.Uint32(b[5:9]) != 3857 {
		t.Errorf("srid not written")
	}

	g, err := orbwkb.Unmarshal(stripSRID(b))
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	got, ok := g.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("decoded %T, want MultiPolygon", g)
	}
	if !got.Equal(mp) {
		t.Errorf("decoded %v, want %v", got, mp)
	}
}

func TestEncodePolygonReusesBuffer(t *testing.T) {
	e := NewEncoder(8)
	p := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}

	first := append([]byte(nil), e.EncodePolygon(p)...)
	second := e.EncodePolygon(p)
	if string(first) != string(second) {
		t.Error("encoding the same polygon twice should give the same bytes")
	}
	if want := 13 + polygonSize(p); len(second) != want {
		t.Errorf("len = %d, want %d", len(second), want)
	}
}
