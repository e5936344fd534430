package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint        = 1
	wkbPolygon      = 3
	wkbMultiPolygon = 6

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// SRID4326 is the storage projection for areas and postcodes
const SRID4326 = 4326

// Encoder encodes orb geometries to little-endian EWKB carrying an SRID.
// The returned slices alias the encoder's buffer until the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates an encoder for SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return NewEncoderWithSRID(initialSize, SRID4326)
}

// NewEncoderWithSRID creates an encoder for srid
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: uint32(srid),
	}
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// Reset clears the buffer for reuse
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// EncodePoint encodes a point
func (e *Encoder) EncodePoint(p orb.Point) []byte {
	e.Reset()
	e.ensureCapacity(25)
	e.header(wkbPoint)
	e.appendPoint(p)
	return e.buf
}

// EncodePolygon encodes a polygon with its holes
func (e *Encoder) EncodePolygon(p orb.Polygon) []byte {
	e.Reset()
	e.ensureCapacity(13 + polygonSize(p))
	e.header(wkbPolygon)
	e.appendRings(p)
	return e.buf
}

// EncodeMultiPolygon encodes a multipolygon. Member polygons carry no SRID.
func (e *Encoder) EncodeMultiPolygon(mp orb.MultiPolygon) []byte {
	e.Reset()
	size := 13
	for _, p := range mp {
		size += 5 + polygonSize(p)
	}
	e.ensureCapacity(size)

	e.header(wkbMultiPolygon)
	e.appendUint32(uint32(len(mp)))
	for _, p := range mp {
		e.buf = append(e.buf, 0x01)
		e.appendUint32(wkbPolygon)
		e.appendRings(p)
	}
	return e.buf
}

func (e *Encoder) header(geomType uint32) {
	e.buf = append(e.buf, 0x01)
	e.appendUint32(geomType | wkbSRIDFlag)
	e.appendUint32(e.srid)
}

func (e *Encoder) appendRings(p orb.Polygon) {
	e.appendUint32(uint32(len(p)))
	for _, ring := range p {
		e.appendUint32(uint32(len(ring)))
		for _, pt := range ring {
			e.appendPoint(pt)
		}
	}
}

func (e *Encoder) appendPoint(p orb.Point) {
	e.appendFloat64(p[0])
	e.appendFloat64(p[1])
}

// polygonSize is the encoded size of a polygon body without byte order and type
func polygonSize(p orb.Polygon) int {
	n := 4
	for _, r := range p {
		n += 4 + len(r)*16
	}
	return n
}

func (e *Encoder) ensureCapacity(n int) {
	if cap(e.buf) < n {
		e.buf = make([]byte, 0, n)
	}
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
