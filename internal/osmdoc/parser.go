package osmdoc

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/element"
	"github.com/wegman-software/mapit-go/internal/logger"
)

// SkipRoles are administrative member roles that are recognised but never
// resolved into the element graph
var SkipRoles = map[string]bool{
	"subarea":  true,
	"defaults": true,
	"apply_to": true,
}

// Resolver supplies elements referenced by, but not contained in, a document.
// It returns every element it could load for key (for a way or relation this
// usually includes its nodes). A key that is confirmed absent yields no elements.
type Resolver interface {
	Resolve(ctx context.Context, key element.Key) ([]element.Element, error)
}

// Stats holds parsing statistics
type Stats struct {
	Nodes          int64
	Ways           int64
	Relations      int64
	SkippedMembers int64
	Resolved       int64
	Placeholders   int64
}

// Parser parses OSM XML documents into an element arena
type Parser struct {
	arena    *element.Arena
	resolver Resolver
	stats    Stats
	visiting map[element.Key]bool
}

// NewParser creates a parser that adds everything it reads to arena.
// resolver may be nil, in which case unknown references become placeholders.
func NewParser(arena *element.Arena, resolver Resolver) *Parser {
	return &Parser{
		arena:    arena,
		resolver: resolver,
		visiting: make(map[element.Key]bool),
	}
}

// Arena returns the arena the parser populates
func (p *Parser) Arena() *element.Arena {
	return p.arena
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	return p.stats
}

// ParseFile parses a plain or gzip-compressed OSM XML file
func (p *Parser) ParseFile(ctx context.Context, filename string, fn func(element.Element) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open OSM file: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gzReader, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	return p.Parse(ctx, reader, fn)
}

// ParseAll parses a whole document and returns its top-level elements in document order
func (p *Parser) ParseAll(ctx context.Context, r io.Reader) ([]element.Element, error) {
	var out []element.Element
	err := p.Parse(ctx, r, func(e element.Element) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Parse streams the top-level elements of r to fn, each one after its closing
// tag has been read. A nil fn only fills the arena.
func (p *Parser) Parse(ctx context.Context, r io.Reader, fn func(element.Element) error) error {
	decoder := xml.NewDecoder(r)
	sawRoot := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token, err := decoder.Token()
		if err == io.EOF {
			if !sawRoot {
				return p.malformed(decoder, "EOF", "document without <osm> root")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("XML parse error: %w", err)
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if sawRoot || se.Name.Local != "osm" {
			return p.malformed(decoder, se.Name.Local, "document root")
		}
		sawRoot = true

		if err := p.parseBody(ctx, decoder, fn); err != nil {
			return err
		}
	}
}

// parseBody reads the children of <osm> up to its end tag
func (p *Parser) parseBody(ctx context.Context, decoder *xml.Decoder, fn func(element.Element) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("XML parse error: %w", err)
		}

		switch se := token.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			var e element.Element
			switch se.Name.Local {
			case "node":
				e, err = p.parseNode(decoder, se)
			case "way":
				e, err = p.parseWay(ctx, decoder, se)
			case "relation":
				e, err = p.parseRelation(ctx, decoder, se)
			case "bounds", "bound", "note", "meta":
				err = decoder.Skip()
			default:
				return p.malformed(decoder, se.Name.Local, "osm")
			}
			if err != nil {
				return err
			}
			if e == nil {
				continue
			}
			p.arena.Add(e)
			if fn != nil {
				if err := fn(e); err != nil {
					return err
				}
			}
		}
	}
}

// parseNode parses a node element
func (p *Parser) parseNode(decoder *xml.Decoder, start xml.StartElement) (*element.Node, error) {
	node := &element.Node{Tags: make(map[string]string)}
	var hasLat, hasLon bool

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			id, err := p.parseID(decoder, "node", attr.Value)
			if err != nil {
				return nil, err
			}
			node.ID = id
		case "lat":
			lat, err := strconv.ParseFloat(attr.Value, 64)
			if err != nil {
				return nil, p.malformed(decoder, "node", "lat attribute "+strconv.Quote(attr.Value))
			}
			node.Point[1] = lat
			hasLat = true
		case "lon":
			lon, err := strconv.ParseFloat(attr.Value, 64)
			if err != nil {
				return nil, p.malformed(decoder, "node", "lon attribute "+strconv.Quote(attr.Value))
			}
			node.Point[0] = lon
			hasLon = true
		}
	}
	node.Located = hasLat && hasLon

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch se := token.(type) {
		case xml.StartElement:
			if se.Name.Local != "tag" {
				return nil, p.malformed(decoder, se.Name.Local, "node")
			}
			if err := p.parseTag(decoder, se, node.Tags); err != nil {
				return nil, err
			}
		case xml.EndElement:
			p.stats.Nodes++
			return node, nil
		}
	}
}

// parseWay parses a way element, resolving node references it has not seen
func (p *Parser) parseWay(ctx context.Context, decoder *xml.Decoder, start xml.StartElement) (*element.Way, error) {
	way := &element.Way{
		Nodes: make([]int64, 0, 100),
		Tags:  make(map[string]string),
	}

	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			id, err := p.parseID(decoder, "way", attr.Value)
			if err != nil {
				return nil, err
			}
			way.ID = id
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch se := token.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "nd":
				ref, err := p.refAttr(decoder, se, "nd")
				if err != nil {
					return nil, err
				}
				if err := p.leaf(decoder, "nd"); err != nil {
					return nil, err
				}
				if err := p.ensure(ctx, element.NodeKey(ref)); err != nil {
					return nil, err
				}
				way.Nodes = append(way.Nodes, ref)
			case "tag":
				if err := p.parseTag(decoder, se, way.Tags); err != nil {
					return nil, err
				}
			default:
				return nil, p.malformed(decoder, se.Name.Local, "way")
			}
		case xml.EndElement:
			p.stats.Ways++
			return way, nil
		}
	}
}

// parseRelation parses a relation element. Members with skip roles are counted and dropped.
func (p *Parser) parseRelation(ctx context.Context, decoder *xml.Decoder, start xml.StartElement) (*element.Relation, error) {
	rel := &element.Relation{
		Members: make([]element.Member, 0, 10),
		Tags:    make(map[string]string),
	}

	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			id, err := p.parseID(decoder, "relation", attr.Value)
			if err != nil {
				return nil, err
			}
			rel.ID = id
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch se := token.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "member":
				member, err := p.parseMember(decoder, se)
				if err != nil {
					return nil, err
				}
				if err := p.leaf(decoder, "member"); err != nil {
					return nil, err
				}
				if SkipRoles[member.Role] {
					p.stats.SkippedMembers++
					continue
				}
				if err := p.ensure(ctx, member.Ref); err != nil {
					return nil, err
				}
				rel.Members = append(rel.Members, member)
			case "tag":
				if err := p.parseTag(decoder, se, rel.Tags); err != nil {
					return nil, err
				}
			default:
				return nil, p.malformed(decoder, se.Name.Local, "relation")
			}
		case xml.EndElement:
			p.stats.Relations++
			return rel, nil
		}
	}
}

func (p *Parser) parseMember(decoder *xml.Decoder, se xml.StartElement) (element.Member, error) {
	var member element.Member
	var typ string
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "type":
			typ = attr.Value
		case "role":
			member.Role = attr.Value
		}
	}

	switch osm.Type(typ) {
	case osm.TypeNode, osm.TypeWay, osm.TypeRelation:
		member.Ref.Type = osm.Type(typ)
	default:
		return member, p.malformed(decoder, "member", "member type "+strconv.Quote(typ))
	}

	ref, err := p.refAttr(decoder, se, "member")
	if err != nil {
		return member, err
	}
	member.Ref.ID = ref
	return member, nil
}

func (p *Parser) parseTag(decoder *xml.Decoder, se xml.StartElement, tags map[string]string) error {
	var k, v string
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "k":
			k = attr.Value
		case "v":
			v = attr.Value
		}
	}
	if k != "" {
		tags[k] = v
	}
	return p.leaf(decoder, "tag")
}

func (p *Parser) refAttr(decoder *xml.Decoder, se xml.StartElement, name string) (int64, error) {
	for _, attr := range se.Attr {
		if attr.Name.Local == "ref" {
			return p.parseID(decoder, name, attr.Value)
		}
	}
	return 0, p.malformed(decoder, name, "element without ref")
}

func (p *Parser) parseID(decoder *xml.Decoder, name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, p.malformed(decoder, name, "id "+strconv.Quote(value))
	}
	return id, nil
}

// leaf consumes tokens up to the end tag of an element that must not have children
func (p *Parser) leaf(decoder *xml.Decoder, name string) error {
	for {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch se := token.(type) {
		case xml.StartElement:
			return p.malformed(decoder, se.Name.Local, name)
		case xml.EndElement:
			return nil
		}
	}
}

// ensure makes sure key has an entry in the arena, going to the resolver when it is unknown
func (p *Parser) ensure(ctx context.Context, key element.Key) error {
	if _, ok := p.arena.Get(key); ok {
		return nil
	}
	if p.resolver == nil || p.visiting[key] {
		p.arena.Add(element.Placeholder{K: key})
		p.stats.Placeholders++
		return nil
	}

	p.visiting[key] = true
	defer delete(p.visiting, key)

	elems, err := p.resolver.Resolve(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", key, err)
	}
	for _, e := range elems {
		p.arena.Add(e)
	}
	// Relations loaded from the resolver may reference further elements
	for _, e := range elems {
		if rel, ok := e.(*element.Relation); ok {
			for _, m := range rel.Members {
				if err := p.ensure(ctx, m.Ref); err != nil {
					return err
				}
			}
		}
	}

	if !p.arena.Resolved(key) {
		p.arena.Add(element.Placeholder{K: key})
		p.stats.Placeholders++
		logger.Get().Debug("Element not available", zap.Stringer("key", key))
		return nil
	}
	p.stats.Resolved++
	return nil
}

func (p *Parser) malformed(decoder *xml.Decoder, name, where string) error {
	line, col := decoder.InputPos()
	return &MalformedDocumentError{
		Element: name,
		Context: where,
		Line:    line,
		Column:  col,
	}
}
