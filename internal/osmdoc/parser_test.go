package osmdoc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/osm"

	"github.com/wegman-software/mapit-go/internal/element"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <bounds minlat="0" minlon="0" maxlat="1" maxlon="1"/>
  <node id="1" lat="0" lon="0"/>
  <node id="2" lat="0" lon="1"/>
  <node id="3" lat="1" lon="1">
    <tag k="place" v="hamlet"/>
  </node>
  <way id="10">
    <nd ref="1"/>
    <nd ref="2"/>
    <nd ref="3"/>
    <nd ref="1"/>
    <tag k="boundary" v="administrative"/>
  </way>
  <relation id="100">
    <member type="way" ref="10" role="outer"/>
    <member type="relation" ref="200" role="subarea"/>
    <member type="way" ref="11" role="inner"/>
    <tag k="type" v="boundary"/>
    <tag k="name" v="Testshire"/>
  </relation>
</osm>`

func TestParseAll(t *testing.T) {
	arena := element.NewArena()
	p := NewParser(arena, nil)

	elems, err := p.ParseAll(context.Background(), strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("ParseAll() error: %v", err)
	}
	if len(elems) != 5 {
		t.Fatalf("got %d elements, want 5", len(elems))
	}

	n3, ok := arena.Node(3)
	if !ok || !n3.Located || n3.Point[0] != 1 || n3.Point[1] != 1 {
		t.Errorf("node 3 not parsed correctly: %+v", n3)
	}
	if n3.Tags["place"] != "hamlet" {
		t.Errorf("node 3 tags = %v", n3.Tags)
	}

	w, ok := arena.Way(10)
	if !ok {
		t.Fatal("way 10 missing")
	}
	if !w.Closed() || len(w.Nodes) != 4 {
		t.Errorf("way 10 = %v", w.Nodes)
	}

	rel, ok := elems[4].(*element.Relation)
	if !ok {
		t.Fatalf("last element is %T, want relation", elems[4])
	}
	if len(rel.Members) != 2 {
		t.Fatalf("relation has %d members, want 2 (subarea skipped)", len(rel.Members))
	}
	if rel.Members[0].Ref != element.WayKey(10) || rel.Members[0].Role != "outer" {
		t.Errorf("first member = %+v", rel.Members[0])
	}

	if !element.IsPlaceholder(arena.Member(rel.Members[1])) {
		t.Error("unknown way 11 should be a placeholder")
	}
	if _, ok := arena.Get(element.RelationKey(200)); ok {
		t.Error("subarea member must not enter the arena")
	}

	stats := p.Stats()
	if stats.Nodes != 3 || stats.Ways != 1 || stats.Relations != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.SkippedMembers != 1 || stats.Placeholders != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestParseStreamsInOrder(t *testing.T) {
	p := NewParser(element.NewArena(), nil)

	var keys []element.Key
	err := p.Parse(context.Background(), strings.NewReader(sampleDoc), func(e element.Element) error {
		keys = append(keys, e.Key())
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	want := []osm.Type{osm.TypeNode, osm.TypeNode, osm.TypeNode, osm.TypeWay, osm.TypeRelation}
	for i, k := range keys {
		if k.Type != want[i] {
			t.Errorf("element %d type = %s, want %s", i, k.Type, want[i])
		}
	}
}

func TestParseCallbackErrorStops(t *testing.T) {
	p := NewParser(element.NewArena(), nil)
	stop := errors.New("stop")

	count := 0
	err := p.Parse(context.Background(), strings.NewReader(sampleDoc), func(e element.Element) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if count != 1 {
		t.Errorf("callback called %d times, want 1", count)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		element string
	}{
		{
			name:    "member outside relation",
			doc:     `<osm><way id="1"><member type="way" ref="2" role="outer"/></way></osm>`,
			element: "member",
		},
		{
			name:    "nd inside node",
			doc:     `<osm><node id="1" lat="0" lon="0"><nd ref="2"/></node></osm>`,
			element: "nd",
		},
		{
			name:    "unknown top level",
			doc:     `<osm><area id="1"/></osm>`,
			element: "area",
		},
		{
			name:    "tag with children",
			doc:     `<osm><node id="1"><tag k="a" v="b"><tag k="c" v="d"/></tag></node></osm>`,
			element: "tag",
		},
		{
			name:    "wrong root",
			doc:     `<osmChange><node id="1"/></osmChange>`,
			element: "osmChange",
		},
		{
			name:    "bad member type",
			doc:     `<osm><relation id="1"><member type="area" ref="2" role=""/></relation></osm>`,
			element: "member",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(element.NewArena(), nil)
			_, err := p.ParseAll(context.Background(), strings.NewReader(tt.doc))

			var malformed *MalformedDocumentError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedDocumentError, got %v", err)
			}
			if malformed.Element != tt.element {
				t.Errorf("Element = %q, want %q", malformed.Element, tt.element)
			}
			if malformed.Line < 1 {
				t.Errorf("Line = %d, want position information", malformed.Line)
			}
		})
	}
}

type mapResolver struct {
	elems map[element.Key][]element.Element
	calls []element.Key
}

func (r *mapResolver) Resolve(ctx context.Context, key element.Key) ([]element.Element, error) {
	r.calls = append(r.calls, key)
	return r.elems[key], nil
}

func TestParseResolvesMissingReferences(t *testing.T) {
	resolver := &mapResolver{elems: map[element.Key][]element.Element{
		element.WayKey(11): {
			&element.Node{ID: 5, Point: [2]float64{0.2, 0.2}, Located: true},
			&element.Node{ID: 6, Point: [2]float64{0.4, 0.2}, Located: true},
			&element.Way{ID: 11, Nodes: []int64{5, 6}},
		},
		element.RelationKey(300): {
			&element.Relation{ID: 300, Members: []element.Member{
				{Ref: element.WayKey(11), Role: "outer"},
				{Ref: element.RelationKey(300), Role: "outer"},
			}},
		},
	}}

	doc := `<osm>
  <relation id="100">
    <member type="way" ref="11" role="inner"/>
    <member type="relation" ref="300" role=""/>
    <member type="node" ref="999" role="admin_centre"/>
  </relation>
</osm>`

	arena := element.NewArena()
	p := NewParser(arena, resolver)
	if _, err := p.ParseAll(context.Background(), strings.NewReader(doc)); err != nil {
		t.Fatalf("ParseAll() error: %v", err)
	}

	if !arena.Resolved(element.WayKey(11)) || !arena.Resolved(element.NodeKey(5)) {
		t.Error("way 11 and its nodes should come from the resolver")
	}
	if !arena.Resolved(element.RelationKey(300)) {
		t.Error("relation 300 should come from the resolver")
	}
	if !element.IsPlaceholder(arena.Member(element.Member{Ref: element.NodeKey(999)})) {
		t.Error("node 999 is unknown to the resolver and should be a placeholder")
	}

	for _, k := range resolver.calls {
		if k == element.WayKey(11) && countKey(resolver.calls, k) > 1 {
			t.Errorf("way 11 resolved %d times", countKey(resolver.calls, k))
		}
	}
}

func countKey(keys []element.Key, k element.Key) int {
	n := 0
	for _, key := range keys {
		if key == k {
			n++
		}
	}
	return n
}
