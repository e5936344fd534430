package osmdoc

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/wegman-software/mapit-go/internal/element"
)

// ReadPBF reads an .osm.pbf stream into arena, passing each element to fn in
// file order. PBF extracts are self-contained, so unknown references become
// placeholders without consulting a resolver.
func ReadPBF(ctx context.Context, r io.Reader, arena *element.Arena, fn func(element.Element) error) (Stats, error) {
	var stats Stats

	scanner := osmpbf.New(ctx, r, runtime.GOMAXPROCS(-1))
	defer scanner.Close()

	for scanner.Scan() {
		var e element.Element

		switch o := scanner.Object().(type) {
		case *osm.Node:
			e = &element.Node{
				ID:      int64(o.ID),
				Point:   o.Point(),
				Located: true,
				Tags:    o.Tags.Map(),
			}
			stats.Nodes++
		case *osm.Way:
			way := &element.Way{
				ID:    int64(o.ID),
				Nodes: make([]int64, 0, len(o.Nodes)),
				Tags:  o.Tags.Map(),
			}
			for _, wn := range o.Nodes {
				way.Nodes = append(way.Nodes, int64(wn.ID))
				if _, ok := arena.Get(element.NodeKey(int64(wn.ID))); !ok {
					arena.Add(element.Placeholder{K: element.NodeKey(int64(wn.ID))})
					stats.Placeholders++
				}
			}
			e = way
			stats.Ways++
		case *osm.Relation:
			rel := &element.Relation{
				ID:      int64(o.ID),
				Members: make([]element.Member, 0, len(o.Members)),
				Tags:    o.Tags.Map(),
			}
			for _, m := range o.Members {
				if SkipRoles[m.Role] {
					stats.SkippedMembers++
					continue
				}
				key := element.Key{Type: m.Type, ID: m.Ref}
				if _, ok := arena.Get(key); !ok {
					arena.Add(element.Placeholder{K: key})
					stats.Placeholders++
				}
				rel.Members = append(rel.Members, element.Member{Ref: key, Role: m.Role})
			}
			e = rel
			stats.Relations++
		default:
			continue
		}

		arena.Add(e)
		if fn != nil {
			if err := fn(e); err != nil {
				return stats, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read PBF: %w", err)
	}
	return stats, nil
}
