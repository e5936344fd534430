package element

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func TestWayClosed(t *testing.T) {
	tests := []struct {
		name  string
		nodes []int64
		want  bool
	}{
		{"empty", nil, false},
		{"single node", []int64{1}, true},
		{"open", []int64{1, 2, 3}, false},
		{"closed", []int64{1, 2, 3, 1}, true},
		{"same node twice in middle", []int64{1, 2, 1, 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Way{ID: 1, Nodes: tt.nodes}
			if got := w.Closed(); got != tt.want {
				t.Errorf("Closed() = %v, want %v", got, tt.want)
			}
			if len(tt.nodes) > 0 {
				want := w.First() == w.Last()
				if w.Closed() != want {
					t.Errorf("Closed() = %v but first==last is %v", w.Closed(), want)
				}
			}
		})
	}
}

func TestPlaceholderEquality(t *testing.T) {
	resolved := &Way{ID: 42, Nodes: []int64{1, 2}}
	missing := Placeholder{K: WayKey(42)}

	if !Equal(resolved, missing) {
		t.Error("placeholder should equal its resolved counterpart")
	}
	if Equal(missing, Placeholder{K: RelationKey(42)}) {
		t.Error("different element types must not compare equal")
	}

	seen := map[Key]bool{resolved.Key(): true}
	if !seen[missing.Key()] {
		t.Error("placeholder key should hash like the resolved key")
	}
}

func TestArenaPlaceholderReplacement(t *testing.T) {
	a := NewArena()

	a.Add(Placeholder{K: NodeKey(7)})
	if a.Resolved(NodeKey(7)) {
		t.Fatal("placeholder reported as resolved")
	}

	a.Add(&Node{ID: 7, Point: orb.Point{1, 2}, Located: true})
	if !a.Resolved(NodeKey(7)) {
		t.Fatal("resolved node should replace placeholder")
	}

	a.Add(Placeholder{K: NodeKey(7)})
	if !a.Resolved(NodeKey(7)) {
		t.Fatal("placeholder must not replace a resolved node")
	}

	a.Reset()
	if _, ok := a.Get(NodeKey(7)); ok {
		t.Error("Reset should drop all elements")
	}
}

func TestArenaRing(t *testing.T) {
	a := NewArena()
	a.Add(&Node{ID: 1, Point: orb.Point{0, 0}, Located: true})
	a.Add(&Node{ID: 2, Point: orb.Point{1, 0}, Located: true})
	a.Add(&Node{ID: 3, Point: orb.Point{1, 1}, Located: true})

	ring, err := a.Ring(&Way{ID: 10, Nodes: []int64{1, 2, 3, 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ring) != 4 || ring[3] != (orb.Point{0, 0}) {
		t.Errorf("unexpected ring %v", ring)
	}

	_, err = a.Ring(&Way{ID: 11, Nodes: []int64{1, 99}})
	var missing *MissingNodeError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingNodeError, got %v", err)
	}
	if missing.NodeID != 99 || missing.WayID != 11 {
		t.Errorf("unexpected error fields: %+v", missing)
	}
}

func TestReversed(t *testing.T) {
	w := &Way{ID: 1, Nodes: []int64{1, 2, 3}}
	r := w.Reversed()
	if r.First() != 3 || r.Last() != 1 {
		t.Errorf("Reversed() = %v", r.Nodes)
	}
	if w.First() != 1 {
		t.Error("Reversed must not modify the receiver")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{"relation/58447", RelationKey(58447), false},
		{"way/7", WayKey(7), false},
		{"n12", NodeKey(12), false},
		{"R3", RelationKey(3), false},
		{"area/1", Key{}, true},
		{"relation/x", Key{}, true},
		{"w0", Key{}, true},
		{"", Key{}, true},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
