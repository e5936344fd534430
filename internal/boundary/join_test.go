package boundary

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/wegman-software/mapit-go/internal/element"
)

func way(id int64, nodes ...int64) *element.Way {
	return &element.Way{ID: id, Nodes: nodes}
}

func squareSides() []element.Element {
	return []element.Element{
		way(10, 1, 2),
		way(11, 2, 3),
		way(12, 4, 3),
		way(13, 4, 1),
	}
}

func TestJoinWaySoupSquare(t *testing.T) {
	rings, err := JoinWaySoup(squareSides())
	if err != nil {
		t.Fatalf("JoinWaySoup() error: %v", err)
	}
	if len(rings) != 1 {
		t.Fatalf("got %d rings, want 1", len(rings))
	}

	r := rings[0]
	if !r.Closed() {
		t.Errorf("ring not closed: %v", r.Nodes)
	}
	if len(r.Nodes) != 5 {
		t.Errorf("ring has %d nodes, want 5", len(r.Nodes))
	}

	corners := map[int64]bool{}
	for _, n := range r.Nodes {
		corners[n] = true
	}
	for _, n := range []int64{1, 2, 3, 4} {
		if !corners[n] {
			t.Errorf("ring misses corner %d: %v", n, r.Nodes)
		}
	}

	parts := append([]int64(nil), r.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	if len(parts) != 4 || parts[0] != 10 || parts[3] != 13 {
		t.Errorf("Parts = %v, want all four source ways", r.Parts)
	}
}

func TestJoinWaySoupEveryOrder(t *testing.T) {
	sides := squareSides()
	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{0, 2, 1, 3},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	for _, order := range orders {
		input := make([]element.Element, len(order))
		for i, idx := range order {
			input[i] = sides[idx]
		}
		rings, err := JoinWaySoup(input)
		if err != nil {
			t.Errorf("order %v: unexpected error %v", order, err)
			continue
		}
		if len(rings) != 1 || !rings[0].Closed() || len(rings[0].Nodes) != 5 {
			t.Errorf("order %v: unexpected result %v", order, rings)
		}
	}
}

func TestJoinWaySoupMissingSide(t *testing.T) {
	_, err := JoinWaySoup(squareSides()[:3])

	var unclosed *UnclosedBoundaryError
	if !errors.As(err, &unclosed) {
		t.Fatalf("expected UnclosedBoundaryError, got %v", err)
	}
	if len(unclosed.Endpoints) != 2 {
		t.Errorf("Endpoints = %v, want two dangling ends", unclosed.Endpoints)
	}
	if _, ok := unclosed.Endpoints[1]; !ok {
		t.Errorf("node 1 should dangle: %v", unclosed.Endpoints)
	}
	if _, ok := unclosed.Endpoints[4]; !ok {
		t.Errorf("node 4 should dangle: %v", unclosed.Endpoints)
	}
	if !strings.Contains(unclosed.Error(), "node 1: way") {
		t.Errorf("error should list endpoints: %s", unclosed.Error())
	}
}

func TestJoinWaySoupClosedIdempotent(t *testing.T) {
	a := way(1, 1, 2, 3, 1)
	b := way(2, 4, 5, 6, 4)
	c := way(3, 7, 8, 9, 7)

	for _, input := range [][]element.Element{{a, b, c}, {c, a, b}} {
		rings, err := JoinWaySoup(input)
		if err != nil {
			t.Fatalf("JoinWaySoup() error: %v", err)
		}
		if len(rings) != 3 {
			t.Fatalf("got %d rings, want 3", len(rings))
		}
		got := map[int64]*element.Way{}
		for _, r := range rings {
			got[r.ID] = r
		}
		for _, w := range []*element.Way{a, b, c} {
			if got[w.ID] != w {
				t.Errorf("closed way %d should be returned unchanged", w.ID)
			}
		}
	}
}

func TestJoinWaySoupSkipsPlaceholdersAndDuplicates(t *testing.T) {
	sides := squareSides()
	input := append([]element.Element{
		element.Placeholder{K: element.WayKey(99)},
		sides[0],
	}, sides...)

	rings, err := JoinWaySoup(input)
	if err != nil {
		t.Fatalf("JoinWaySoup() error: %v", err)
	}
	if len(rings) != 1 {
		t.Errorf("got %d rings, want 1", len(rings))
	}
}

func TestJoinWaySoupPlaceholderLeavesGap(t *testing.T) {
	sides := squareSides()
	input := []element.Element{sides[0], sides[1], sides[2], element.Placeholder{K: sides[3].Key()}}

	_, err := JoinWaySoup(input)
	var unclosed *UnclosedBoundaryError
	if !errors.As(err, &unclosed) {
		t.Fatalf("expected UnclosedBoundaryError, got %v", err)
	}
}

func TestJoinWaysOrientation(t *testing.T) {
	tests := []struct {
		name string
		a, b *element.Way
		want []int64
	}{
		{"tail to head", way(1, 1, 2), way(2, 2, 3), []int64{1, 2, 3}},
		{"tail to tail", way(1, 1, 2), way(2, 3, 2), []int64{1, 2, 3}},
		{"head to tail", way(1, 2, 3), way(2, 1, 2), []int64{1, 2, 3}},
		{"head to head", way(1, 2, 3), way(2, 2, 1), []int64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := joinWays(tt.a, tt.b)
			if len(got.Nodes) != len(tt.want) {
				t.Fatalf("joinWays() = %v, want %v", got.Nodes, tt.want)
			}
			for i := range tt.want {
				if got.Nodes[i] != tt.want[i] {
					t.Fatalf("joinWays() = %v, want %v", got.Nodes, tt.want)
				}
			}
		})
	}
}

func TestEndpointIndexRejectsJunction(t *testing.T) {
	idx := make(endpointIndex)
	if err := idx.add(way(1, 1, 2)); err != nil {
		t.Fatalf("add() error: %v", err)
	}
	err := idx.add(way(2, 2, 3))
	if !errors.Is(err, ErrJunction) {
		t.Errorf("expected ErrJunction, got %v", err)
	}
}
