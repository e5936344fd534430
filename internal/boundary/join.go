package boundary

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wegman-software/mapit-go/internal/element"
)

// ErrJunction is returned by an endpoint index when more than two way ends
// meet at one node. JoinWaySoup never returns it: ways left over at a
// junction are reported through UnclosedBoundaryError instead.
var ErrJunction = errors.New("boundary has a three-way junction")

// UnclosedBoundaryError is returned when way fragments cannot be chained
// into closed rings. Endpoints maps each dangling node id to the way ending there.
type UnclosedBoundaryError struct {
	Endpoints map[int64]int64
}

func (e *UnclosedBoundaryError) Error() string {
	return "unclosed boundary, dangling endpoints:\n" + e.Pretty()
}

// Pretty renders the endpoint map one endpoint per line in node order
func (e *UnclosedBoundaryError) Pretty() string {
	nodes := make([]int64, 0, len(e.Endpoints))
	for n := range e.Endpoints {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "  node %d: way %d\n", n, e.Endpoints[n])
	}
	return b.String()
}

// endpointIndex maps each open end of a way to that way. Every node holds at most one way.
type endpointIndex map[int64]*element.Way

func (idx endpointIndex) add(w *element.Way) error {
	for _, n := range []int64{w.First(), w.Last()} {
		if other, ok := idx[n]; ok {
			return fmt.Errorf("%w: node %d ends ways %d and %d", ErrJunction, n, other.ID, w.ID)
		}
	}
	idx[w.First()] = w
	idx[w.Last()] = w
	return nil
}

func (idx endpointIndex) remove(w *element.Way) {
	delete(idx, w.First())
	delete(idx, w.Last())
}

// candidates returns the distinct indexed ways touching either end of w
func (idx endpointIndex) candidates(w *element.Way) []*element.Way {
	var out []*element.Way
	if other, ok := idx[w.First()]; ok {
		out = append(out, other)
	}
	if other, ok := idx[w.Last()]; ok && (len(out) == 0 || out[0] != other) {
		out = append(out, other)
	}
	return out
}

// JoinWaySoup chains an unordered collection of way fragments into closed
// ways. Already closed ways are returned as they are, placeholders are
// skipped and duplicates are collapsed. Any fragment left open afterwards
// makes the whole soup fail with an UnclosedBoundaryError.
func JoinWaySoup(ways []element.Element) ([]*element.Way, error) {
	var closed []*element.Way
	idx := make(endpointIndex)
	seen := make(map[element.Key]bool, len(ways))

	for _, e := range ways {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true

		way, ok := e.(*element.Way)
		if !ok || len(way.Nodes) == 0 {
			continue
		}
		if way.Closed() {
			closed = append(closed, way)
			continue
		}

		joined := way
		for _, other := range idx.candidates(way) {
			idx.remove(other)
			joined = joinWays(joined, other)
			if joined.Closed() {
				break
			}
		}

		if joined.Closed() {
			closed = append(closed, joined)
			continue
		}
		if err := idx.add(joined); err != nil {
			return nil, err
		}
	}

	if len(idx) > 0 {
		endpoints := make(map[int64]int64, len(idx))
		for n, w := range idx {
			endpoints[n] = w.ID
		}
		return nil, &UnclosedBoundaryError{Endpoints: endpoints}
	}
	return closed, nil
}

// joinWays concatenates two ways sharing an endpoint, reversing b where needed
// so the node order stays continuous. The result keeps a's id.
func joinWays(a, b *element.Way) *element.Way {
	var nodes []int64
	switch {
	case a.Last() == b.First():
		nodes = concat(a.Nodes, b.Nodes)
	case a.Last() == b.Last():
		nodes = concat(a.Nodes, b.Reversed().Nodes)
	case a.First() == b.Last():
		nodes = concat(b.Nodes, a.Nodes)
	case a.First() == b.First():
		nodes = concat(b.Reversed().Nodes, a.Nodes)
	default:
		panic(fmt.Sprintf("ways %d and %d share no endpoint", a.ID, b.ID))
	}

	return &element.Way{
		ID:    a.ID,
		Nodes: nodes,
		Tags:  a.Tags,
		Parts: mergeParts(a, b),
	}
}

// concat joins two node lists whose boundary node is shared
func concat(head, tail []int64) []int64 {
	out := make([]int64, 0, len(head)+len(tail)-1)
	out = append(out, head...)
	return append(out, tail[1:]...)
}

func mergeParts(ways ...*element.Way) []int64 {
	var out []int64
	for _, w := range ways {
		if len(w.Parts) > 0 {
			out = append(out, w.Parts...)
		} else {
			out = append(out, w.ID)
		}
	}
	return out
}
