package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/wegman-software/mapit-go/internal/spatial"
)

// Memory is an in-process Store. It backs tests and dry runs.
type Memory struct {
	mu          sync.RWMutex
	generations []Generation
	areas       map[int64]*Area
	shapes      map[int64]orb.MultiPolygon
	postcodes   map[string]*Postcode
	nextAreaID  int64
	index       *spatial.Index
	now         func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		areas:      make(map[int64]*Area),
		shapes:     make(map[int64]orb.MultiPolygon),
		postcodes:  make(map[string]*Postcode),
		nextAreaID: 1,
		index:      spatial.NewIndex(),
		now:        time.Now,
	}
}

func (m *Memory) Close() {}

func (m *Memory) ListGenerations(ctx context.Context) ([]Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Generation(nil), m.generations...), nil
}

func (m *Memory) CurrentGeneration(ctx context.Context) (*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.generations) - 1; i >= 0; i-- {
		if m.generations[i].Active {
			g := m.generations[i]
			return &g, nil
		}
	}
	return nil, ErrNoActiveGeneration
}

func (m *Memory) NewGeneration(ctx context.Context) (*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n := len(m.generations); n > 0 && !m.generations[n-1].Active {
		g := m.generations[n-1]
		return &g, nil
	}
	return nil, ErrNoNewGeneration
}

func (m *Memory) CreateGeneration(ctx context.Context, description string) (*Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.generations)
	if n > 0 && !m.generations[n-1].Active {
		return nil, ErrNewGenerationExists
	}
	g := Generation{
		ID:          int64(n + 1),
		Description: description,
		Created:     m.now(),
	}
	m.generations = append(m.generations, g)
	return &g, nil
}

func (m *Memory) ActivateGeneration(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.generations {
		if m.generations[i].ID == id {
			m.generations[i].Active = true
			return nil
		}
	}
	return fmt.Errorf("generation %d: %w", id, ErrNotFound)
}

func (m *Memory) Area(ctx context.Context, id int64) (*Area, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.areas[id]
	if !ok {
		return nil, fmt.Errorf("area %d: %w", id, ErrNotFound)
	}
	return copyArea(a), nil
}

func (m *Memory) AreasByCode(ctx context.Context, codeType, code string) ([]*Area, error) {
	return m.filter(func(a *Area) bool { return a.Codes[codeType] == code })
}

func (m *Memory) AreasByName(ctx context.Context, name, areaType, country string) ([]*Area, error) {
	return m.filter(func(a *Area) bool {
		return a.Name == name && a.Type == areaType && a.Country == country
	})
}

func (m *Memory) AreasLiveIn(ctx context.Context, generation int64, types []string) ([]*Area, error) {
	return m.filter(func(a *Area) bool {
		return a.LiveIn(generation) && (len(types) == 0 || contains(types, a.Type))
	})
}

func (m *Memory) filter(fn func(*Area) bool) ([]*Area, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Area
	for _, a := range m.areas {
		if fn(a) {
			out = append(out, copyArea(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Geometry(ctx context.Context, id int64) (orb.MultiPolygon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.shapes[id]
	if !ok {
		return nil, fmt.Errorf("geometry for area %d: %w", id, ErrNotFound)
	}
	return mp.Clone(), nil
}

func (m *Memory) CreateArea(ctx context.Context, a *Area, shape orb.MultiPolygon) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := copyArea(a)
	stored.ID = m.nextAreaID
	m.nextAreaID++
	m.areas[stored.ID] = stored
	m.shapes[stored.ID] = shape.Clone()
	m.index.Put(stored.ID, stored.Type, stored.GenerationLow, stored.GenerationHigh, shape)
	return stored.ID, nil
}

func (m *Memory) ExtendArea(ctx context.Context, id, generationHigh int64, names, codes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.areas[id]
	if !ok {
		return fmt.Errorf("area %d: %w", id, ErrNotFound)
	}
	a.GenerationHigh = generationHigh
	for k, v := range names {
		a.Names[k] = v
	}
	for k, v := range codes {
		a.Codes[k] = v
	}
	m.index.SetRange(id, a.GenerationLow, a.GenerationHigh)
	return nil
}

func (m *Memory) ReplaceGeometry(ctx context.Context, id int64, shape orb.MultiPolygon, names, codes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.areas[id]
	if !ok {
		return fmt.Errorf("area %d: %w", id, ErrNotFound)
	}
	for k, v := range names {
		a.Names[k] = v
	}
	for k, v := range codes {
		a.Codes[k] = v
	}
	m.shapes[id] = shape.Clone()
	m.index.Put(id, a.Type, a.GenerationLow, a.GenerationHigh, shape)
	return nil
}

func (m *Memory) SetParent(ctx context.Context, id int64, parentID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.areas[id]
	if !ok {
		return fmt.Errorf("area %d: %w", id, ErrNotFound)
	}
	a.ParentID = parentID
	return nil
}

func (m *Memory) Related(ctx context.Context, q spatial.Query) ([]*Area, error) {
	if q.Generation == 0 {
		g, err := m.CurrentGeneration(ctx)
		if err != nil {
			return nil, err
		}
		q.Generation = g.ID
	}

	ids, err := m.index.Query(q)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Area, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyArea(m.areas[id]))
	}
	return out, nil
}

func (m *Memory) Postcode(ctx context.Context, code string) (*Postcode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.postcodes[NormalizePostcode(code)]
	if !ok {
		return nil, fmt.Errorf("postcode %s: %w", code, ErrNotFound)
	}
	out := *pc
	out.Areas = append([]int64(nil), pc.Areas...)
	return &out, nil
}

func (m *Memory) PutPostcodes(ctx context.Context, pcs []Postcode) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range pcs {
		pc.Code = NormalizePostcode(pc.Code)
		stored := Postcode{Code: pc.Code, Point: pc.Point}
		m.postcodes[pc.Code] = &stored
	}
	return int64(len(pcs)), nil
}

func (m *Memory) SetPostcodeAreas(ctx context.Context, code string, generation int64, areas []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.postcodes[NormalizePostcode(code)]
	if !ok {
		return fmt.Errorf("postcode %s: %w", code, ErrNotFound)
	}
	pc.Areas = append([]int64(nil), areas...)
	pc.AreasGeneration = generation
	return nil
}

func copyArea(a *Area) *Area {
	out := *a
	out.Codes = copyMap(a.Codes)
	out.Names = copyMap(a.Names)
	if a.ParentID != nil {
		p := *a.ParentID
		out.ParentID = &p
	}
	return &out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
