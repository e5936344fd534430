// Package control loads the per-import control file: which OSM boundaries to
// take, how to type and label them, and how to match them against existing
// areas.
package control

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapit-go/internal/element"
	"github.com/wegman-software/mapit-go/internal/reconcile"
	"github.com/wegman-software/mapit-go/internal/store"
)

// OSMCodeType is the code every candidate carries, holding its element key
const OSMCodeType = "osm"

// AreaRef names an area by name and type
type AreaRef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Override forces a named boundary to match a specific area
type Override struct {
	AreaRef `yaml:",inline"`
	AreaID  int64 `yaml:"area_id"`
}

// Config is the control file
type Config struct {
	// CodeType is the code used for matching; defaults to "osm"
	CodeType string `yaml:"code_type,omitempty"`
	Country  string `yaml:"country,omitempty"`
	// Match is "code" (default) or "name"
	Match string `yaml:"match,omitempty"`
	// TypeTag is the tag whose value selects the area type; defaults to admin_level
	TypeTag string `yaml:"type_tag,omitempty"`
	// Types maps TypeTag values to area types. Unmapped values are skipped.
	Types  map[string]string `yaml:"types"`
	Filter *FilterConfig     `yaml:"filter,omitempty"`
	// Names maps tags to name types, Codes maps tags to code types
	Names map[string]string `yaml:"names,omitempty"`
	Codes map[string]string `yaml:"codes,omitempty"`
	// NameOrder picks the display name from the name types
	NameOrder []string   `yaml:"name_order,omitempty"`
	New       []AreaRef  `yaml:"new,omitempty"`
	Overrides []Override `yaml:"overrides,omitempty"`
}

// Load reads a control file
func Load(path string) (*Control, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read control file: %w", err)
	}
	return Parse(data)
}

// Parse parses control YAML
func Parse(data []byte) (*Control, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse control YAML: %w", err)
	}
	return New(cfg)
}

// Default returns the control used without a control file: administrative
// boundaries typed by admin_level, matched by OSM id
func Default() *Control {
	c, _ := New(Config{
		Filter: &FilterConfig{Include: map[string][]string{"boundary": {"administrative"}}},
		Types: map[string]string{
			"2": "O02", "3": "O03", "4": "O04", "5": "O05", "6": "O06",
			"7": "O07", "8": "O08", "9": "O09", "10": "O10", "11": "O11",
		},
		Names: map[string]string{"name": "name"},
	})
	return c
}

// Control implements reconcile.Control and turns selected elements into candidates
type Control struct {
	cfg       Config
	filter    *Filter
	new       map[AreaRef]bool
	overrides map[AreaRef]int64
}

var _ reconcile.Control = (*Control)(nil)

// New validates cfg and applies defaults
func New(cfg Config) (*Control, error) {
	if cfg.CodeType == "" {
		cfg.CodeType = OSMCodeType
	}
	if cfg.TypeTag == "" {
		cfg.TypeTag = "admin_level"
	}
	switch cfg.Match {
	case "":
		cfg.Match = "code"
	case "code", "name":
	default:
		return nil, fmt.Errorf("unknown match strategy %q (want code or name)", cfg.Match)
	}
	if len(cfg.Types) == 0 {
		return nil, fmt.Errorf("control file maps no area types")
	}
	if len(cfg.Names) == 0 {
		cfg.Names = map[string]string{"name": "name"}
	}

	c := &Control{
		cfg:       cfg,
		filter:    NewFilter(cfg.Filter),
		new:       make(map[AreaRef]bool),
		overrides: make(map[AreaRef]int64),
	}
	for _, ref := range cfg.New {
		c.new[ref] = true
	}
	for _, o := range cfg.Overrides {
		if o.AreaID <= 0 {
			return nil, fmt.Errorf("override for %q has no area_id", o.Name)
		}
		if c.new[o.AreaRef] {
			return nil, fmt.Errorf("%q (%s) is both new and overridden", o.Name, o.Type)
		}
		c.overrides[o.AreaRef] = o.AreaID
	}
	return c, nil
}

// Config returns the effective configuration
func (c *Control) Config() Config {
	return c.cfg
}

// CodeType names the code used for matching
func (c *Control) CodeType() string {
	return c.cfg.CodeType
}

// Check decides how a candidate is matched
func (c *Control) Check(name, areaType, country string, shape orb.MultiPolygon) (reconcile.Decision, error) {
	ref := AreaRef{Name: name, Type: areaType}
	if c.new[ref] {
		return reconcile.Decision{Strategy: reconcile.TreatAsNew}, nil
	}
	if id, ok := c.overrides[ref]; ok {
		return reconcile.Decision{Strategy: reconcile.MatchOverride, OverrideAreaID: id}, nil
	}
	if c.cfg.Match == "name" {
		return reconcile.Decision{Strategy: reconcile.MatchByName}, nil
	}
	return reconcile.Decision{Strategy: reconcile.MatchByCode}, nil
}

// AreaType returns the area type for e, or false if e is not imported
func (c *Control) AreaType(e element.Element) (string, bool) {
	tags := element.Tags(e)
	if tags == nil || !c.filter.Match(tags) {
		return "", false
	}
	t, ok := c.cfg.Types[tags[c.cfg.TypeTag]]
	return t, ok
}

// Select reports whether e is a boundary this import takes
func (c *Control) Select(e element.Element) bool {
	switch e.(type) {
	case *element.Relation, *element.Way:
	default:
		return false
	}
	_, ok := c.AreaType(e)
	return ok
}

// Candidate labels a built boundary. It returns false if e is not selected.
func (c *Control) Candidate(e element.Element, shape orb.MultiPolygon) (*reconcile.Candidate, bool) {
	areaType, ok := c.AreaType(e)
	if !ok {
		return nil, false
	}
	tags := element.Tags(e)

	cand := &reconcile.Candidate{
		Source:  e.Key(),
		Type:    areaType,
		Country: c.cfg.Country,
		Codes:   map[string]string{OSMCodeType: e.Key().String()},
		Names:   make(map[string]string),
		Shape:   shape,
	}
	for tag, nameType := range c.cfg.Names {
		if v := tags[tag]; v != "" {
			cand.Names[nameType] = v
		}
	}
	for tag, codeType := range c.cfg.Codes {
		if v := tags[tag]; v != "" {
			cand.Codes[codeType] = v
		}
	}

	cand.Name = (&store.Area{Names: cand.Names}).DisplayName(c.cfg.NameOrder)
	return cand, true
}
