package control

// FilterConfig selects boundary elements by their tags
type FilterConfig struct {
	// Include lists tag keys with accepted values; an empty value list
	// accepts any value and "*" matches anything. At least one must match.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude rejects elements carrying any listed key/value
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny requires at least one of these keys to be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// Filter applies a FilterConfig to tag sets
type Filter struct {
	cfg FilterConfig
}

// NewFilter creates a filter from configuration. A nil config matches everything.
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{}
	}
	return &Filter{cfg: *cfg}
}

// Match reports whether tags pass the filter
func (f *Filter) Match(tags map[string]string) bool {
	if len(f.cfg.RequireAny) > 0 && !hasAnyKey(tags, f.cfg.RequireAny) {
		return false
	}
	if len(f.cfg.Include) > 0 && !matchesAny(tags, f.cfg.Include) {
		return false
	}
	return !matchesAny(tags, f.cfg.Exclude)
}

// HasFilter returns true if any rule is configured
func (f *Filter) HasFilter() bool {
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}

func hasAnyKey(tags map[string]string, keys []string) bool {
	for _, k := range keys {
		if _, ok := tags[k]; ok {
			return true
		}
	}
	return false
}

func matchesAny(tags map[string]string, rules map[string][]string) bool {
	for key, values := range rules {
		v, ok := tags[key]
		if !ok {
			continue
		}
		if len(values) == 0 {
			return true
		}
		for _, want := range values {
			if want == v || want == "*" {
				return true
			}
		}
	}
	return false
}
