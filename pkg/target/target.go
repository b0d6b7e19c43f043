package target

import (
	"fmt"
	"sort"
)

// Target is one addressable unit in the build graph: a kind (registered
// target type), the common fields every kind shares, and kind-specific
// extra fields as loosely typed values.
type Target struct {
	Address Address   `json:"address"`
	Kind    string    `json:"kind"`
	Sources []string  `json:"sources,omitempty"`
	Deps    []Address `json:"deps,omitempty"`
	Tags    []string  `json:"tags,omitempty"`

	// Fields holds kind-specific attributes from the BUILD file, such as
	// timeout or runner. Values are bool, int64, string, []any or
	// map[string]any.
	Fields map[string]any `json:"fields,omitempty"`
}

// StringField returns a kind-specific string field, or def when absent.
func (t *Target) StringField(name, def string) string {
	if v, ok := t.Fields[name].(string); ok {
		return v
	}
	return def
}

// IntField returns a kind-specific integer field, or def when absent.
func (t *Target) IntField(name string, def int64) int64 {
	if v, ok := t.Fields[name].(int64); ok {
		return v
	}
	return def
}

// BoolField returns a kind-specific bool field, or def when absent.
func (t *Target) BoolField(name string, def bool) bool {
	if v, ok := t.Fields[name].(bool); ok {
		return v
	}
	return def
}

// HasTag reports whether the target carries the given tag.
func (t *Target) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// Graph is a read-only collection of targets indexed by address. The engine
// queries it for targets of a given kind and for explicit dependency
// declarations; it never mutates targets after construction.
type Graph struct {
	targets map[Address]*Target
}

// NewGraph indexes targets by address, rejecting duplicates.
func NewGraph(targets []*Target) (*Graph, error) {
	byAddr := make(map[Address]*Target, len(targets))
	for _, t := range targets {
		if _, dup := byAddr[t.Address]; dup {
			return nil, fmt.Errorf("duplicate target address %s", t.Address)
		}
		byAddr[t.Address] = t
	}
	g := &Graph{targets: byAddr}

	// Dangling dependency edges are a load-time defect.
	for _, t := range byAddr {
		for _, dep := range t.Deps {
			if _, ok := byAddr[dep]; !ok {
				return nil, fmt.Errorf("target %s depends on unknown target %s", t.Address, dep)
			}
		}
	}
	return g, nil
}

// Lookup returns the target at an address.
func (g *Graph) Lookup(addr Address) (*Target, bool) {
	t, ok := g.targets[addr]
	return t, ok
}

// All returns every target in deterministic address order.
func (g *Graph) All() []*Target {
	out := make([]*Target, 0, len(g.targets))
	for _, t := range g.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

// WithKind returns all targets of the given kinds, address-ordered.
func (g *Graph) WithKind(kinds ...string) []*Target {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []*Target
	for _, t := range g.targets {
		if want[t.Kind] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

// DependenciesOf returns the directly declared dependencies of a target.
func (g *Graph) DependenciesOf(addr Address) ([]*Target, error) {
	t, ok := g.targets[addr]
	if !ok {
		return nil, fmt.Errorf("no target at address %s", addr)
	}
	out := make([]*Target, 0, len(t.Deps))
	for _, dep := range t.Deps {
		out = append(out, g.targets[dep])
	}
	return out, nil
}

// TransitiveClosure returns the target and everything reachable through
// dependency edges, address-ordered.
func (g *Graph) TransitiveClosure(addr Address) ([]*Target, error) {
	root, ok := g.targets[addr]
	if !ok {
		return nil, fmt.Errorf("no target at address %s", addr)
	}
	seen := map[Address]bool{addr: true}
	queue := []*Target{root}
	var out []*Target
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		out = append(out, t)
		for _, dep := range t.Deps {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, g.targets[dep])
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out, nil
}

// Len returns the number of targets.
func (g *Graph) Len() int {
	return len(g.targets)
}
