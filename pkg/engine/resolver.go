package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Graph is the compiled form of a RuleSet: for every request type, the
// unique rule that produces it; for every union, the candidate member
// rules. Resolution happens once, ahead of execution, so that runtime
// failures can only arise from values, never from graph topology.
type Graph struct {
	byRequest map[reflect.Type]*Rule
	unions    *UnionRegistry
	roots     map[reflect.Type]bool
}

// Resolve compiles the rule set, detecting ambiguity, unsatisfiable
// dependencies and type-level cycles before any query executes.
func Resolve(rs *RuleSet) (*Graph, error) {
	g := &Graph{
		byRequest: make(map[reflect.Type]*Rule),
		unions:    rs.unions,
		roots:     make(map[reflect.Type]bool),
	}
	for _, t := range rs.params {
		g.roots[t] = true
	}

	// Index rules by request type; a second rule for the same type is an
	// ambiguity, whether or not a union is involved. Names must also be
	// unique: the name is half of every memo key, so two rules sharing one
	// would alias each other's cache entries.
	byName := make(map[string]*Rule, len(rs.rules))
	for i := range rs.rules {
		rule := &rs.rules[i]
		if prev, exists := g.byRequest[rule.Request]; exists {
			return nil, NewGraphError(ErrCodeAmbiguousRule,
				fmt.Sprintf("rules %q and %q both accept request type %s",
					prev.Name, rule.Name, requestTypeName(rule.Request)))
		}
		if prev, exists := byName[rule.Name]; exists {
			return nil, NewGraphError(ErrCodeAmbiguousRule,
				fmt.Sprintf("rule name %q is registered twice, for request types %s and %s",
					rule.Name, requestTypeName(prev.Request), requestTypeName(rule.Request)))
		}
		byName[rule.Name] = rule
		g.byRequest[rule.Request] = rule

		if rule.Union != nil {
			if err := rs.unions.Register(rule.Union, rule.Request); err != nil {
				return nil, err
			}
		}
	}

	// Every registered union member must have a rule; catching this here
	// turns a runtime dispatch failure into a startup diagnostic.
	for _, union := range rs.unions.Unions() {
		members := rs.unions.Members(union)
		if len(members) == 0 {
			return nil, NewGraphError(ErrCodeNoRuleFound,
				fmt.Sprintf("union %s has no registered members", union.String()))
		}
		for _, member := range members {
			if _, ok := g.byRequest[member]; !ok {
				return nil, NewGraphError(ErrCodeNoRuleFound,
					fmt.Sprintf("union member %s of %s has no rule",
						requestTypeName(member), union.String())).
					WithRequestType(requestTypeName(member))
			}
		}
	}

	// Every declared dependency must be satisfiable: by a rule, by a
	// param, or by a union with at least one candidate.
	for _, rule := range g.byRequest {
		for _, dep := range rule.Deps {
			if err := g.checkSatisfiable(rule, dep); err != nil {
				return nil, err
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Graph) checkSatisfiable(rule *Rule, dep reflect.Type) error {
	if g.roots[dep] {
		return nil
	}
	if _, ok := g.byRequest[dep]; ok {
		return nil
	}
	if dep.Kind() == reflect.Interface {
		if len(g.unions.Members(dep)) > 0 {
			return nil
		}
	}
	return NewGraphError(ErrCodeNoRuleFound,
		fmt.Sprintf("no rule produces %s, required by rule %q",
			requestTypeName(dep), rule.Name)).
		WithRule(rule.Name).
		WithRequestType(requestTypeName(dep))
}

// detectCycles runs a depth-first search over the type-level dependency
// graph. Union-typed dependencies fan out to every registered member.
func (g *Graph) detectCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[reflect.Type]int)
	var path []reflect.Type

	var visit func(t reflect.Type) error
	visit = func(t reflect.Type) error {
		switch state[t] {
		case done:
			return nil
		case visiting:
			return NewGraphError(ErrCodeCycleDetected,
				fmt.Sprintf("rule graph cycle: %s", formatCycle(path, t)))
		}
		state[t] = visiting
		path = append(path, t)

		rule := g.byRequest[t]
		for _, dep := range rule.Deps {
			for _, next := range g.edgeTargets(dep) {
				if err := visit(next); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		state[t] = done
		return nil
	}

	// Deterministic iteration keeps cycle diagnostics stable.
	types := make([]reflect.Type, 0, len(g.byRequest))
	for t := range g.byRequest {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })

	for _, t := range types {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}

// edgeTargets expands a declared dependency type into the concrete request
// types it may resolve to at runtime.
func (g *Graph) edgeTargets(dep reflect.Type) []reflect.Type {
	if g.roots[dep] {
		return nil
	}
	if _, ok := g.byRequest[dep]; ok {
		return []reflect.Type{dep}
	}
	if dep.Kind() == reflect.Interface {
		return g.unions.Members(dep)
	}
	return nil
}

func formatCycle(path []reflect.Type, repeat reflect.Type) string {
	start := 0
	for i, t := range path {
		if t == repeat {
			start = i
			break
		}
	}
	names := make([]string, 0, len(path)-start+1)
	for _, t := range path[start:] {
		names = append(names, t.String())
	}
	names = append(names, repeat.String())
	return strings.Join(names, " -> ")
}

// RuleFor returns the unique rule for a concrete request type.
func (g *Graph) RuleFor(t reflect.Type) (*Rule, bool) {
	r, ok := g.byRequest[t]
	return r, ok
}

// UnionCandidates returns the rules competing to satisfy a union type.
func (g *Graph) UnionCandidates(union reflect.Type) []*Rule {
	members := g.unions.Members(union)
	out := make([]*Rule, 0, len(members))
	for _, m := range members {
		if r, ok := g.byRequest[m]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Unions exposes the union registry backing the graph.
func (g *Graph) Unions() *UnionRegistry {
	return g.unions
}

// IsRoot reports whether the type is a declared param type.
func (g *Graph) IsRoot(t reflect.Type) bool {
	return g.roots[t]
}

// RuleCount returns the number of resolved rules, for diagnostics.
func (g *Graph) RuleCount() int {
	return len(g.byRequest)
}
