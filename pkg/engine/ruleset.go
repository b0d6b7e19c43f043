package engine

import (
	"reflect"
)

// RuleSet accumulates rule and union registrations at process start. It is
// consumed exactly once by Resolve, which compiles it into an executable
// Graph; registration after resolution has no effect on existing schedulers.
type RuleSet struct {
	rules  []Rule
	unions *UnionRegistry
	params []reflect.Type
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{unions: NewUnionRegistry()}
}

// Register adds rules to the set. Conflicts (two rules for one request
// type) are reported by Resolve, not here, so that registration order
// cannot hide an ambiguity.
func (rs *RuleSet) Register(rules ...Rule) *RuleSet {
	rs.rules = append(rs.rules, rules...)
	return rs
}

// RegisterUnion adds concrete member types to a union without attaching a
// rule, for members whose rules are registered elsewhere.
func (rs *RuleSet) RegisterUnion(union reflect.Type, members ...reflect.Type) error {
	for _, m := range members {
		if err := rs.unions.Register(union, m); err != nil {
			return err
		}
	}
	return nil
}

// ProvideParams declares request types whose values are injected at
// scheduler construction rather than produced by rules (e.g. global
// options, the digest store handle). Params terminate dependency
// resolution.
func (rs *RuleSet) ProvideParams(types ...reflect.Type) *RuleSet {
	rs.params = append(rs.params, types...)
	return rs
}

// Rules returns the registered rules.
func (rs *RuleSet) Rules() []Rule {
	return rs.rules
}

// Unions returns the union registry.
func (rs *RuleSet) Unions() *UnionRegistry {
	return rs.unions
}
