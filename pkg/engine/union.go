package engine

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// UnionRegistry maps abstract (interface) request types to the concrete
// request types registered against them. It backs the engine's open
// extension points: a rule that accepts a union-typed value is dispatched
// at runtime to the rule registered for the value's concrete type.
//
// Registration happens at process start, before resolution; lookups are
// safe for concurrent use afterwards.
type UnionRegistry struct {
	mu      sync.RWMutex
	members map[reflect.Type][]reflect.Type
}

// NewUnionRegistry creates an empty registry.
func NewUnionRegistry() *UnionRegistry {
	return &UnionRegistry{members: make(map[reflect.Type][]reflect.Type)}
}

// Register adds a concrete member type to a union. The union must be an
// interface type and the member must implement it.
func (r *UnionRegistry) Register(union, member reflect.Type) error {
	if union == nil || union.Kind() != reflect.Interface {
		return NewDispatchError(ErrCodeUnregisteredUnionMember,
			fmt.Sprintf("union type %s is not an interface", requestTypeName(union)))
	}
	if member == nil || !member.Implements(union) {
		return NewDispatchError(ErrCodeUnregisteredUnionMember,
			fmt.Sprintf("type %s does not implement union %s",
				requestTypeName(member), union.String()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.members[union] {
		if existing == member {
			return nil
		}
	}
	r.members[union] = append(r.members[union], member)
	return nil
}

// Members returns the concrete types registered for a union, sorted by type
// name for deterministic iteration.
func (r *UnionRegistry) Members(union reflect.Type) []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]reflect.Type, len(r.members[union]))
	copy(out, r.members[union])
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsMember reports whether the concrete type is registered under the union.
func (r *UnionRegistry) IsMember(union, member reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.members[union] {
		if t == member {
			return true
		}
	}
	return false
}

// UnionsOf returns the unions whose interface the given concrete type
// implements, whether or not the type is registered as a member. Used to
// distinguish "unregistered union member" from "no rule at all".
func (r *UnionRegistry) UnionsOf(concrete reflect.Type) []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []reflect.Type
	for union := range r.members {
		if concrete.Implements(union) {
			out = append(out, union)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Unions returns all registered union types.
func (r *UnionRegistry) Unions() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]reflect.Type, 0, len(r.members))
	for union := range r.members {
		out = append(out, union)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
