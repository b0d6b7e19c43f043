// Package engine implements a type-directed rule execution engine. Rules
// declare a request type they accept and a product type they return; a
// resolver validates the full graph ahead of execution (missing rules,
// ambiguous registrations, dependency cycles), and a scheduler runs root
// queries with per-fingerprint memoization, in-flight request coalescing
// and cooperative suspension of rule bodies on sub-requests.
//
// Union registries let rules dispatch on interface types whose concrete
// members are registered independently, so new member types extend
// behavior without touching the dispatching rule.
package engine
