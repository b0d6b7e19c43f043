// Package target models the addressable build graph: targets declared in
// Starlark BUILD files, indexed by address, with explicit dependency edges
// and source globs resolved against the workspace filesystem. The graph is
// read-only after loading; the engine queries it but never owns or mutates
// it.
package target
