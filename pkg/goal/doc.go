// Package goal implements the user-facing entry points layered on the rule
// engine. A goal selects the targets exposing the capability it needs,
// issues one engine request per eligible target, and folds the per-target
// results into a deterministic summary and a single process exit code.
// One target's failure never aborts its siblings or the invocation.
package goal
