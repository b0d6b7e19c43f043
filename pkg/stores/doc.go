// Package stores provides SQLite-backed persistence: the run history and
// the cross-invocation process-result cache. The digest store holds the
// actual output file content; this package only records result metadata
// keyed by process fingerprint.
package stores
