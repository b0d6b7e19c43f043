// Package watch provides a debounced filesystem watcher over a
// workspace tree, used to invalidate memoized rule results when
// sources change between goal invocations.
package watch
