package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
)

// ProcessSpec describes a hermetic external command. Everything that can
// influence the command's observable behavior is part of the spec, so the
// fingerprint over its fields is a sound cache key.
type ProcessSpec struct {
	// Description is a human-readable label used in logs, traces and
	// error messages.
	Description string `json:"description"`

	// Argv is the command line. Argv[0] must be an absolute path,
	// typically obtained from a BinaryResolver.
	Argv []string `json:"argv"`

	// Env is the complete environment for the process. The ambient
	// environment is never inherited; callers build this map explicitly,
	// usually via EnvAllowlist.
	Env map[string]string `json:"env,omitempty"`

	// WorkingDir is a directory relative to the sandbox root, or empty
	// for the root itself. It must exist in the input snapshot.
	WorkingDir string `json:"working_dir,omitempty"`

	// InputDigest is materialized as the sandbox filesystem before the
	// process starts.
	InputDigest digest.Digest `json:"input_digest"`

	// OutputGlobs are the patterns captured from the sandbox after the
	// process exits. Patterns that match nothing are not an error: the
	// resulting snapshot simply lacks those paths.
	OutputGlobs []string `json:"output_globs,omitempty"`

	// Network requests network access. The default is denied; admission
	// policy decides whether a networked spec may run at all.
	Network bool `json:"network,omitempty"`

	// Timeout bounds wall-clock execution. Zero means no limit. An
	// expired timeout is reported as a failed result, not an error.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Uncacheable excludes the result from the process cache. Interactive
	// processes are always uncacheable regardless of this flag.
	Uncacheable bool `json:"uncacheable,omitempty"`
}

// Validate checks the structural constraints a spec must satisfy before it
// can be admitted.
func (s *ProcessSpec) Validate() error {
	if len(s.Argv) == 0 {
		return fmt.Errorf("process spec %q: empty argv", s.Description)
	}
	if s.Argv[0] == "" {
		return fmt.Errorf("process spec %q: empty argv[0]", s.Description)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("process spec %q: negative timeout", s.Description)
	}
	return nil
}

// Fingerprint returns a stable hash over every behavior-affecting field.
// Two specs with equal fingerprints are interchangeable for caching.
func (s *ProcessSpec) Fingerprint() digest.Fingerprint {
	sections := []string{"process/v1", s.Description}
	sections = append(sections, s.Argv...)
	sections = append(sections, "env")

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sections = append(sections, k+"="+s.Env[k])
	}

	sections = append(sections,
		"dir", s.WorkingDir,
		"input", s.InputDigest.Hash, strconv.FormatInt(s.InputDigest.SizeBytes, 10),
		"net", strconv.FormatBool(s.Network),
		// An expired timeout is cached as an exit -1 result, so a raised
		// timeout must produce a fresh cache key.
		"timeout", strconv.FormatInt(int64(s.Timeout), 10),
	)
	sections = append(sections, "outputs")
	sections = append(sections, s.OutputGlobs...)
	return digest.FingerprintOfStrings(sections...)
}

// EnvAllowlist builds a process environment by copying only the named
// variables out of an ambient environment. Missing names are skipped.
func EnvAllowlist(ambient map[string]string, names ...string) map[string]string {
	env := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := ambient[name]; ok {
			env[name] = v
		}
	}
	return env
}

// ProcessResult is the outcome of a sandboxed run. A non-zero ExitCode is
// ordinary data for the consuming rule to interpret, never an engine error.
type ProcessResult struct {
	ExitCode     int           `json:"exit_code"`
	Stdout       []byte        `json:"stdout,omitempty"`
	Stderr       []byte        `json:"stderr,omitempty"`
	OutputDigest digest.Digest `json:"output_digest"`
	Duration     time.Duration `json:"duration"`

	// Cached reports whether this result was replayed from the process
	// cache rather than executed.
	Cached bool `json:"cached,omitempty"`
}

// Succeeded reports whether the process exited zero.
func (r *ProcessResult) Succeeded() bool {
	return r.ExitCode == 0
}
