package target

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// ErrNoFilesMatched is returned when a glob set matches nothing under a
// policy that requires at least one match.
var ErrNoFilesMatched = errors.New("no files matched")

// ErrTooManyFilesMatched is returned when a glob set exceeds the caller's
// match limit.
var ErrTooManyFilesMatched = errors.New("too many files matched")

// MatchPolicy controls how unmatched source globs are treated.
type MatchPolicy int

const (
	// MatchAllowEmpty treats an unmatched glob set as an empty file list.
	MatchAllowEmpty MatchPolicy = iota

	// MatchRequireAny fails with ErrNoFilesMatched when the whole glob
	// set matches nothing.
	MatchRequireAny
)

// ExpandOptions configures source glob expansion.
type ExpandOptions struct {
	Policy MatchPolicy

	// MaxMatches caps the match count; 0 means unlimited. Exceeding it
	// fails with ErrTooManyFilesMatched.
	MaxMatches int
}

// ExpandSources resolves a target's source globs against the workspace
// filesystem. Globs are relative to dir; a leading "!" marks an exclusion.
// Returned paths are workspace-relative and sorted.
func ExpandSources(fsys fs.FS, dir string, globs []string, opts ExpandOptions) ([]string, error) {
	if len(globs) == 0 {
		return nil, nil
	}

	var includes, excludes []glob.Glob
	for _, pattern := range globs {
		neg := strings.HasPrefix(pattern, "!")
		if neg {
			pattern = pattern[1:]
		}
		m, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("bad source glob %q: %w", pattern, err)
		}
		if neg {
			excludes = append(excludes, m)
		} else {
			includes = append(includes, m)
		}
	}

	root := dir
	if root == "" {
		root = "."
	}
	var matched []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := p
		if dir != "" {
			rel = strings.TrimPrefix(p, dir+"/")
		}
		if !matchesAny(includes, rel) || matchesAny(excludes, rel) {
			return nil
		}
		matched = append(matched, path.Join(dir, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && opts.Policy == MatchAllowEmpty {
			return nil, nil
		}
		return nil, fmt.Errorf("walking sources under %q: %w", dir, err)
	}

	if len(matched) == 0 && opts.Policy == MatchRequireAny {
		return nil, fmt.Errorf("globs %v under %q: %w", globs, dir, ErrNoFilesMatched)
	}
	if opts.MaxMatches > 0 && len(matched) > opts.MaxMatches {
		return nil, fmt.Errorf("globs %v under %q matched %d files, limit %d: %w",
			globs, dir, len(matched), opts.MaxMatches, ErrTooManyFilesMatched)
	}
	sort.Strings(matched)
	return matched, nil
}

func matchesAny(matchers []glob.Glob, rel string) bool {
	for _, m := range matchers {
		if m.Match(rel) {
			return true
		}
	}
	return false
}
