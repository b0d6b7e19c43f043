package target

import (
	"fmt"
	"io/fs"
	"path"

	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// BuildFileName is the file the loader recognizes in each directory.
const BuildFileName = "BUILD"

// Loader discovers BUILD files in a workspace and assembles the target
// graph.
type Loader struct {
	kinds *KindRegistry
	log   *telemetry.Logger
}

// NewLoader creates a loader over the given kind registry.
func NewLoader(kinds *KindRegistry, logger *telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Loader{kinds: kinds, log: logger.NewComponentLogger("loader")}
}

// Load walks the workspace filesystem, evaluates every BUILD file and
// returns the resulting graph. Directories named with a leading dot or
// underscore are skipped.
func (l *Loader) Load(fsys fs.FS) (*Graph, error) {
	var targets []*Target
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != "." && (name[0] == '.' || name[0] == '_') {
				return fs.SkipDir
			}
			return nil
		}
		if name != BuildFileName {
			return nil
		}

		src, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		found, err := l.kinds.ExecBuildFile(dir, p, src)
		if err != nil {
			return err
		}
		l.log.WithField("file", p).WithField("targets", len(found)).Debug("loaded build file")
		targets = append(targets, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGraph(targets)
}
