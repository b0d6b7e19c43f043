package policy

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// LoadFromFS reads every .rego file under dir in the given filesystem and
// returns it as an enabled error-severity policy named after the file.
// Workspace policy directories use this to extend the built-ins.
func LoadFromFS(fsys fs.FS, dir string) ([]Policy, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading policy dir %s: %w", dir, err)
	}

	var policies []Policy
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		p := path.Join(dir, entry.Name())
		src, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("reading policy %s: %w", p, err)
		}
		policies = append(policies, Policy{
			Name:     strings.TrimSuffix(entry.Name(), ".rego"),
			Severity: SeverityError,
			Enabled:  true,
			Rego:     string(src),
		})
	}
	return policies, nil
}
