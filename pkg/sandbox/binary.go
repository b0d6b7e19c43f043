package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ToolchainManifest pins tool binaries to explicit paths. It is loaded from
// a YAML file shaped like:
//
//	tools:
//	  sh:
//	    path: /bin/sh
//	  go:
//	    path: /usr/local/go/bin/go
//	    version: "1.25"
type ToolchainManifest struct {
	Tools map[string]ToolEntry `yaml:"tools"`
}

// ToolEntry is one pinned binary.
type ToolEntry struct {
	Path    string `yaml:"path"`
	Version string `yaml:"version,omitempty"`
}

// LoadToolchainManifest parses a manifest file and verifies each pinned
// path exists and is executable by the current user.
func LoadToolchainManifest(path string) (*ToolchainManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading toolchain manifest: %w", err)
	}
	var m ToolchainManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing toolchain manifest %s: %w", path, err)
	}
	for name, entry := range m.Tools {
		if entry.Path == "" {
			return nil, fmt.Errorf("toolchain manifest %s: tool %q has no path", path, name)
		}
		info, err := os.Stat(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("toolchain manifest %s: tool %q: %w", path, name, err)
		}
		if info.IsDir() || info.Mode()&0o111 == 0 {
			return nil, fmt.Errorf("toolchain manifest %s: tool %q path %s is not executable", path, name, entry.Path)
		}
	}
	return &m, nil
}

// BinaryResolver locates tool binaries for process specs. Pinned manifest
// entries win over search-path lookup; lookups are memoized.
type BinaryResolver struct {
	manifest    *ToolchainManifest
	searchPaths []string

	mu    sync.Mutex
	found map[string]string
}

// NewBinaryResolver creates a resolver. manifest may be nil; searchPaths
// defaults to the ambient PATH when empty.
func NewBinaryResolver(manifest *ToolchainManifest, searchPaths []string) *BinaryResolver {
	if len(searchPaths) == 0 {
		searchPaths = filepath.SplitList(os.Getenv("PATH"))
	}
	return &BinaryResolver{
		manifest:    manifest,
		searchPaths: searchPaths,
		found:       make(map[string]string),
	}
}

// Resolve returns the absolute path of a named tool.
func (r *BinaryResolver) Resolve(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return "", fmt.Errorf("tool name %q must not contain path separators", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if path, ok := r.found[name]; ok {
		return path, nil
	}

	if r.manifest != nil {
		if entry, ok := r.manifest.Tools[name]; ok {
			r.found[name] = entry.Path
			return entry.Path, nil
		}
	}

	for _, dir := range r.searchPaths {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}
		r.found[name] = candidate
		return candidate, nil
	}

	// Fall back to PATH semantics for relative search entries.
	if path, err := exec.LookPath(name); err == nil {
		r.found[name] = path
		return path, nil
	}
	return "", fmt.Errorf("tool %q not found in toolchain manifest or search paths %v", name, r.searchPaths)
}
