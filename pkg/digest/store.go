package digest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ErrMergeConflict is returned by Merge when two snapshots contain the same
// path with different content.
var ErrMergeConflict = errors.New("digest merge conflict")

// ErrNotFound is returned when a digest is not present in the store.
var ErrNotFound = errors.New("digest not found")

// Store is a content-addressed snapshot store. All methods are safe for
// concurrent use. Values handed out by a Store are immutable; callers must
// not modify returned byte slices.
type Store interface {
	// WriteFiles stores the given files and returns their snapshot.
	// An empty input yields the empty snapshot. Duplicate paths with
	// identical content collapse to one entry; duplicates with differing
	// content fail with ErrMergeConflict.
	WriteFiles(ctx context.Context, files []FileEntry) (Snapshot, error)

	// Load expands a snapshot digest back into its manifest entries.
	Load(ctx context.Context, d Digest) (Snapshot, error)

	// ReadFile returns the content blob for a file digest.
	ReadFile(ctx context.Context, d Digest) ([]byte, error)

	// Merge combines snapshots into one. Two inputs containing the same
	// path with differing content fail with ErrMergeConflict. Merging
	// with Empty is an identity operation.
	Merge(ctx context.Context, digests ...Digest) (Digest, error)

	// Materialize writes the snapshot's files under dir, creating parent
	// directories as needed.
	Materialize(ctx context.Context, dir string, d Digest) error

	// Capture snapshots the files under dir whose relative paths match
	// any of the given glob patterns (double-star globs supported). A
	// pattern naming a directory captures the whole subtree. Patterns
	// that match nothing are ignored.
	Capture(ctx context.Context, dir string, globs []string) (Snapshot, error)

	// Close releases any underlying resources.
	Close() error
}

// blobStore is the minimal backend a treeStore needs: immutable blobs in
// two keyspaces, one for file content and one for snapshot manifests.
type blobStore interface {
	putBlob(ctx context.Context, space string, d Digest, data []byte) error
	getBlob(ctx context.Context, space string, d Digest) ([]byte, error)
	close() error
}

const (
	spaceFile = "blob"
	spaceTree = "tree"
)

// treeStore implements Store on top of a blobStore.
type treeStore struct {
	blobs blobStore
}

func (s *treeStore) WriteFiles(ctx context.Context, files []FileEntry) (Snapshot, error) {
	entries := make([]SnapshotEntry, 0, len(files))
	seen := make(map[string]Digest, len(files))
	for _, f := range files {
		if f.Path == "" || strings.HasPrefix(f.Path, "/") || strings.Contains(f.Path, "..") {
			return Snapshot{}, fmt.Errorf("invalid snapshot path %q", f.Path)
		}
		path := filepath.ToSlash(f.Path)
		fd := OfBytes(f.Content)
		if prev, ok := seen[path]; ok {
			if prev != fd {
				return Snapshot{}, fmt.Errorf("%w: path %q has digests %s and %s",
					ErrMergeConflict, path, prev.Hash, fd.Hash)
			}
			continue
		}
		seen[path] = fd
		if err := s.blobs.putBlob(ctx, spaceFile, fd, f.Content); err != nil {
			return Snapshot{}, err
		}
		entries = append(entries, SnapshotEntry{Path: path, Digest: fd, Executable: f.Executable})
	}
	return s.storeManifest(ctx, entries)
}

func (s *treeStore) storeManifest(ctx context.Context, entries []SnapshotEntry) (Snapshot, error) {
	snap, manifest := snapshotOf(entries)
	if err := s.blobs.putBlob(ctx, spaceTree, snap.Digest, manifest); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *treeStore) Load(ctx context.Context, d Digest) (Snapshot, error) {
	if d.IsZero() || d.IsEmpty() {
		return EmptySnapshot(), nil
	}
	manifest, err := s.blobs.getBlob(ctx, spaceTree, d)
	if err != nil {
		return Snapshot{}, err
	}
	entries, err := decodeManifest(manifest)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Digest: d, Files: entries}, nil
}

func (s *treeStore) ReadFile(ctx context.Context, d Digest) ([]byte, error) {
	if d.IsEmpty() {
		return nil, nil
	}
	return s.blobs.getBlob(ctx, spaceFile, d)
}

func (s *treeStore) Merge(ctx context.Context, digests ...Digest) (Digest, error) {
	merged := make(map[string]SnapshotEntry)
	for _, d := range digests {
		snap, err := s.Load(ctx, d)
		if err != nil {
			return Digest{}, err
		}
		for _, e := range snap.Files {
			prev, seen := merged[e.Path]
			if seen && prev.Digest != e.Digest {
				return Digest{}, fmt.Errorf("%w: path %q has digests %s and %s",
					ErrMergeConflict, e.Path, prev.Digest.Hash, e.Digest.Hash)
			}
			merged[e.Path] = e
		}
	}
	entries := make([]SnapshotEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	snap, err := s.storeManifest(ctx, entries)
	if err != nil {
		return Digest{}, err
	}
	return snap.Digest, nil
}

func (s *treeStore) Materialize(ctx context.Context, dir string, d Digest) error {
	snap, err := s.Load(ctx, d)
	if err != nil {
		return err
	}
	for _, e := range snap.Files {
		content, err := s.ReadFile(ctx, e.Digest)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", e.Path, err)
		}
		dst := filepath.Join(dir, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if e.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(dst, content, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *treeStore) Capture(ctx context.Context, dir string, globs []string) (Snapshot, error) {
	matchers := make([]glob.Glob, 0, len(globs))
	dirPrefixes := make([]string, 0, len(globs))
	for _, pattern := range globs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return Snapshot{}, fmt.Errorf("bad output glob %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
		// A pattern naming a directory captures everything below it.
		if st, err := os.Stat(filepath.Join(dir, filepath.FromSlash(pattern))); err == nil && st.IsDir() {
			dirPrefixes = append(dirPrefixes, strings.TrimSuffix(pattern, "/")+"/")
		}
	}

	var files []FileEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchesAny(rel, matchers, dirPrefixes) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileEntry{
			Path:       rel,
			Content:    content,
			Executable: info.Mode()&0o111 != 0,
		})
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return s.WriteFiles(ctx, files)
}

func (s *treeStore) Close() error {
	return s.blobs.close()
}

func matchesAny(rel string, matchers []glob.Glob, dirPrefixes []string) bool {
	for _, g := range matchers {
		if g.Match(rel) {
			return true
		}
	}
	for _, prefix := range dirPrefixes {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}
