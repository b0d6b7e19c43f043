package digest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FileEntry is a file to be written into a store.
type FileEntry struct {
	// Path is the workspace-relative, slash-separated path of the file.
	Path string

	// Content is the raw file content.
	Content []byte

	// Executable marks the file as executable when materialized.
	Executable bool
}

// SnapshotEntry is one file inside a snapshot manifest.
type SnapshotEntry struct {
	// Path is the slash-separated path relative to the snapshot root.
	Path string `json:"path"`

	// Digest identifies the file content blob.
	Digest Digest `json:"digest"`

	// Executable marks the file as executable when materialized.
	Executable bool `json:"executable"`
}

// Snapshot is an expanded file-tree snapshot: its identifying digest plus
// the manifest entries it covers, sorted by path.
type Snapshot struct {
	// Digest identifies the snapshot.
	Digest Digest `json:"digest"`

	// Files lists the snapshot entries in path order.
	Files []SnapshotEntry `json:"files"`
}

// EmptySnapshot returns the snapshot with no files.
func EmptySnapshot() Snapshot {
	return Snapshot{Digest: Empty}
}

// Paths returns the file paths covered by the snapshot, in order.
func (s Snapshot) Paths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	return paths
}

// Contains reports whether the snapshot includes the given path.
func (s Snapshot) Contains(path string) bool {
	i := sort.SearchStrings(s.Paths(), path)
	return i < len(s.Files) && s.Files[i].Path == path
}

// encodeManifest renders entries into the canonical manifest form:
// one line per file, "hash size mode path\n", sorted by path. The snapshot
// digest is the SHA-256 of these bytes, so the encoding must stay stable.
func encodeManifest(entries []SnapshotEntry) []byte {
	sorted := make([]SnapshotEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var sb strings.Builder
	for _, e := range sorted {
		mode := "f"
		if e.Executable {
			mode = "x"
		}
		sb.WriteString(e.Digest.Hash)
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(e.Digest.SizeBytes, 10))
		sb.WriteByte(' ')
		sb.WriteString(mode)
		sb.WriteByte(' ')
		sb.WriteString(e.Path)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// decodeManifest parses canonical manifest bytes back into entries.
func decodeManifest(data []byte) ([]SnapshotEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	entries := make([]SnapshotEntry, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, " ", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed manifest line: %q", line)
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed manifest size in %q: %w", line, err)
		}
		entries = append(entries, SnapshotEntry{
			Path:       parts[3],
			Digest:     Digest{Hash: parts[0], SizeBytes: size},
			Executable: parts[2] == "x",
		})
	}
	return entries, nil
}

// snapshotOf builds the Snapshot value for a set of entries. The snapshot
// size is the sum of its file sizes.
func snapshotOf(entries []SnapshotEntry) (Snapshot, []byte) {
	manifest := encodeManifest(entries)
	d := OfBytes(manifest)
	var total int64
	sorted, _ := decodeManifest(manifest)
	for _, e := range sorted {
		total += e.Digest.SizeBytes
	}
	d.SizeBytes = total
	return Snapshot{Digest: d, Files: sorted}, manifest
}
