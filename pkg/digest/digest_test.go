package digest

import (
	"testing"
)

func TestOfBytes_Deterministic(t *testing.T) {
	a := OfBytes([]byte("hello"))
	b := OfBytes([]byte("hello"))

	if a != b {
		t.Fatalf("Expected identical digests for identical content, got %s and %s", a, b)
	}

	c := OfBytes([]byte("world"))
	if a == c {
		t.Errorf("Expected different digests for different content")
	}

	if a.SizeBytes != 5 {
		t.Errorf("Expected size 5, got %d", a.SizeBytes)
	}
}

func TestOfBytes_EmptyMatchesEmptyConstant(t *testing.T) {
	d := OfBytes(nil)
	if d.Hash != Empty.Hash {
		t.Errorf("Expected empty content hash to equal Empty constant, got %s", d.Hash)
	}
	if !d.IsEmpty() {
		t.Errorf("Expected IsEmpty to be true")
	}
}

func TestFingerprintOf_SectionBoundaries(t *testing.T) {
	a := FingerprintOfStrings("ab", "c")
	b := FingerprintOfStrings("a", "bc")

	if a == b {
		t.Errorf("Expected section boundaries to affect the fingerprint")
	}

	if FingerprintOfStrings("ab", "c") != a {
		t.Errorf("Expected fingerprint to be deterministic")
	}
}

func TestEncodeManifest_SortsByPath(t *testing.T) {
	entries := []SnapshotEntry{
		{Path: "b.txt", Digest: OfBytes([]byte("b"))},
		{Path: "a.txt", Digest: OfBytes([]byte("a"))},
	}
	snapA, _ := snapshotOf(entries)

	reversed := []SnapshotEntry{entries[1], entries[0]}
	snapB, _ := snapshotOf(reversed)

	if snapA.Digest != snapB.Digest {
		t.Fatalf("Expected entry order not to affect snapshot digest: %s vs %s",
			snapA.Digest, snapB.Digest)
	}

	if snapA.Files[0].Path != "a.txt" {
		t.Errorf("Expected files sorted by path, got %v", snapA.Paths())
	}
}

func TestDecodeManifest_RoundTrip(t *testing.T) {
	entries := []SnapshotEntry{
		{Path: "dir/with space.txt", Digest: OfBytes([]byte("x")), Executable: true},
		{Path: "plain.txt", Digest: OfBytes([]byte("y"))},
	}
	manifest := encodeManifest(entries)

	decoded, err := decodeManifest(manifest)
	if err != nil {
		t.Fatalf("Expected no decode error, got: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(decoded))
	}
	if decoded[0].Path != "dir/with space.txt" || !decoded[0].Executable {
		t.Errorf("Expected path with spaces and executable bit preserved, got %+v", decoded[0])
	}
}
