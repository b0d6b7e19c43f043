package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest identifies an immutable file-tree snapshot (or a single blob) by
// the SHA-256 of its canonical bytes plus its total size in bytes.
type Digest struct {
	// Hash is the lowercase hex SHA-256 of the canonical content.
	Hash string `json:"hash"`

	// SizeBytes is the total content size covered by this digest.
	SizeBytes int64 `json:"size_bytes"`
}

// Empty is the digest of the empty snapshot. Merging any digest with Empty
// yields the original digest.
var Empty = Digest{
	Hash:      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	SizeBytes: 0,
}

// IsZero reports whether the digest is the zero value (unset, distinct from
// Empty).
func (d Digest) IsZero() bool {
	return d.Hash == ""
}

// IsEmpty reports whether the digest identifies the empty snapshot.
func (d Digest) IsEmpty() bool {
	return d.Hash == Empty.Hash
}

// String renders the digest as "hash/size".
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.SizeBytes)
}

// OfBytes computes the digest of a raw byte blob.
func OfBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest{
		Hash:      hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(b)),
	}
}

// Fingerprint is a 64-bit structural hash used as an in-memory cache key for
// requests and process specifications. It is not content-addressed storage
// identity; use Digest for that.
type Fingerprint uint64

// String renders the fingerprint as 16 hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// FingerprintOf hashes the given byte sections in order into a Fingerprint.
// Each section is prefixed with its length so that ("ab","c") and ("a","bc")
// hash differently.
func FingerprintOf(sections ...[]byte) Fingerprint {
	h := xxhash.New()
	var lenBuf [8]byte
	for _, s := range sections {
		n := uint64(len(s))
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(s)
	}
	return Fingerprint(h.Sum64())
}

// FingerprintOfStrings hashes the given strings in order.
func FingerprintOfStrings(sections ...string) Fingerprint {
	bs := make([][]byte, len(sections))
	for i, s := range sections {
		bs[i] = []byte(s)
	}
	return FingerprintOf(bs...)
}
