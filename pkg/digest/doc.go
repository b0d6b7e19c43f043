// Package digest implements content-addressed, immutable file-tree snapshots.
//
// # Overview
//
// Every file is identified by the SHA-256 of its content. A snapshot is a
// canonical manifest of (path, file digest, size, mode) entries sorted by
// path; the snapshot's Digest is the SHA-256 of the manifest bytes. Two
// snapshots with identical content therefore always carry identical Digests,
// regardless of which process or run produced them.
//
// # Core Types
//
//   - Digest: content hash plus total byte size, the identity of a snapshot
//   - Snapshot: a digest together with its expanded file entries
//   - Fingerprint: a cheap 64-bit structural hash used as a cache key for
//     requests and process specifications (not for file content)
//   - Store: write, merge, materialize and capture snapshots
//
// # Stores
//
// Two Store implementations are provided:
//
//   - MemoryStore: process-local, used by tests and ephemeral runs
//   - BadgerStore: an on-disk content-addressed store backed by BadgerDB,
//     shared across runs so identical content is stored once
//
// Snapshots are immutable after construction. The store deduplicates blobs
// by content hash, so writing the same file twice costs one copy.
package digest
