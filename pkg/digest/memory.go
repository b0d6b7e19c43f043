package digest

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. It is the default for tests and for
// runs that do not configure a cache directory.
type MemoryStore struct {
	treeStore
	blobs memoryBlobs
}

type memoryBlobs struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{blobs: memoryBlobs{data: make(map[string][]byte)}}
	s.treeStore.blobs = &s.blobs
	return s
}

func (b *memoryBlobs) key(space string, d Digest) string {
	return space + "/" + d.Hash
}

func (b *memoryBlobs) putBlob(_ context.Context, space string, d Digest, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[b.key(space, d)]; ok {
		return nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	b.data[b.key(space, d)] = stored
	return nil
}

func (b *memoryBlobs) getBlob(_ context.Context, space string, d Digest) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[b.key(space, d)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, space, d.Hash)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (b *memoryBlobs) close() error { return nil }
