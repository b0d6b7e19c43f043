package commands

import (
	"path/filepath"
	"testing"

	"github.com/quarrybuild/quarry/pkg/stores"
)

func TestProcessCacheFor_MemoryBackendDisablesCache(t *testing.T) {
	db, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "quarry.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	// Memory-backed blobs do not outlive the process; persisted result
	// rows would reference output digests nothing can load later.
	if c := processCacheFor("memory", db); c != nil {
		t.Errorf("processCacheFor(memory) = %T, want nil", c)
	}
	if c := processCacheFor("badger", db); c == nil {
		t.Error("processCacheFor(badger) = nil, want a process cache")
	}
}
