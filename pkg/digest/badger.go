package digest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an on-disk content-addressed Store backed by BadgerDB.
// Blobs are keyed by their digest, so identical content across runs is
// stored exactly once and cache entries survive process restarts.
type BadgerStore struct {
	treeStore
	db *badger.DB
}

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for the database files. Ignored when
	// InMemory is set.
	Path string

	// InMemory disables disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a Badger-backed store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger store requires a path unless in-memory")
	}
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	s := &BadgerStore{db: db}
	s.treeStore.blobs = (*badgerBlobs)(s)
	return s, nil
}

type badgerBlobs BadgerStore

func blobKey(space string, d Digest) []byte {
	return []byte(space + "/" + d.Hash)
}

func (b *badgerBlobs) putBlob(_ context.Context, space string, d Digest, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := blobKey(space, d)
		if _, err := txn.Get(key); err == nil {
			// Content-addressed: an existing entry is identical.
			return nil
		}
		return txn.Set(key, data)
	})
}

func (b *badgerBlobs) getBlob(_ context.Context, space string, d Digest) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(space, d))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s %s", ErrNotFound, space, d.Hash)
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (b *badgerBlobs) close() error {
	return b.db.Close()
}
