package blobstore

import (
	"context"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
)

// BadgerStore is a Store backed by a local BadgerDB instance. Keys are the
// blob's own content digest, so the database doubles as a dedup cache.
type BadgerStore struct {
	db     *badgerdb.DB
	logger log.Logger
}

// OpenBadgerStore opens (creating if necessary) a BadgerDB at dir.
func OpenBadgerStore(dir string, logger log.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: create data dir: %w", err)
	}
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open badger: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// Put writes data under its own content digest and returns that reference.
func (s *BadgerStore) Put(ctx context.Context, data []byte) (id.ContentRef, error) {
	ref := DigestRef(data)
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(ref.String()), data)
	})
	if err != nil {
		return id.ContentRef{}, fmt.Errorf("blobstore: put: %w", err)
	}
	s.logger.Debug("blobstore: put", log.String("ref", ref.String()), log.Int("bytes", len(data)))
	return ref, nil
}

// Get reads back the blob named by ref.
func (s *BadgerStore) Get(ctx context.Context, ref id.ContentRef) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(ref.String()))
		if err == badgerdb.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", ref, err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *BadgerStore) Close() error { return s.db.Close() }
