package blobstore

import (
	"context"
	"sync"

	"github.com/weisyn/theater/internal/id"
)

// MemoryStore is an in-process Store for tests and any caller that does not
// need durable storage.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (id.ContentRef, error) {
	ref := DigestRef(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref.String()] = append([]byte(nil), data...)
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref id.ContentRef) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[ref.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Close() error { return nil }
