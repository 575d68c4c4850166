package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, collection, id string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string][]byte)
		s.collections[collection] = records
	}
	records[id] = append([]byte(nil), record...)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.collections[collection][id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), record...), true, nil
}

func (s *MemoryStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([][]byte, 0, len(s.collections[collection]))
	for _, record := range s.collections[collection] {
		records = append(records, append([]byte(nil), record...))
	}
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
