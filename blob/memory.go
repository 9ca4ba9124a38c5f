package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Store(ctx context.Context, data []byte, filename, mediaType, ownerID string) (string, error) {
	blobID := fmt.Sprintf("%s/%s-%s", ownerID, uuid.NewString(), filename)

	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.objects[blobID] = cp
	s.mu.Unlock()

	return blobID, nil
}

func (s *MemoryStore) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.objects[blobID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Len reports how many artifacts are held; handy for append-only assertions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
