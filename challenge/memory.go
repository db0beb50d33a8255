package challenge

import (
	"context"
	"sync"
	"time"
)

// maxEntries caps the number of pending challenges held in memory.
const maxEntries = 10000

// MemoryStore is a process-local challenge store. Expired entries are
// evicted opportunistically on every Put, so an abandoned ceremony
// never outlives its TTL by more than one insert.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory challenge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, id string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()
	if len(s.entries) >= maxEntries {
		return ErrStoreFull
	}
	s.entries[id] = memoryEntry{
		data:      append([]byte(nil), data...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, id)
	if s.now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.data, nil
}

// Len reports the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) evictExpiredLocked() {
	now := s.now()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}
