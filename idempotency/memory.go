package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps records in a size- and age-bounded in-process LRU.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Record]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most size records for ttl each.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10_000
	}
	return &MemoryStore{cache: expirable.NewLRU[string, *Record](size, nil, ttl)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	rec, ok := s.cache.Get(key)
	return rec, ok, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Peek(key); ok {
		return nil
	}
	s.cache.Add(key, rec)
	return nil
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int { return s.cache.Len() }
