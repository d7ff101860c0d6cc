package balance

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds the latest published snapshot per account.
//
// Publish must only replace a cached snapshot when the new one carries a
// strictly higher sequence number, so a slow writer can never roll a reader
// back to an older balance.
type Cache interface {
	Get(ctx context.Context, accountID string) (Snapshot, bool, error)
	Publish(ctx context.Context, s Snapshot) error
	Invalidate(ctx context.Context, accountID string) error
}

const defaultLRUSize = 10_000

// LRUCache is a bounded in-process Cache.
type LRUCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Snapshot]
}

var _ Cache = (*LRUCache)(nil)

// NewLRUCache creates a cache holding up to size accounts. A non-positive
// size uses the default of 10000.
func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = defaultLRUSize
	}
	c, err := lru.New[string, Snapshot](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &LRUCache{cache: c}
}

func (c *LRUCache) Get(_ context.Context, accountID string) (Snapshot, bool, error) {
	s, ok := c.cache.Get(accountID)
	return s, ok, nil
}

func (c *LRUCache) Publish(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.cache.Peek(s.AccountID); ok && cur.SequenceNo >= s.SequenceNo {
		return nil
	}
	c.cache.Add(s.AccountID, s)
	return nil
}

func (c *LRUCache) Invalidate(_ context.Context, accountID string) error {
	c.cache.Remove(accountID)
	return nil
}

// Len returns the number of cached accounts.
func (c *LRUCache) Len() int { return c.cache.Len() }
