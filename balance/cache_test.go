package balance

import (
	"context"
	"sync"
	"testing"
)

func TestLRUCachePublishIsMonotonic(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(8)

	if _, ok, _ := c.Get(ctx, "acct-1"); ok {
		t.Fatal("empty cache returned a hit")
	}

	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 2, Available: 70, Total: 100, Spent: 30})
	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 1, Available: 100, Total: 100})
	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 2, Available: 1, Total: 1})

	got, ok, err := c.Get(ctx, "acct-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.SequenceNo != 2 || got.Available != 70 {
		t.Errorf("stale or equal sequence replaced the snapshot: %+v", got)
	}

	_ = c.Invalidate(ctx, "acct-1")
	if _, ok, _ := c.Get(ctx, "acct-1"); ok {
		t.Error("invalidated entry still cached")
	}
}

func TestLRUCacheConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(0)

	var wg sync.WaitGroup
	for i := int64(1); i <= 200; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: seq, Available: seq, Total: seq})
		}(i)
	}
	wg.Wait()

	got, _, _ := c.Get(ctx, "acct-1")
	if got.SequenceNo != 200 {
		t.Errorf("final sequence = %d, want 200", got.SequenceNo)
	}
}

func TestLRUCacheEvicts(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)
	for _, a := range []string{"a", "b", "c"} {
		_ = c.Publish(ctx, Snapshot{AccountID: a, SequenceNo: 1})
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("oldest entry should have been evicted")
	}
}
