package balance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client, "test:balance", ttl), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, 0)

	if _, ok, err := c.Get(ctx, "acct-1"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}

	asOf := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	want := Snapshot{AccountID: "acct-1", SequenceNo: 3, Available: 90, Total: 120, Spent: 30, AsOf: asOf}
	if err := c.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, ok, err := c.Get(ctx, "acct-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestRedisCacheRejectsOlderSequence(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, 0)

	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 5, Available: 50, Total: 50})
	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 4, Available: 40, Total: 40})

	got, _, _ := c.Get(ctx, "acct-1")
	if got.SequenceNo != 5 || got.Available != 50 {
		t.Errorf("older publish replaced newer snapshot: %+v", got)
	}

	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 6, Available: 10, Total: 50, Spent: 40})
	got, _, _ = c.Get(ctx, "acct-1")
	if got.SequenceNo != 6 {
		t.Errorf("newer publish ignored: %+v", got)
	}
}

func TestRedisCacheTTLAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)

	_ = c.Publish(ctx, Snapshot{AccountID: "acct-1", SequenceNo: 1, Available: 1, Total: 1})
	if ttl := mr.TTL("test:balance:acct-1"); ttl <= 0 {
		t.Errorf("ttl = %v, want positive", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "acct-1"); ok {
		t.Error("expired entry still returned")
	}

	_ = c.Publish(ctx, Snapshot{AccountID: "acct-2", SequenceNo: 1})
	_ = c.Invalidate(ctx, "acct-2")
	if _, ok, _ := c.Get(ctx, "acct-2"); ok {
		t.Error("invalidated entry still returned")
	}
}
