package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// publishScript replaces the hash only when the incoming sequence is newer.
var publishScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'available', ARGV[2], 'total', ARGV[3], 'spent', ARGV[4], 'as_of', ARGV[5])
if tonumber(ARGV[6]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[6])
end
return 1
`)

// RedisCache shares snapshots between processes through a Redis hash per
// account.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache storing keys as "<prefix>:<accountID>".
// A zero ttl keeps entries until they are replaced or invalidated.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "tokenledger:balance"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(accountID string) string {
	return c.prefix + ":" + accountID
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (Snapshot, bool, error) {
	vals, err := c.client.HGetAll(ctx, c.key(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("balance: redis get: %w", err)
	}
	if len(vals) == 0 {
		return Snapshot{}, false, nil
	}

	s := Snapshot{AccountID: accountID}
	fields := []struct {
		name string
		dst  *int64
	}{
		{"seq", &s.SequenceNo},
		{"available", &s.Available},
		{"total", &s.Total},
		{"spent", &s.Spent},
	}
	for _, f := range fields {
		n, err := strconv.ParseInt(vals[f.name], 10, 64)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("balance: redis field %s: %w", f.name, err)
		}
		*f.dst = n
	}
	if ns, err := strconv.ParseInt(vals["as_of"], 10, 64); err == nil && ns > 0 {
		s.AsOf = time.Unix(0, ns).UTC()
	}

	return s, true, nil
}

func (c *RedisCache) Publish(ctx context.Context, s Snapshot) error {
	var asOf int64
	if !s.AsOf.IsZero() {
		asOf = s.AsOf.UnixNano()
	}
	err := publishScript.Run(ctx, c.client, []string{c.key(s.AccountID)},
		s.SequenceNo, s.Available, s.Total, s.Spent, asOf, c.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("balance: redis publish: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, accountID string) error {
	if err := c.client.Del(ctx, c.key(accountID)).Err(); err != nil {
		return fmt.Errorf("balance: redis invalidate: %w", err)
	}
	return nil
}
