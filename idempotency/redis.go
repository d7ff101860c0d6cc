package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records in Redis so replays work across processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store using keys "<prefix><key>".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "tokenledger:idem:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// Put implements Store. SETNX keeps the first writer's record.
func (s *RedisStore) Put(ctx context.Context, key string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, s.prefix+key, raw, s.ttl).Err()
}
