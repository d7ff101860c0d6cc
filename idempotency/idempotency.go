// Package idempotency stores the outcome of mutating HTTP requests under the
// caller's Idempotency-Key so that retries receive the original response
// instead of repeating the mutation.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// ErrKeyReused is returned when a key is presented again with a different
// request payload.
var ErrKeyReused = errors.New("idempotency: key reused with a different request")

// Record is a stored response.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Store persists records. Put keeps the first record written for a key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Put(ctx context.Context, key string, rec *Record) error
}

// Fingerprint hashes the parts of a request that must match on replay.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Guard runs a handler at most once per key. Concurrent calls with the same
// key share one execution.
type Guard struct {
	store  Store
	flight singleflight.Group
}

// NewGuard creates a Guard over s.
func NewGuard(s Store) *Guard {
	return &Guard{store: s}
}

// Do returns the stored record for key when one exists, or runs fn and
// stores its result. Server errors (status >= 500) are not stored so the
// caller may retry them. replayed is true when the record came from the store.
func (g *Guard) Do(ctx context.Context, key, fingerprint string, fn func() (*Record, error)) (*Record, bool, error) {
	if rec, ok, err := g.lookup(ctx, key, fingerprint); err != nil || ok {
		return rec, ok, err
	}

	type result struct {
		rec      *Record
		replayed bool
	}
	v, err, _ := g.flight.Do(key, func() (any, error) {
		if rec, ok, err := g.lookup(ctx, key, fingerprint); err != nil || ok {
			return result{rec, ok}, err
		}
		rec, err := fn()
		if err != nil {
			return nil, err
		}
		rec.Fingerprint = fingerprint
		if rec.Status < 500 {
			if err := g.store.Put(ctx, key, rec); err != nil {
				return nil, fmt.Errorf("idempotency: store record: %w", err)
			}
		}
		return result{rec: rec}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(result)
	if res.rec.Fingerprint != fingerprint {
		return nil, false, ErrKeyReused
	}
	return res.rec, res.replayed, nil
}

func (g *Guard) lookup(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	rec, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: load record: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	if rec.Fingerprint != fingerprint {
		return nil, false, ErrKeyReused
	}
	return rec, true, nil
}
