// Package types provides value types shared across tokenledger packages.
package types

import "time"

// Entity carries the bookkeeping timestamps of persisted records.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,notnull,default:current_timestamp"`
}

// NewEntity stamps both timestamps with now (normalized to UTC).
func NewEntity(now time.Time) Entity {
	now = now.UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch moves UpdatedAt forward to now.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}
