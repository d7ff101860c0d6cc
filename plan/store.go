package plan

import (
	"context"
)

type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	ArchivePlan(ctx context.Context, planID string) error

	CreateBundle(ctx context.Context, b *Bundle) error
	GetBundle(ctx context.Context, bundleID string) (*Bundle, error)
	ListBundles(ctx context.Context, opts ListOpts) ([]*Bundle, error)
}

// ListOpts filters catalog listings. An empty Status lists every entry.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
