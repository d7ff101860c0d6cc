package tokenledger

import (
	"context"
	"strings"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/types"
)

// CreatePlan publishes a subscription plan. Plans are immutable afterwards;
// retire one with ArchivePlan.
func (l *Ledger) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if strings.TrimSpace(p.Name) == "" {
		return ValidationError{Field: "name", Message: "required"}
	}
	if err := l.checkPrice("price_monthly", p.PriceMonthly); err != nil {
		return err
	}
	if err := l.checkPrice("price_annual", p.PriceAnnual); err != nil {
		return err
	}
	if p.TokenAllowance < 0 {
		return ValidationError{Field: "token_allowance", Message: "must not be negative"}
	}

	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	if p.Slug == "" {
		p.Slug = slugify(p.Name)
	}
	p.Entity = types.NewEntity(l.now())

	if err := l.store.CreatePlan(ctx, p); err != nil {
		return err
	}

	l.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// GetPlan retrieves a plan by ID.
func (l *Ledger) GetPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	if _, err := id.ParsePlanID(planID); err != nil {
		return nil, ValidationError{Field: "plan_id", Message: err.Error()}
	}
	return l.store.GetPlan(ctx, planID)
}

// ListPlans lists plans; by default only active ones.
func (l *Ledger) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	if opts.Status == "" {
		opts.Status = plan.StatusActive
	}
	return l.store.ListPlans(ctx, opts)
}

// ArchivePlan stops new subscriptions to a plan. Existing subscribers keep it.
func (l *Ledger) ArchivePlan(ctx context.Context, planID string) error {
	if err := l.store.ArchivePlan(ctx, planID); err != nil {
		return err
	}
	l.plugins.EmitPlanArchived(ctx, planID)
	return nil
}

// CreateBundle publishes a token bundle.
func (l *Ledger) CreateBundle(ctx context.Context, b *plan.Bundle) error {
	if b.TokenCount <= 0 {
		return ValidationError{Field: "token_count", Message: "must be positive"}
	}
	if err := l.checkPrice("price", b.Price); err != nil {
		return err
	}

	if b.ID.IsNil() {
		b.ID = id.NewBundleID()
	}
	if b.Status == "" {
		b.Status = plan.StatusActive
	}
	b.Entity = types.NewEntity(l.now())

	return l.store.CreateBundle(ctx, b)
}

// GetBundle retrieves a bundle by ID.
func (l *Ledger) GetBundle(ctx context.Context, bundleID string) (*plan.Bundle, error) {
	if _, err := id.ParseBundleID(bundleID); err != nil {
		return nil, ValidationError{Field: "bundle_id", Message: err.Error()}
	}
	return l.store.GetBundle(ctx, bundleID)
}

// ListBundles lists bundles; by default only active ones.
func (l *Ledger) ListBundles(ctx context.Context, opts plan.ListOpts) ([]*plan.Bundle, error) {
	if opts.Status == "" {
		opts.Status = plan.StatusActive
	}
	return l.store.ListBundles(ctx, opts)
}

func (l *Ledger) checkPrice(field string, m types.Money) error {
	if m.IsNegative() {
		return ValidationError{Field: field, Message: "must not be negative"}
	}
	if m.Currency != "" && m.Currency != l.currency {
		return ValidationError{Field: field, Message: "currency must be " + l.currency}
	}
	return nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
