package subscription

import (
	"context"
	"time"
)

type Store interface {
	// CreateSubscription fails with tokenledger.ErrConcurrencyConflict when
	// the account already has a subscription.
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, accountID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	// ListDueSubscriptions returns subscriptions the renewal clock must look
	// at: auto-renewing Active ones billed at or before now, PastDue ones whose
	// retry is at or before now, and PendingRenewal ones waiting since
	// pendingBefore or earlier.
	ListDueSubscriptions(ctx context.Context, now, pendingBefore time.Time, limit int) ([]*Subscription, error)
}
