// Package tokenledger is the token accounting and subscription billing core
// of a legal-services dashboard.
//
// It is a library, not a service. The surrounding application authenticates
// the caller and hands tokenledger an account identifier; everything else
// (ledger, balance, analytics, subscriptions and invoices) is derived here:
//
//   - An append-only, per-account ledger of earned and spent tokens
//   - Balances served from an immutable snapshot cache that never blocks writers
//   - Per-category usage breakdowns over week, month, quarter or year windows
//   - Subscription state with automatic renewal and payment retry
//   - Invoices for renewals and bundle purchases that credit the ledger
//     exactly once when paid
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/tokenledger"
//	    "github.com/xraph/tokenledger/store/memory"
//	)
//
//	l := tokenledger.New(memory.New())
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Ledger
//
// Every change to a balance is a transaction. Appends for the same account
// are serialized, and a repeated idempotency key returns the original entry:
//
//	tx, err := l.Append(ctx, tokenledger.AppendRequest{
//	    AccountID:      "acct_42",
//	    Amount:         30,
//	    Kind:           tokenledger.Spent,
//	    Category:       "document_summary",
//	    IdempotencyKey: requestID,
//	})
//	if errors.Is(err, tokenledger.ErrInsufficientBalance) {
//	    // ask the user to buy a bundle
//	}
//
//	bal, _ := l.GetBalance(ctx, "acct_42") // {Available, Total, Spent}
//
// # Billing
//
// Purchases and renewals create pending invoices. The payment processor
// reports back through Settle; a paid invoice credits its tokens:
//
//	inv, _ := l.PurchaseBundle(ctx, "acct_42", bundleID, purchaseKey)
//	// ... processor charges the card ...
//	l.Settle(ctx, inv.ID.String(), tokenledger.Paid, tokenledger.SettleOpts{PaymentRef: "ch_123"})
//
// Subscriptions renew on a cron schedule (every minute by default). A failed
// renewal charge is retried once after the retry interval; a second failure
// cancels the subscription.
//
// # Stores
//
// The store package defines the persistence contract. Backends:
// store/memory (tests, development), store/postgres and store/sqlite (grove
// with migrations), and store/mongo (grove mongodriver).
package tokenledger
