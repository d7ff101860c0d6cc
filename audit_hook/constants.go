package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionTransactionAppended = "transaction.appended"
	ActionSpendRejected       = "spend.rejected"
	ActionLedgerDrift         = "ledger.drift"

	// Catalog actions
	ActionPlanCreated  = "plan.created"
	ActionPlanArchived = "plan.archived"

	// Subscription actions
	ActionSubscriptionCreated  = "subscription.created"
	ActionSubscriptionChanged  = "subscription.changed"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionRenewalDue           = "subscription.renewal_due"

	// Invoice actions
	ActionInvoiceCreated = "invoice.created"
	ActionInvoicePaid    = "invoice.paid"
	ActionInvoiceFailed  = "invoice.failed"
)

// Resource constants for audit events.
const (
	ResourceLedger       = "ledger"
	ResourcePlan         = "plan"
	ResourceSubscription = "subscription"
	ResourceInvoice      = "invoice"
)

// Category constants for audit events.
const (
	CategoryLedger       = "ledger"
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
