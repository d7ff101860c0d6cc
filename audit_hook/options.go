package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEnabledActions restricts the trail to the given actions.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) { e.enabled = toSet(actions) }
}

// WithDisabledActions audits every known action except the given ones.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = toSet(allActions())
		}
		for _, action := range actions {
			delete(e.enabled, action)
		}
	}
}

// WithCategories restricts the trail to events of the given categories,
// for example CategoryPayment alone for a payments trail.
func WithCategories(categories ...string) Option {
	return func(e *Extension) { e.categories = toSet(categories) }
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func allActions() []string {
	return []string{
		ActionTransactionAppended,
		ActionSpendRejected,
		ActionLedgerDrift,
		ActionPlanCreated,
		ActionPlanArchived,
		ActionSubscriptionCreated,
		ActionSubscriptionChanged,
		ActionSubscriptionCanceled,
		ActionRenewalDue,
		ActionInvoiceCreated,
		ActionInvoicePaid,
		ActionInvoiceFailed,
	}
}
