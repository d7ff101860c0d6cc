package invoice

import (
	"context"
)

type Store interface {
	// CreateInvoice fails with tokenledger.ErrDuplicateInvoice when the
	// account already has an invoice with the same correlation id.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	GetInvoiceByCorrelation(ctx context.Context, accountID, correlationID string) (*Invoice, error)
	ListInvoices(ctx context.Context, accountID string, opts ListOpts) ([]*Invoice, error)
	// SettleInvoice persists a settled invoice only if the stored row is
	// still pending; otherwise it returns invoice.ErrAlreadySettled.
	SettleInvoice(ctx context.Context, inv *Invoice) error
}

// ListOpts filters invoice listings. Results are newest first.
type ListOpts struct {
	Status Status
	Kind   Kind
	Limit  int
	Offset int
}
