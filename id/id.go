// Package id defines TypeID-based identity types for tokenledger entities.
//
// Every persisted entity uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all tokenledger entity types.
const (
	PrefixTransaction  Prefix = "txn"  // Ledger transaction
	PrefixPlan         Prefix = "plan" // Subscription plan
	PrefixBundle       Prefix = "bndl" // Token bundle
	PrefixSubscription Prefix = "sub"  // Account subscription state
	PrefixInvoice      Prefix = "inv"  // Invoice
	PrefixPurchase     Prefix = "pur"  // Bundle purchase correlation
)

// ID is the primary identifier type for all tokenledger entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "plan_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// TransactionID is a type-safe identifier for ledger transactions (prefix: "txn").
type TransactionID = ID

// PlanID is a type-safe identifier for plans (prefix: "plan").
type PlanID = ID

// BundleID is a type-safe identifier for token bundles (prefix: "bndl").
type BundleID = ID

// SubscriptionID is a type-safe identifier for subscriptions (prefix: "sub").
type SubscriptionID = ID

// InvoiceID is a type-safe identifier for invoices (prefix: "inv").
type InvoiceID = ID

// PurchaseID identifies a bundle purchase attempt (prefix: "pur").
type PurchaseID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewTransactionID generates a new unique transaction ID.
func NewTransactionID() ID { return New(PrefixTransaction) }

// NewPlanID generates a new unique plan ID.
func NewPlanID() ID { return New(PrefixPlan) }

// NewBundleID generates a new unique bundle ID.
func NewBundleID() ID { return New(PrefixBundle) }

// NewSubscriptionID generates a new unique subscription ID.
func NewSubscriptionID() ID { return New(PrefixSubscription) }

// NewInvoiceID generates a new unique invoice ID.
func NewInvoiceID() ID { return New(PrefixInvoice) }

// NewPurchaseID generates a new unique purchase ID.
func NewPurchaseID() ID { return New(PrefixPurchase) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseTransactionID parses a string and validates the "txn" prefix.
func ParseTransactionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransaction) }

// ParsePlanID parses a string and validates the "plan" prefix.
func ParsePlanID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPlan) }

// ParseBundleID parses a string and validates the "bndl" prefix.
func ParseBundleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixBundle) }

// ParseSubscriptionID parses a string and validates the "sub" prefix.
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

// ParseInvoiceID parses a string and validates the "inv" prefix.
func ParseInvoiceID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInvoice) }

// ParsePurchaseID parses a string and validates the "pur" prefix.
func ParsePurchaseID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPurchase) }

// ParseAny parses a string into an ID without type checking the prefix.
func ParseAny(s string) (ID, error) { return Parse(s) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
