// Package account describes the authenticated caller that every tokenledger
// operation is scoped to. Accounts are owned by the surrounding application;
// the core only receives an identifier and a type, validated here at the
// boundary before anything touches the ledger.
package account

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Type is the kind of dashboard user that owns an account.
type Type string

const (
	TypeClient Type = "client"
	TypeLawyer Type = "lawyer"
	TypeAdmin  Type = "admin"
)

// ParseType maps a loosely formatted value ("Client", " lawyer") onto a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("account: unknown type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known account types.
func (t Type) Valid() bool {
	switch t {
	case TypeClient, TypeLawyer, TypeAdmin:
		return true
	}
	return false
}

// Ref identifies the account a request acts on.
type Ref struct {
	ID   string `json:"id"   validate:"required,max=128,printascii"`
	Type Type   `json:"type" validate:"required,oneof=client lawyer admin"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the reference and returns a descriptive error naming the
// first offending field.
func (r Ref) Validate() error {
	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("account: invalid %s (%s)", strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("account: %w", err)
	}
	return nil
}

// CanAdminister reports whether the account may act on behalf of others,
// e.g. settling invoices manually or reading another account's ledger.
func (r Ref) CanAdminister() bool { return r.Type == TypeAdmin }

// ValidateID checks a bare account identifier with the same rules as Ref.
func ValidateID(accountID string) error {
	if err := validate.Var(accountID, "required,max=128,printascii"); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("account: invalid id (%s)", verrs[0].Tag())
		}
		return fmt.Errorf("account: %w", err)
	}
	return nil
}
