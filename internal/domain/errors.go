package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCostBasis indicates a disposal larger than the tracked holdings.
	// The operation is rolled back; the caller may import the missing lots and retry.
	ErrInsufficientCostBasis = errors.New("insufficient cost basis")
	// ErrUnbalancedJournalEntry indicates debits and credits differ. This is a defect upstream
	// and halts automated posting for the affected source.
	ErrUnbalancedJournalEntry = errors.New("unbalanced journal entry")
	// ErrPriceUnavailable indicates no EUR price exists for an asset at a timestamp.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates a forbidden journal status change.
	ErrInvalidTransition = errors.New("invalid journal entry status transition")
)

// InsufficientCostBasisError carries the quantities involved in a failed disposal.
type InsufficientCostBasisError struct {
	CompanyID string
	AssetID   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCostBasisError) Error() string {
	return fmt.Sprintf("%s: %s/%s requested %s, available %s",
		ErrInsufficientCostBasis, e.CompanyID, e.AssetID, e.Requested, e.Available)
}

func (e *InsufficientCostBasisError) Unwrap() error { return ErrInsufficientCostBasis }

// Shortfall is the quantity missing from the ledger.
func (e *InsufficientCostBasisError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// UnbalancedError reports the totals of an entry that failed the balance assertion.
type UnbalancedError struct {
	EntryID  string
	SourceID string
	Debit    decimal.Decimal
	Credit   decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("%s: source %s debit %s != credit %s", ErrUnbalancedJournalEntry, e.SourceID, e.Debit, e.Credit)
}

func (e *UnbalancedError) Unwrap() error { return ErrUnbalancedJournalEntry }

// PriceUnavailableError names the missing price.
type PriceUnavailableError struct {
	AssetID string
	At      time.Time
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s at %s", ErrPriceUnavailable, e.AssetID, e.At.UTC().Format(time.RFC3339))
}

func (e *PriceUnavailableError) Unwrap() error { return ErrPriceUnavailable }

// FieldIssue is one field-level problem found during submission validation.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every issue found; it is never returned with an empty list.
type ValidationError struct {
	Issues []FieldIssue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Message)
	}
	return fmt.Sprintf("%s (%d issues): %s", ErrValidation, len(e.Issues), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add appends an issue.
func (e *ValidationError) Add(field, message string) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Message: message})
}

// OrNil returns e when it holds issues and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
