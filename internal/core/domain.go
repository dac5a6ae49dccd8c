package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Expense TransactionKind = "expense"
	Income  TransactionKind = "income"
)

const (
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
	Yearly  Interval = "yearly"
	// NoInterval marks a transaction that does not repeat.
	NoInterval Interval = ""
)

type (
	TransactionKind string

	Interval string

	// Transaction is the single ledger record type. A recurring template is a
	// Transaction with IsRecurring set; an occurrence is a plain row whose
	// ParentTemplateID points at the template that spawned it.
	Transaction struct {
		ID               uuid.UUID
		UserID           uuid.UUID
		AccountID        uuid.UUID
		CategoryID       *uuid.UUID
		Amount           decimal.Decimal
		Kind             TransactionKind
		Description      string
		OccurredAt       time.Time
		IsRecurring      bool
		Interval         Interval
		IsActive         bool
		NextDueAt        *time.Time
		ParentTemplateID *uuid.UUID
		// Version guards template mutations: every schedule or activation
		// update must carry the version it read, and the store rejects stale
		// writes with ErrVersionConflict.
		Version   int64
		CreatedAt time.Time
	}

	// DateRange is a request-scoped window with inclusive boundaries.
	DateRange struct {
		Start time.Time
		End   time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidKind      = errors.New("invalid transaction kind")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrEmptyDescription = errors.New("empty description")
	ErrMissingUser      = errors.New("missing user id")
	ErrMissingAccount   = errors.New("missing account id")

	ErrNotFound        = errors.New("transaction not found")
	ErrVersionConflict = errors.New("template version conflict")
)

// ValidationError marks caller mistakes so the surrounding layer can surface
// them verbatim instead of logging them as system faults.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err.Error())
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a caller-facing validation failure.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func (k TransactionKind) IsValid() bool {
	switch k {
	case Expense, Income:
		return true
	default:
		return false
	}
}

func (i Interval) IsValid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// ValidateAmount checks that d is a positive amount with cent precision.
func ValidateAmount(d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if d.Exponent() < -2 {
		return ErrInvalidAmount
	}
	return nil
}

// Cents returns the amount as integer cents, the at-rest representation.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

// FromCents converts an at-rest cents value back to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func (t Transaction) Validate() error {
	if t.UserID == uuid.Nil {
		return NewValidationError("user_id", ErrMissingUser)
	}
	if t.AccountID == uuid.Nil {
		return NewValidationError("account_id", ErrMissingAccount)
	}
	if !t.Kind.IsValid() {
		return NewValidationError("kind", ErrInvalidKind)
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return NewValidationError("amount", err)
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return NewValidationError("description", ErrEmptyDescription)
	}
	if len(t.Description) > 200 {
		return NewValidationError("description", errors.New("description too long (max 200 characters)"))
	}
	if t.IsRecurring && t.Interval != NoInterval && !t.Interval.IsValid() {
		return NewValidationError("interval", ErrInvalidInterval)
	}
	return nil
}

// IsTemplate reports whether t is a recurring template rather than a ledger
// occurrence.
func (t Transaction) IsTemplate() bool { return t.IsRecurring }

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return NewValidationError("range", errors.New("both start and end are required"))
	}
	if r.Start.After(r.End) {
		return NewValidationError("range", errors.New("start must not be after end"))
	}
	return nil
}

// Duration returns the length of the window.
func (r DateRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Previous returns the equal-length window immediately preceding r: it ends
// one nanosecond before r.Start and spans the same duration, so the two
// windows are adjacent and never overlap.
func (r DateRange) Previous() DateRange {
	end := r.Start.Add(-time.Nanosecond)
	return DateRange{
		Start: end.Add(-r.Duration()),
		End:   end,
	}
}

// Contains reports whether ts falls inside the window, boundaries included.
func (r DateRange) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && !ts.After(r.End)
}
