package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan is the ledger row for one financed amount. Principal and OrdinaryRate
// are nullable because legacy rows exist with those columns empty; the
// calculator refuses to work on such rows instead of guessing.
type Loan struct {
	ID              int64
	ClientID        int64
	Principal       decimal.NullDecimal
	OrdinaryRate    decimal.NullDecimal
	ArrearsRate     decimal.Decimal
	DueDate         time.Time
	Status          Status
	DaysInArrears   int
	AccruedArrears  decimal.Decimal
	LastAccrualDate *time.Time
	ArrearsApplied  bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Payments is populated on reads that need the full aggregate; sums come
	// from the payment store so the slice being empty never skews arithmetic.
	Payments []Payment
}

// Payment is owned by its loan: deleting the loan removes its payments. The
// back-reference is the LoanID foreign key only, never an object cycle.
type Payment struct {
	ID        int64
	LoanID    int64
	Amount    decimal.Decimal
	PaidOn    time.Time
	CreatedAt time.Time
}

// NewLoan builds an unsaved loan in one of the two admissible creation
// states. A negative arrears rate is an operator typo and is stored as its
// absolute value.
func NewLoan(clientID int64, principal, ordinaryRate, arrearsRate decimal.Decimal, dueDate time.Time, status Status) *Loan {
	return &Loan{
		ClientID:       clientID,
		Principal:      decimal.NullDecimal{Decimal: principal, Valid: true},
		OrdinaryRate:   decimal.NullDecimal{Decimal: ordinaryRate, Valid: true},
		ArrearsRate:    arrearsRate.Abs(),
		DueDate:        dueDate,
		Status:         status,
		AccruedArrears: decimal.Zero,
	}
}
