package loan

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateLoan(ctx context.Context, l *Loan) (*Loan, error)

	GetLoanByID(ctx context.Context, loanID int64) (*Loan, error)

	// ListLoans filters by status and/or client when the pointers are set.
	ListLoans(ctx context.Context, status *Status, clientID *int64) ([]*Loan, error)

	// UpdateLoan writes all mutable fields; it checks the loan's version and
	// fails with ErrConcurrencyConflict when the row moved underneath.
	UpdateLoan(ctx context.Context, l *Loan) error

	// DeleteLoan removes the loan and, through ownership, its payments.
	DeleteLoan(ctx context.Context, loanID int64) error

	// GetLoanForUpdate locks the loan row for the duration of tx.
	GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error)

	UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *Loan) error

	// FindNewlyOverdue returns APROBADO loans whose due date has passed by
	// calcDate.
	FindNewlyOverdue(ctx context.Context, calcDate time.Time) ([]*Loan, error)

	// FindOverdueNotAccrued returns VENCIDO and EN_MORA loans whose last
	// accrual date predates calcDate (or is unset).
	FindOverdueNotAccrued(ctx context.Context, calcDate time.Time) ([]*Loan, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}

type PaymentRepository interface {
	CreatePaymentInTx(ctx context.Context, tx pgx.Tx, p *Payment) (*Payment, error)

	GetPaymentByID(ctx context.Context, paymentID int64) (*Payment, error)

	GetPaymentsByLoanID(ctx context.Context, loanID int64) ([]Payment, error)

	// SumPaymentsByLoanID totals payment amounts for one loan.
	SumPaymentsByLoanID(ctx context.Context, loanID int64) (decimal.Decimal, error)

	SumPaymentsByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) (decimal.Decimal, error)

	DeletePaymentInTx(ctx context.Context, tx pgx.Tx, paymentID int64) error
}
