package loan

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lending-engine/internal/pkg/apperrors"
)

var hundred = decimal.NewFromInt(100)

// TotalOrdinaryInterest is the simple (non-compounding) interest on the
// principal, rounded half-up to 2 decimal places.
func TotalOrdinaryInterest(l *Loan) (decimal.Decimal, error) {
	if err := requireCalculable(l); err != nil {
		return decimal.Zero, err
	}
	return l.Principal.Decimal.Mul(l.OrdinaryRate.Decimal).Div(hundred).Round(2), nil
}

// TotalDebt is principal + ordinary interest + accrued arrears.
func TotalDebt(l *Loan) (decimal.Decimal, error) {
	interest, err := TotalOrdinaryInterest(l)
	if err != nil {
		return decimal.Zero, err
	}
	return l.Principal.Decimal.Add(interest).Add(l.AccruedArrears), nil
}

// OutstandingBalance is totalDebt minus payments, unclamped. A result of
// zero or below means the loan is settled.
func OutstandingBalance(l *Loan, totalPaid decimal.Decimal) (decimal.Decimal, error) {
	debt, err := TotalDebt(l)
	if err != nil {
		return decimal.Zero, err
	}
	return debt.Sub(totalPaid), nil
}

// RemainingBalance is the outstanding balance floored at zero; this is the
// value exposed to callers.
func RemainingBalance(l *Loan, totalPaid decimal.Decimal) (decimal.Decimal, error) {
	outstanding, err := OutstandingBalance(l, totalPaid)
	if err != nil {
		return decimal.Zero, err
	}
	if outstanding.IsNegative() {
		return decimal.Zero, nil
	}
	return outstanding, nil
}

// IsSettled reports whether payments cover the total debt.
func IsSettled(l *Loan, totalPaid decimal.Decimal) (bool, error) {
	outstanding, err := OutstandingBalance(l, totalPaid)
	if err != nil {
		return false, err
	}
	return outstanding.Sign() <= 0, nil
}

func requireCalculable(l *Loan) error {
	if !l.Principal.Valid {
		return fmt.Errorf("%w: loan %d has no principal", apperrors.ErrInvalidLoanState, l.ID)
	}
	if !l.OrdinaryRate.Valid {
		return fmt.Errorf("%w: loan %d has no ordinary rate", apperrors.ErrInvalidLoanState, l.ID)
	}
	return nil
}
