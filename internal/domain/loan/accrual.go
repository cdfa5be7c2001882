package loan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lending-engine/internal/pkg/apperrors"
)

// AccrualConfig is a per-invocation snapshot of the engine settings, so a
// run is reproducible regardless of what the live configuration does
// afterwards.
type AccrualConfig struct {
	Enabled         bool
	GracePeriodDays int
}

// ArrearsCharge is the result of computing one loan's arrears for a
// calculation date.
type ArrearsCharge struct {
	ChargeableDays int
	Delta          decimal.Decimal
}

// Zero reports whether the charge carries nothing to post.
func (c ArrearsCharge) Zero() bool {
	return c.ChargeableDays == 0
}

// ComputeArrears derives the arrears charge for calcDate without mutating
// the loan. Elapsed days are counted from the last accrual date, or the due
// date if the loan has never accrued, minus the grace period. The arrears
// rate is taken as its absolute value so a negative literal in the ledger
// still charges, never credits.
func ComputeArrears(l *Loan, totalPaid decimal.Decimal, calcDate time.Time, gracePeriodDays int) (ArrearsCharge, error) {
	if !l.Principal.Valid {
		return ArrearsCharge{}, fmt.Errorf("%w: loan %d has no principal", apperrors.ErrInvalidLoanState, l.ID)
	}
	if gracePeriodDays < 0 {
		gracePeriodDays = 0
	}

	anchor := l.DueDate
	if l.LastAccrualDate != nil {
		anchor = *l.LastAccrualDate
	}

	elapsed := wholeDaysBetween(anchor, calcDate)
	chargeable := elapsed - gracePeriodDays
	if chargeable <= 0 {
		return ArrearsCharge{}, nil
	}

	outstandingPrincipal := l.Principal.Decimal.Sub(totalPaid)
	if outstandingPrincipal.IsNegative() {
		outstandingPrincipal = decimal.Zero
	}

	delta := l.ArrearsRate.Abs().
		Div(hundred).
		Mul(outstandingPrincipal).
		Mul(decimal.NewFromInt(int64(chargeable))).
		Round(2)

	return ArrearsCharge{ChargeableDays: chargeable, Delta: delta}, nil
}

// ApplyArrears posts a charge onto the loan: accumulates the arrears
// fields, stamps the idempotency marker and moves the status to EN_MORA.
// DaysInArrears and AccruedArrears only ever grow here.
func (l *Loan) ApplyArrears(charge ArrearsCharge, calcDate time.Time) error {
	if charge.Zero() {
		return nil
	}
	if err := l.TransitionTo(StatusEnMora); err != nil {
		return err
	}
	l.AccruedArrears = l.AccruedArrears.Add(charge.Delta)
	l.DaysInArrears += charge.ChargeableDays
	l.ArrearsApplied = true
	l.MarkAccrued(calcDate)
	return nil
}

// MarkAccrued stamps the idempotency marker. The marker never moves
// backwards: a stale calculation date is ignored rather than re-opening a
// day that was already charged.
func (l *Loan) MarkAccrued(calcDate time.Time) {
	day := startOfDay(calcDate)
	if l.LastAccrualDate != nil && l.LastAccrualDate.After(day) {
		return
	}
	l.LastAccrualDate = &day
}

// AccruedFor reports whether the loan already ran for calcDate.
func (l *Loan) AccruedFor(calcDate time.Time) bool {
	return l.LastAccrualDate != nil && !l.LastAccrualDate.Before(startOfDay(calcDate))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func wholeDaysBetween(from, to time.Time) int {
	days := int(startOfDay(to).Sub(startOfDay(from)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
