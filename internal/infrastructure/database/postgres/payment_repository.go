package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/infrastructure/monitoring"
	"lending-engine/internal/pkg/apperrors"
)

const paymentColumns = `id, loan_id, amount, paid_on, created_at`

type PaymentRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPaymentRepository(db DBPool, logger *slog.Logger) *PaymentRepository {
	return &PaymentRepository{db: db, logger: logger.With("component", "PaymentRepository")}
}

func scanPayment(row pgx.Row) (*loan.Payment, error) {
	var p loan.Payment
	if err := row.Scan(&p.ID, &p.LoanID, &p.Amount, &p.PaidOn, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) CreatePaymentInTx(ctx context.Context, tx pgx.Tx, p *loan.Payment) (*loan.Payment, error) {
	sql := `
        INSERT INTO payments (loan_id, amount, paid_on, created_at)
        VALUES ($1, $2, $3, NOW())
        RETURNING ` + paymentColumns

	created, err := scanPayment(tx.QueryRow(ctx, sql, p.LoanID, p.Amount, p.PaidOn))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert payment", "loan_id", p.LoanID, "error", err)
		return nil, fmt.Errorf("%w: failed to insert payment: %w", apperrors.ErrDatabase, err)
	}
	r.logger.InfoContext(ctx, "Payment created in DB", "payment_id", created.ID, "loan_id", created.LoanID)
	return created, nil
}

func (r *PaymentRepository) GetPaymentByID(ctx context.Context, paymentID int64) (*loan.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Payment not found", "payment_id", paymentID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get payment by ID", "payment_id", paymentID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return p, nil
}

func (r *PaymentRepository) GetPaymentsByLoanID(ctx context.Context, loanID int64) ([]loan.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = $1 ORDER BY paid_on ASC, id ASC`

	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query payments", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	payments := make([]loan.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan payment row", "loan_id", loanID, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		payments = append(payments, *p)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating payment rows", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return payments, nil
}

const sumPaymentsSQL = `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE loan_id = $1`

func (r *PaymentRepository) SumPaymentsByLoanID(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	startTime := time.Now()
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, sumPaymentsSQL, loanID).Scan(&total)

	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery("SumPaymentsByLoanID", status, time.Since(startTime))

	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to sum payments", "loan_id", loanID, "error", err)
		return decimal.Zero, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return total, nil
}

func (r *PaymentRepository) SumPaymentsByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := tx.QueryRow(ctx, sumPaymentsSQL, loanID).Scan(&total); err != nil {
		r.logger.ErrorContext(ctx, "Failed to sum payments in tx", "loan_id", loanID, "error", err)
		return decimal.Zero, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return total, nil
}

func (r *PaymentRepository) DeletePaymentInTx(ctx context.Context, tx pgx.Tx, paymentID int64) error {
	cmdTag, err := tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, paymentID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete payment", "payment_id", paymentID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Payment deleted from DB", "payment_id", paymentID)
	return nil
}
