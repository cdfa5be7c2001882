package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/infrastructure/monitoring"
	"lending-engine/internal/pkg/apperrors"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

var errMsgFormat = "%w: %w"

const loanColumns = `id, client_id, principal, ordinary_rate, arrears_rate, due_date, status,
        days_in_arrears, accrued_arrears, last_accrual_date, arrears_applied, version, created_at, updated_at`

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var l loan.Loan
	err := row.Scan(
		&l.ID, &l.ClientID, &l.Principal, &l.OrdinaryRate, &l.ArrearsRate,
		&l.DueDate, &l.Status, &l.DaysInArrears, &l.AccruedArrears,
		&l.LastAccrualDate, &l.ArrearsApplied, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LoanRepository) CreateLoan(ctx context.Context, newLoan *loan.Loan) (*loan.Loan, error) {
	loanSQL := `
        INSERT INTO loans (client_id, principal, ordinary_rate, arrears_rate, due_date, status,
            days_in_arrears, accrued_arrears, arrears_applied, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, 0, $7, FALSE, 1, NOW(), NOW())
        RETURNING ` + loanColumns

	created, err := scanLoan(r.db.QueryRow(ctx, loanSQL,
		newLoan.ClientID, newLoan.Principal, newLoan.OrdinaryRate, newLoan.ArrearsRate,
		newLoan.DueDate, newLoan.Status, newLoan.AccruedArrears,
	))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert loan", "error", err)
		return nil, fmt.Errorf("%w: failed to insert loan: %w", apperrors.ErrDatabase, err)
	}
	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", created.ID)
	return created, nil
}

func (r *LoanRepository) GetLoanByID(ctx context.Context, loanID int64) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	status := "success"
	startTime := time.Now()

	l, err := scanLoan(r.db.QueryRow(ctx, query, loanID))

	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery("GetLoanByID", status, time.Since(startTime))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get loan by ID", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return l, nil
}

func (r *LoanRepository) GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`

	l, err := scanLoan(tx.QueryRow(ctx, query, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found for update", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to lock loan row", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return l, nil
}

func (r *LoanRepository) ListLoans(ctx context.Context, status *loan.Status, clientID *int64) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE ($1::text IS NULL OR status = $1)
        AND ($2::bigint IS NULL OR client_id = $2) ORDER BY id`

	rows, err := r.db.Query(ctx, query, status, clientID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query loans", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	return collectLoans(rows, r.logger, ctx)
}

// updateLoanSQL writes every mutable field and bumps the version; the
// WHERE clause's version check is the optimistic-concurrency guard.
const updateLoanSQL = `
        UPDATE loans
        SET principal = $1, ordinary_rate = $2, arrears_rate = $3, due_date = $4, status = $5,
            days_in_arrears = $6, accrued_arrears = $7, last_accrual_date = $8, arrears_applied = $9,
            version = version + 1, updated_at = NOW()
        WHERE id = $10 AND version = $11`

func (r *LoanRepository) UpdateLoan(ctx context.Context, l *loan.Loan) error {
	cmdTag, err := r.db.Exec(ctx, updateLoanSQL,
		l.Principal, l.OrdinaryRate, l.ArrearsRate, l.DueDate, l.Status,
		l.DaysInArrears, l.AccruedArrears, l.LastAccrualDate, l.ArrearsApplied,
		l.ID, l.Version,
	)
	return r.checkLoanUpdate(ctx, cmdTag, err, l)
}

func (r *LoanRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	cmdTag, err := tx.Exec(ctx, updateLoanSQL,
		l.Principal, l.OrdinaryRate, l.ArrearsRate, l.DueDate, l.Status,
		l.DaysInArrears, l.AccruedArrears, l.LastAccrualDate, l.ArrearsApplied,
		l.ID, l.Version,
	)
	return r.checkLoanUpdate(ctx, cmdTag, err, l)
}

func (r *LoanRepository) checkLoanUpdate(ctx context.Context, cmdTag pgconn.CommandTag, err error, l *loan.Loan) error {
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update loan", "loan_id", l.ID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Loan update hit a stale version", "loan_id", l.ID, "version", l.Version)
		return fmt.Errorf("%w: loan %d version %d", apperrors.ErrConcurrencyConflict, l.ID, l.Version)
	}
	l.Version++
	return nil
}

// DeleteLoan removes the loan and its payments in one transaction; the
// loan owns its payments.
func (r *LoanRepository) DeleteLoan(ctx context.Context, loanID int64) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer r.RollbackTx(ctx, tx)

	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE loan_id = $1`, loanID); err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete loan payments", "loan_id", loanID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	cmdTag, err := tx.Exec(ctx, `DELETE FROM loans WHERE id = $1`, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete loan", "loan_id", loanID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if err := r.CommitTx(ctx, tx); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Loan deleted with its payments", "loan_id", loanID)
	return nil
}

func (r *LoanRepository) FindNewlyOverdue(ctx context.Context, calcDate time.Time) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
        WHERE status = $1 AND due_date <= $2
        ORDER BY id`

	status := "success"
	startTime := time.Now()
	rows, err := r.db.Query(ctx, query, loan.StatusAprobado, calcDate)
	if err != nil {
		monitoring.RecordDBQuery("FindNewlyOverdue", "error", time.Since(startTime))
		r.logger.ErrorContext(ctx, "Failed to query newly overdue loans", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()
	monitoring.RecordDBQuery("FindNewlyOverdue", status, time.Since(startTime))

	return collectLoans(rows, r.logger, ctx)
}

func (r *LoanRepository) FindOverdueNotAccrued(ctx context.Context, calcDate time.Time) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
        WHERE status IN ($1, $2)
        AND (last_accrual_date IS NULL OR last_accrual_date < $3)
        ORDER BY id`

	startTime := time.Now()
	rows, err := r.db.Query(ctx, query, loan.StatusVencido, loan.StatusEnMora, calcDate)
	if err != nil {
		monitoring.RecordDBQuery("FindOverdueNotAccrued", "error", time.Since(startTime))
		r.logger.ErrorContext(ctx, "Failed to query overdue loans pending accrual", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()
	monitoring.RecordDBQuery("FindOverdueNotAccrued", "success", time.Since(startTime))

	return collectLoans(rows, r.logger, ctx)
}

func collectLoans(rows pgx.Rows, logger *slog.Logger, ctx context.Context) ([]*loan.Loan, error) {
	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to scan loan row", "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		logger.ErrorContext(ctx, "Error iterating loan rows", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return loans, nil
}
