package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"lending-engine/internal/domain/client"
	"lending-engine/internal/event"
	"lending-engine/internal/infrastructure/monitoring"
	"lending-engine/internal/pkg/apperrors"
)

type CreateLoanInput struct {
	ClientID     int64
	Principal    decimal.Decimal
	OrdinaryRate decimal.Decimal
	ArrearsRate  decimal.Decimal
	DueDate      time.Time
	// Status is free text; empty means PENDIENTE. Only PENDIENTE and
	// APROBADO are admissible at creation.
	Status string
}

type UpdateLoanInput struct {
	OrdinaryRate *decimal.Decimal
	ArrearsRate  *decimal.Decimal
	DueDate      *time.Time
}

type LoanService interface {
	CreateLoan(ctx context.Context, input CreateLoanInput) (*Loan, error)

	UpdateLoan(ctx context.Context, loanID int64, input UpdateLoanInput) (*Loan, error)

	GetLoan(ctx context.Context, loanID int64) (*Loan, error)

	ListLoans(ctx context.Context, statusText string, clientID *int64) ([]*Loan, error)

	DeleteLoan(ctx context.Context, loanID int64) error

	ApproveLoan(ctx context.Context, loanID int64) (*Loan, error)

	RejectLoan(ctx context.Context, loanID int64) (*Loan, error)

	RegisterPayment(ctx context.Context, loanID int64, amount decimal.Decimal, paidOn *time.Time) (*Payment, error)

	ListPayments(ctx context.Context, loanID int64) ([]Payment, error)

	DeletePayment(ctx context.Context, paymentID int64) error

	RemainingBalance(ctx context.Context, loanID int64) (decimal.Decimal, error)

	TotalOrdinaryInterest(ctx context.Context, loanID int64) (decimal.Decimal, error)
}

type loanServiceImpl struct {
	repo          Repository
	paymentRepo   PaymentRepository
	clientService client.ClientService
	publisher     event.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

func NewLoanService(r Repository, pr PaymentRepository, cs client.ClientService, pub event.Publisher, logger *slog.Logger) LoanService {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	return &loanServiceImpl{
		repo:          r,
		paymentRepo:   pr,
		clientService: cs,
		publisher:     pub,
		logger:        logger.With("component", "LoanService"),
		now:           time.Now,
	}
}

func (s *loanServiceImpl) CreateLoan(ctx context.Context, input CreateLoanInput) (*Loan, error) {
	s.logger.InfoContext(ctx, "Creating new loan", "clientID", input.ClientID)

	if !input.Principal.IsPositive() {
		return nil, apperrors.NewValidationError("principal", "must be a positive amount")
	}
	if input.OrdinaryRate.IsNegative() || input.OrdinaryRate.GreaterThan(hundred) {
		return nil, apperrors.NewValidationError("ordinaryRate", "must be between 0 and 100")
	}
	if input.DueDate.IsZero() {
		return nil, apperrors.NewValidationError("dueDate", "must be set")
	}

	status := StatusPendiente
	if input.Status != "" {
		parsed, err := ParseStatus(input.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}
	if status != StatusPendiente && status != StatusAprobado {
		return nil, fmt.Errorf("%w: loans can only be created as %s or %s, not %s",
			apperrors.ErrInvalidArgument, StatusPendiente, StatusAprobado, status)
	}

	cust, err := s.clientService.GetClient(ctx, input.ClientID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve client for loan", "clientID", input.ClientID, "error", err)
		return nil, err
	}
	if !cust.Active {
		return nil, fmt.Errorf("%w: client %d", client.ErrClientInactive, input.ClientID)
	}

	created, err := s.repo.CreateLoan(ctx, NewLoan(input.ClientID, input.Principal, input.OrdinaryRate, input.ArrearsRate, input.DueDate, status))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save loan", "error", err)
		return nil, fmt.Errorf("%w: failed to save loan: %v", apperrors.ErrInternalServer, err)
	}

	s.logger.InfoContext(ctx, "Loan created", "loanID", created.ID, "clientID", input.ClientID, "status", created.Status)
	return created, nil
}

func (s *loanServiceImpl) UpdateLoan(ctx context.Context, loanID int64, input UpdateLoanInput) (*Loan, error) {
	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if l.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: loan %d is %s", apperrors.ErrLoanNotActionable, loanID, l.Status)
	}

	if input.OrdinaryRate != nil {
		if input.OrdinaryRate.IsNegative() || input.OrdinaryRate.GreaterThan(hundred) {
			return nil, apperrors.NewValidationError("ordinaryRate", "must be between 0 and 100")
		}
		l.OrdinaryRate = decimal.NullDecimal{Decimal: *input.OrdinaryRate, Valid: true}
	}
	if input.ArrearsRate != nil {
		l.ArrearsRate = input.ArrearsRate.Abs()
	}
	if input.DueDate != nil {
		if input.DueDate.IsZero() {
			return nil, apperrors.NewValidationError("dueDate", "must be set")
		}
		l.DueDate = *input.DueDate
	}

	if err := s.repo.UpdateLoan(ctx, l); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update loan", "loanID", loanID, "error", err)
		return nil, err
	}
	return l, nil
}

func (s *loanServiceImpl) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	l, err := s.repo.GetLoanByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "Loan not found", "loanID", loanID)
			return nil, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		s.logger.ErrorContext(ctx, "Failed to get loan", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	return l, nil
}

func (s *loanServiceImpl) ListLoans(ctx context.Context, statusText string, clientID *int64) ([]*Loan, error) {
	var status *Status
	if statusText != "" {
		parsed, err := ParseStatus(statusText)
		if err != nil {
			return nil, err
		}
		status = &parsed
	}

	loans, err := s.repo.ListLoans(ctx, status, clientID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list loans", "error", err)
		return nil, fmt.Errorf("%w: failed to list loans: %v", apperrors.ErrInternalServer, err)
	}
	return loans, nil
}

func (s *loanServiceImpl) DeleteLoan(ctx context.Context, loanID int64) error {
	if err := s.repo.DeleteLoan(ctx, loanID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		s.logger.ErrorContext(ctx, "Failed to delete loan", "loanID", loanID, "error", err)
		return fmt.Errorf("%w: failed to delete loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	s.logger.InfoContext(ctx, "Loan deleted with its payments", "loanID", loanID)
	return nil
}

func (s *loanServiceImpl) ApproveLoan(ctx context.Context, loanID int64) (*Loan, error) {
	return s.transition(ctx, loanID, StatusAprobado)
}

func (s *loanServiceImpl) RejectLoan(ctx context.Context, loanID int64) (*Loan, error) {
	return s.transition(ctx, loanID, StatusRechazado)
}

func (s *loanServiceImpl) transition(ctx context.Context, loanID int64, target Status) (*Loan, error) {
	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := l.TransitionTo(target); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLoan(ctx, l); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist status transition", "loanID", loanID, "target", target, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "Loan status changed", "loanID", loanID, "status", target)
	return l, nil
}

func (s *loanServiceImpl) RegisterPayment(ctx context.Context, loanID int64, amount decimal.Decimal, paidOn *time.Time) (p *Payment, err error) {
	s.logger.InfoContext(ctx, "Registering payment", "loanID", loanID, "amount", amount)

	if !amount.IsPositive() {
		monitoring.RecordPayment("failure_amount")
		return nil, fmt.Errorf("%w: payment amount %s must be positive",
			apperrors.ErrInvalidPaymentAmount, amount)
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrInternalServer, err)
	}

	settled := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Panic occurred during payment processing", "loanID", loanID, "error", r)
			_ = s.repo.RollbackTx(ctx, tx)
			panic(r)
		}
		if err != nil {
			status := "failure_internal"
			switch {
			case errors.Is(err, apperrors.ErrOverpaymentRejected):
				status = "failure_overpayment"
			case errors.Is(err, apperrors.ErrNotFound):
				status = "failure_not_found"
			case errors.Is(err, apperrors.ErrLoanNotActionable), errors.Is(err, apperrors.ErrInvalidArgument):
				status = "failure_state"
			}
			monitoring.RecordPayment(status)
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: cannot register payment, loan %d not found", apperrors.ErrNotFound, loanID)
		}
		return nil, fmt.Errorf("%w: could not lock loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}

	if l.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: loan %d is %s", apperrors.ErrLoanNotActionable, loanID, l.Status)
	}
	if l.Status == StatusPendiente {
		return nil, fmt.Errorf("%w: loan %d has not been approved yet", apperrors.ErrInvalidArgument, loanID)
	}

	totalPaid, err := s.paymentRepo.SumPaymentsByLoanIDInTx(ctx, tx, loanID)
	if err != nil {
		return nil, fmt.Errorf("%w: could not sum payments for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}

	outstanding, err := OutstandingBalance(l, totalPaid)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(outstanding) {
		return nil, fmt.Errorf("%w: payment %s exceeds remaining balance %s on loan %d",
			apperrors.ErrOverpaymentRejected, amount, outstanding, loanID)
	}

	paymentDate := s.now()
	if paidOn != nil {
		paymentDate = *paidOn
	}

	payment, err := s.paymentRepo.CreatePaymentInTx(ctx, tx, &Payment{
		LoanID: loanID,
		Amount: amount,
		PaidOn: paymentDate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: could not record payment: %v", apperrors.ErrInternalServer, err)
	}

	if outstanding.Sub(amount).Sign() <= 0 {
		if err = l.TransitionTo(StatusPagado); err != nil {
			return nil, err
		}
		settled = true
	}

	if err = s.repo.UpdateLoanInTx(ctx, tx, l); err != nil {
		return nil, err
	}

	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordPayment("success")
	s.logger.InfoContext(ctx, "Payment registered", "loanID", loanID, "paymentID", payment.ID, "amount", amount, "settled", settled)

	s.publishPaymentEvents(ctx, payment, settled)
	return payment, nil
}

func (s *loanServiceImpl) publishPaymentEvents(ctx context.Context, p *Payment, settled bool) {
	now := s.now()
	if err := s.publisher.PublishPaymentReceived(ctx, event.PaymentReceivedEvent{
		PaymentID: p.ID,
		LoanID:    p.LoanID,
		Amount:    p.Amount.String(),
		PaidOn:    p.PaidOn,
		Timestamp: now,
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish payment event", "loanID", p.LoanID, "error", err)
	}
	if !settled {
		return
	}
	if err := s.publisher.PublishLoanSettled(ctx, event.LoanSettledEvent{LoanID: p.LoanID, Timestamp: now}); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish settlement event", "loanID", p.LoanID, "error", err)
	}
}

func (s *loanServiceImpl) ListPayments(ctx context.Context, loanID int64) ([]Payment, error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.GetPaymentsByLoanID(ctx, loanID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list payments", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to list payments for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	return payments, nil
}

func (s *loanServiceImpl) DeletePayment(ctx context.Context, paymentID int64) (err error) {
	payment, err := s.paymentRepo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: payment with ID %d not found", apperrors.ErrNotFound, paymentID)
		}
		return fmt.Errorf("%w: failed to load payment %d: %v", apperrors.ErrInternalServer, paymentID, err)
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrInternalServer, err)
	}
	defer func() {
		if err != nil {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.GetLoanForUpdate(ctx, tx, payment.LoanID)
	if err != nil {
		return fmt.Errorf("%w: could not lock loan %d: %v", apperrors.ErrInternalServer, payment.LoanID, err)
	}

	if err = s.paymentRepo.DeletePaymentInTx(ctx, tx, paymentID); err != nil {
		return fmt.Errorf("%w: could not delete payment %d: %v", apperrors.ErrInternalServer, paymentID, err)
	}

	totalPaid, err := s.paymentRepo.SumPaymentsByLoanIDInTx(ctx, tx, payment.LoanID)
	if err != nil {
		return fmt.Errorf("%w: could not sum payments for loan %d: %v", apperrors.ErrInternalServer, payment.LoanID, err)
	}

	// Removing a settling payment re-opens the loan; the restored status
	// follows what the ledger says about the loan's past.
	if l.Status == StatusPagado {
		settled, calcErr := IsSettled(l, totalPaid)
		if calcErr != nil {
			return calcErr
		}
		if !settled {
			switch {
			case l.ArrearsApplied:
				l.Status = StatusEnMora
			case startOfDay(l.DueDate).Before(startOfDay(s.now())):
				l.Status = StatusVencido
			default:
				l.Status = StatusAprobado
			}
			if err = s.repo.UpdateLoanInTx(ctx, tx, l); err != nil {
				return err
			}
		}
	}

	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrInternalServer, err)
	}
	s.logger.InfoContext(ctx, "Payment deleted", "paymentID", paymentID, "loanID", payment.LoanID, "loanStatus", l.Status)
	return nil
}

func (s *loanServiceImpl) RemainingBalance(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	totalPaid, err := s.paymentRepo.SumPaymentsByLoanID(ctx, loanID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to sum payments", "loanID", loanID, "error", err)
		return decimal.Zero, fmt.Errorf("%w: failed to sum payments for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	return RemainingBalance(l, totalPaid)
}

func (s *loanServiceImpl) TotalOrdinaryInterest(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return TotalOrdinaryInterest(l)
}
