package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/event"
	"lending-engine/internal/infrastructure/monitoring"
	"lending-engine/internal/pkg/apperrors"
)

// RunLocker serializes whole accrual runs for one calculation date, so the
// cron trigger and a manual invocation cannot process the same day at the
// same time. The idempotency marker on each loan is the correctness
// backstop; the lock only avoids wasted contention.
type RunLocker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// RunSummary is what a manual invocation gets back; the scheduled path logs
// it.
type RunSummary struct {
	Status          string    `json:"status"`
	CalculationDate time.Time `json:"calculationDate"`
	Message         string    `json:"message"`
	NewlyOverdue    int       `json:"newlyOverdue"`
	Accrued         int       `json:"accrued"`
	Skipped         int       `json:"skipped"`
	Errors          int       `json:"errors"`
}

type ArrearsAccrualJob struct {
	loanRepo    loan.Repository
	paymentRepo loan.PaymentRepository
	publisher   event.Publisher
	locker      RunLocker
	logger      *slog.Logger
	now         func() time.Time
}

func NewArrearsAccrualJob(
	loanRepo loan.Repository,
	paymentRepo loan.PaymentRepository,
	publisher event.Publisher,
	locker RunLocker,
	logger *slog.Logger,
) *ArrearsAccrualJob {
	if loanRepo == nil || paymentRepo == nil || logger == nil {
		panic("ArrearsAccrualJob dependencies cannot be nil")
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	return &ArrearsAccrualJob{
		loanRepo:    loanRepo,
		paymentRepo: paymentRepo,
		publisher:   publisher,
		locker:      locker,
		logger:      logger.With("job", "ArrearsAccrual"),
		now:         time.Now,
	}
}

// RunScheduled is the timer entry point: no inputs beyond the engine
// configuration, side effects only.
func (j *ArrearsAccrualJob) RunScheduled(ctx context.Context, cfg loan.AccrualConfig) {
	summary := j.Run(ctx, j.now(), cfg)
	if summary.Status != RunStatusSuccess {
		j.logger.ErrorContext(ctx, "Scheduled accrual run failed", slog.String("message", summary.Message))
	}
}

// RunManual runs the engine for a caller-supplied calculation date and
// always returns a structured summary; nothing escapes its boundary.
func (j *ArrearsAccrualJob) RunManual(ctx context.Context, calcDate time.Time, cfg loan.AccrualConfig) (summary RunSummary) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.ErrorContext(ctx, "Panic during manual accrual run", slog.Any("error", r))
			summary = RunSummary{
				Status:          RunStatusError,
				CalculationDate: calcDate,
				Message:         fmt.Sprintf("accrual run aborted: %v", r),
			}
		}
	}()
	return j.Run(ctx, calcDate, cfg)
}

// Run executes one accrual pass for calcDate. Loans are processed
// sequentially, each under its own row-locking transaction; one bad record
// is logged and skipped, never aborting the rest of the run.
func (j *ArrearsAccrualJob) Run(ctx context.Context, calcDate time.Time, cfg loan.AccrualConfig) RunSummary {
	startTime := time.Now()
	summary := RunSummary{Status: RunStatusSuccess, CalculationDate: calcDate}

	if !cfg.Enabled {
		summary.Message = "arrears accrual is disabled, no work performed"
		j.logger.InfoContext(ctx, summary.Message)
		return summary
	}

	if j.locker != nil {
		release, acquired, err := j.locker.Acquire(ctx, "accrual:"+calcDate.Format("2006-01-02"))
		if err != nil {
			j.logger.WarnContext(ctx, "Run lock unavailable, proceeding without it", slog.Any("error", err))
		} else if !acquired {
			summary.Message = "another accrual run for this date is in progress"
			j.logger.InfoContext(ctx, summary.Message)
			return summary
		} else {
			defer release()
		}
	}

	j.logger.InfoContext(ctx, "Starting arrears accrual run", slog.Time("calculationDate", calcDate))

	newlyOverdue, err := j.loanRepo.FindNewlyOverdue(ctx, calcDate)
	if err != nil {
		return j.failRun(ctx, summary, startTime, fmt.Errorf("cannot start run, failed to fetch newly overdue loans: %w", err))
	}
	for _, l := range newlyOverdue {
		logCtx := j.logger.With(slog.Int64("loanID", l.ID))
		switch outcome, perr := j.markOverdue(ctx, l.ID, calcDate); {
		case perr != nil:
			logCtx.ErrorContext(ctx, "Failed to mark loan overdue", slog.Any("error", perr))
			summary.Errors++
		case outcome:
			summary.NewlyOverdue++
		default:
			summary.Skipped++
		}
	}

	overdue, err := j.loanRepo.FindOverdueNotAccrued(ctx, calcDate)
	if err != nil {
		return j.failRun(ctx, summary, startTime, fmt.Errorf("cannot continue run, failed to fetch overdue loans: %w", err))
	}
	for _, l := range overdue {
		logCtx := j.logger.With(slog.Int64("loanID", l.ID))
		switch outcome, perr := j.accrueLoan(ctx, l.ID, calcDate, cfg); {
		case perr != nil:
			logCtx.ErrorContext(ctx, "Failed to accrue arrears for loan", slog.Any("error", perr))
			summary.Errors++
		case outcome:
			summary.Accrued++
		default:
			summary.Skipped++
		}
	}

	duration := time.Since(startTime)
	summary.Message = fmt.Sprintf("accrual run completed: %d newly overdue, %d accrued, %d skipped, %d errors",
		summary.NewlyOverdue, summary.Accrued, summary.Skipped, summary.Errors)

	monitoring.SetLoansInArrears(summary.Accrued)
	monitoring.RecordAccrualRun(RunStatusSuccess, duration)

	summaryLog := j.logger.With(
		slog.Duration("duration", duration),
		slog.Int("newly_overdue", summary.NewlyOverdue),
		slog.Int("accrued", summary.Accrued),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
	)
	if summary.Errors > 0 {
		summaryLog.WarnContext(ctx, "Arrears accrual run finished with per-loan errors.")
	} else {
		summaryLog.InfoContext(ctx, "Arrears accrual run finished successfully.")
	}
	return summary
}

func (j *ArrearsAccrualJob) failRun(ctx context.Context, summary RunSummary, startTime time.Time, err error) RunSummary {
	j.logger.ErrorContext(ctx, "Accrual run could not proceed", slog.Any("error", err))
	monitoring.RecordAccrualRun(RunStatusError, time.Since(startTime))
	summary.Status = RunStatusError
	summary.Message = err.Error()
	return summary
}

// markOverdue advances one APROBADO loan past its due date to VENCIDO and
// stamps the accrual marker, all under a row lock. Returns false when the
// loan turned out not to be eligible after locking.
func (j *ArrearsAccrualJob) markOverdue(ctx context.Context, loanID int64, calcDate time.Time) (advanced bool, err error) {
	tx, err := j.loanRepo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = j.loanRepo.RollbackTx(ctx, tx)
		}
	}()

	l, err := j.loanRepo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		return false, fmt.Errorf("could not lock loan: %w", err)
	}

	// A concurrent payment may have settled or another run advanced the
	// loan between the set query and the lock.
	if l.Status != loan.StatusAprobado || l.DueDate.After(calcDate) {
		_ = j.loanRepo.RollbackTx(ctx, tx)
		return false, nil
	}

	totalPaid, err := j.paymentRepo.SumPaymentsByLoanIDInTx(ctx, tx, loanID)
	if err != nil {
		return false, fmt.Errorf("could not sum payments: %w", err)
	}
	settled, err := loan.IsSettled(l, totalPaid)
	if err != nil {
		return false, err
	}
	if settled {
		_ = j.loanRepo.RollbackTx(ctx, tx)
		return false, nil
	}

	if err = l.TransitionTo(loan.StatusVencido); err != nil {
		return false, err
	}
	l.MarkAccrued(calcDate)

	if err = j.loanRepo.UpdateLoanInTx(ctx, tx, l); err != nil {
		return false, err
	}
	if err = j.loanRepo.CommitTx(ctx, tx); err != nil {
		return false, fmt.Errorf("could not commit: %w", err)
	}

	if pubErr := j.publisher.PublishLoanOverdue(ctx, event.LoanOverdueEvent{
		LoanID:    l.ID,
		ClientID:  l.ClientID,
		DueDate:   l.DueDate,
		Timestamp: j.now(),
	}); pubErr != nil {
		j.logger.WarnContext(ctx, "Failed to publish overdue event", slog.Int64("loanID", l.ID), slog.Any("error", pubErr))
	}
	return true, nil
}

// accrueLoan posts one loan's arrears for calcDate. Loans outside the
// engine's scope (terminal, pending, already accrued for the date, inside
// the grace window) are skipped without error.
func (j *ArrearsAccrualJob) accrueLoan(ctx context.Context, loanID int64, calcDate time.Time, cfg loan.AccrualConfig) (accrued bool, err error) {
	tx, err := j.loanRepo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = j.loanRepo.RollbackTx(ctx, tx)
		}
	}()

	l, err := j.loanRepo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Deleted between the set query and the lock; not this run's
			// problem.
			_ = j.loanRepo.RollbackTx(ctx, tx)
			return false, nil
		}
		return false, fmt.Errorf("could not lock loan: %w", err)
	}

	if (l.Status != loan.StatusVencido && l.Status != loan.StatusEnMora) || l.AccruedFor(calcDate) {
		_ = j.loanRepo.RollbackTx(ctx, tx)
		return false, nil
	}

	totalPaid, err := j.paymentRepo.SumPaymentsByLoanIDInTx(ctx, tx, loanID)
	if err != nil {
		return false, fmt.Errorf("could not sum payments: %w", err)
	}

	charge, err := loan.ComputeArrears(l, totalPaid, calcDate, cfg.GracePeriodDays)
	if err != nil {
		return false, err
	}
	if charge.Zero() {
		_ = j.loanRepo.RollbackTx(ctx, tx)
		return false, nil
	}

	if err = l.ApplyArrears(charge, calcDate); err != nil {
		return false, err
	}

	settled, err := loan.IsSettled(l, totalPaid)
	if err != nil {
		return false, err
	}
	if settled {
		// Settlement wins over the arrears transition just computed.
		if err = l.TransitionTo(loan.StatusPagado); err != nil {
			return false, err
		}
	}

	if err = j.loanRepo.UpdateLoanInTx(ctx, tx, l); err != nil {
		return false, err
	}
	if err = j.loanRepo.CommitTx(ctx, tx); err != nil {
		return false, fmt.Errorf("could not commit: %w", err)
	}

	delta, _ := charge.Delta.Float64()
	monitoring.RecordAccruedArrears(delta)

	now := j.now()
	if pubErr := j.publisher.PublishArrearsAccrued(ctx, event.ArrearsAccruedEvent{
		LoanID:          l.ID,
		ChargeableDays:  charge.ChargeableDays,
		Delta:           charge.Delta.String(),
		AccruedArrears:  l.AccruedArrears.String(),
		CalculationDate: calcDate,
		Timestamp:       now,
	}); pubErr != nil {
		j.logger.WarnContext(ctx, "Failed to publish accrual event", slog.Int64("loanID", l.ID), slog.Any("error", pubErr))
	}
	if settled {
		if pubErr := j.publisher.PublishLoanSettled(ctx, event.LoanSettledEvent{LoanID: l.ID, Timestamp: now}); pubErr != nil {
			j.logger.WarnContext(ctx, "Failed to publish settlement event", slog.Int64("loanID", l.ID), slog.Any("error", pubErr))
		}
	}
	return true, nil
}
