package batch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/event"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

var calcDate = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

type MockLoanRepository struct {
	mock.Mock
}

type TxMock struct {
	pgx.Tx
}

var tx pgx.Tx = &TxMock{}

func (m *MockLoanRepository) CreateLoan(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	args := m.Called(ctx, l)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) GetLoanByID(ctx context.Context, loanID int64) (*loan.Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) ListLoans(ctx context.Context, status *loan.Status, clientID *int64) ([]*loan.Loan, error) {
	args := m.Called(ctx, status, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) UpdateLoan(ctx context.Context, l *loan.Loan) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockLoanRepository) DeleteLoan(ctx context.Context, loanID int64) error {
	return m.Called(ctx, loanID).Error(0)
}

func (m *MockLoanRepository) GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*loan.Loan, error) {
	args := m.Called(ctx, tx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	return m.Called(ctx, tx, l).Error(0)
}

func (m *MockLoanRepository) FindNewlyOverdue(ctx context.Context, calcDate time.Time) ([]*loan.Loan, error) {
	args := m.Called(ctx, calcDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) FindOverdueNotAccrued(ctx context.Context, calcDate time.Time) ([]*loan.Loan, error) {
	args := m.Called(ctx, calcDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockLoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockLoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) CreatePaymentInTx(ctx context.Context, tx pgx.Tx, p *loan.Payment) (*loan.Payment, error) {
	args := m.Called(ctx, tx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetPaymentByID(ctx context.Context, paymentID int64) (*loan.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetPaymentsByLoanID(ctx context.Context, loanID int64) ([]loan.Payment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]loan.Payment), args.Error(1)
}

func (m *MockPaymentRepository) SumPaymentsByLoanID(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockPaymentRepository) SumPaymentsByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, loanID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockPaymentRepository) DeletePaymentInTx(ctx context.Context, tx pgx.Tx, paymentID int64) error {
	return m.Called(ctx, tx, paymentID).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishLoanOverdue(ctx context.Context, e event.LoanOverdueEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockPublisher) PublishArrearsAccrued(ctx context.Context, e event.ArrearsAccruedEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockPublisher) PublishLoanSettled(ctx context.Context, e event.LoanSettledEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockPublisher) PublishPaymentReceived(ctx context.Context, e event.PaymentReceivedEvent) error {
	return m.Called(ctx, e).Error(0)
}

type MockRunLocker struct {
	mock.Mock
}

func (m *MockRunLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	args := m.Called(ctx, key)
	var release func()
	if args.Get(0) != nil {
		release = args.Get(0).(func())
	}
	return release, args.Bool(1), args.Error(2)
}

func newJobForTest() (*ArrearsAccrualJob, *MockLoanRepository, *MockPaymentRepository, *MockPublisher) {
	mockRepo := new(MockLoanRepository)
	mockPaymentRepo := new(MockPaymentRepository)
	mockPublisher := new(MockPublisher)

	job := NewArrearsAccrualJob(mockRepo, mockPaymentRepo, mockPublisher, nil, logger)
	job.now = func() time.Time { return calcDate }
	return job, mockRepo, mockPaymentRepo, mockPublisher
}

func overdueLoan(id int64, status loan.Status) *loan.Loan {
	l := loan.NewLoan(7,
		decimal.RequireFromString("1000"),
		decimal.RequireFromString("10"),
		decimal.RequireFromString("0.1"),
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		loan.StatusAprobado,
	)
	l.ID = id
	l.Status = status
	return l
}

func TestRunDisabledDoesNothing(t *testing.T) {
	job, mockRepo, mockPaymentRepo, _ := newJobForTest()

	summary := job.Run(context.Background(), calcDate, loan.AccrualConfig{Enabled: false})

	assert.Equal(t, RunStatusSuccess, summary.Status)
	assert.Contains(t, summary.Message, "disabled")
	mockRepo.AssertNotCalled(t, "FindNewlyOverdue", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "FindOverdueNotAccrued", mock.Anything, mock.Anything)
	mockPaymentRepo.AssertNotCalled(t, "SumPaymentsByLoanIDInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunSkipsWhenAnotherRunHoldsTheLock(t *testing.T) {
	mockRepo := new(MockLoanRepository)
	mockPaymentRepo := new(MockPaymentRepository)
	mockLocker := new(MockRunLocker)
	job := NewArrearsAccrualJob(mockRepo, mockPaymentRepo, nil, mockLocker, logger)

	mockLocker.On("Acquire", mock.Anything, "accrual:2026-03-15").Return(nil, false, nil)

	summary := job.Run(context.Background(), calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, RunStatusSuccess, summary.Status)
	assert.Contains(t, summary.Message, "in progress")
	mockRepo.AssertNotCalled(t, "FindNewlyOverdue", mock.Anything, mock.Anything)
	mockLocker.AssertExpectations(t)
}

func TestRunProceedsWhenLockErrors(t *testing.T) {
	mockRepo := new(MockLoanRepository)
	mockPaymentRepo := new(MockPaymentRepository)
	mockLocker := new(MockRunLocker)
	job := NewArrearsAccrualJob(mockRepo, mockPaymentRepo, nil, mockLocker, logger)

	mockLocker.On("Acquire", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))
	mockRepo.On("FindNewlyOverdue", mock.Anything, calcDate).Return([]*loan.Loan{}, nil)
	mockRepo.On("FindOverdueNotAccrued", mock.Anything, calcDate).Return([]*loan.Loan{}, nil)

	summary := job.Run(context.Background(), calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, RunStatusSuccess, summary.Status)
	mockRepo.AssertExpectations(t)
}

func TestRunMarksOverdueAndAccrues(t *testing.T) {
	job, mockRepo, mockPaymentRepo, mockPublisher := newJobForTest()
	ctx := context.Background()

	aprobado := overdueLoan(1, loan.StatusAprobado)
	vencido := overdueLoan(2, loan.StatusVencido)

	mockRepo.On("FindNewlyOverdue", ctx, calcDate).Return([]*loan.Loan{aprobado}, nil)
	mockRepo.On("FindOverdueNotAccrued", ctx, calcDate).Return([]*loan.Loan{vencido}, nil)
	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(1)).Return(aprobado, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(2)).Return(vencido, nil)
	mockPaymentRepo.On("SumPaymentsByLoanIDInTx", ctx, tx, mock.Anything).Return(decimal.Zero, nil)
	mockRepo.On("UpdateLoanInTx", ctx, tx, mock.Anything).Return(nil)
	mockRepo.On("CommitTx", ctx, tx).Return(nil)
	mockPublisher.On("PublishLoanOverdue", ctx, mock.MatchedBy(func(e event.LoanOverdueEvent) bool {
		return e.LoanID == 1 && e.ClientID == 7
	})).Return(nil)
	mockPublisher.On("PublishArrearsAccrued", ctx, mock.MatchedBy(func(e event.ArrearsAccruedEvent) bool {
		return e.LoanID == 2 && e.ChargeableDays == 5 && e.Delta == "5"
	})).Return(nil)

	summary := job.Run(ctx, calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, RunStatusSuccess, summary.Status)
	assert.Equal(t, 1, summary.NewlyOverdue)
	assert.Equal(t, 1, summary.Accrued)
	assert.Equal(t, 0, summary.Errors)

	assert.Equal(t, loan.StatusVencido, aprobado.Status)
	require.NotNil(t, aprobado.LastAccrualDate)

	assert.Equal(t, loan.StatusEnMora, vencido.Status)
	assert.Equal(t, "5", vencido.AccruedArrears.String())
	assert.Equal(t, 5, vencido.DaysInArrears)

	mockRepo.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

func TestRunIsolatesPerLoanFailures(t *testing.T) {
	job, mockRepo, mockPaymentRepo, mockPublisher := newJobForTest()
	ctx := context.Background()

	broken := overdueLoan(1, loan.StatusVencido)
	broken.Principal = decimal.NullDecimal{}
	healthy := overdueLoan(2, loan.StatusVencido)

	mockRepo.On("FindNewlyOverdue", ctx, calcDate).Return([]*loan.Loan{}, nil)
	mockRepo.On("FindOverdueNotAccrued", ctx, calcDate).Return([]*loan.Loan{broken, healthy}, nil)
	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(1)).Return(broken, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(2)).Return(healthy, nil)
	mockPaymentRepo.On("SumPaymentsByLoanIDInTx", ctx, tx, mock.Anything).Return(decimal.Zero, nil)
	mockRepo.On("RollbackTx", ctx, tx).Return(nil)
	mockRepo.On("UpdateLoanInTx", ctx, tx, mock.Anything).Return(nil)
	mockRepo.On("CommitTx", ctx, tx).Return(nil)
	mockPublisher.On("PublishArrearsAccrued", ctx, mock.Anything).Return(nil)

	summary := job.Run(ctx, calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, RunStatusSuccess, summary.Status, "one malformed loan must not abort the run")
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Accrued)
	assert.Equal(t, loan.StatusEnMora, healthy.Status)
	assert.Equal(t, loan.StatusVencido, broken.Status)
}

func TestRunSkipsAlreadyAccruedLoans(t *testing.T) {
	job, mockRepo, mockPaymentRepo, _ := newJobForTest()
	ctx := context.Background()

	l := overdueLoan(1, loan.StatusEnMora)
	l.MarkAccrued(calcDate)

	mockRepo.On("FindNewlyOverdue", ctx, calcDate).Return([]*loan.Loan{}, nil)
	mockRepo.On("FindOverdueNotAccrued", ctx, calcDate).Return([]*loan.Loan{l}, nil)
	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	mockRepo.On("RollbackTx", ctx, tx).Return(nil)

	summary := job.Run(ctx, calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Accrued)
	mockPaymentRepo.AssertNotCalled(t, "SumPaymentsByLoanIDInTx", mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunGracePeriodSwallowsTheWindow(t *testing.T) {
	job, mockRepo, mockPaymentRepo, _ := newJobForTest()
	ctx := context.Background()

	l := overdueLoan(1, loan.StatusVencido)

	mockRepo.On("FindNewlyOverdue", ctx, calcDate).Return([]*loan.Loan{}, nil)
	mockRepo.On("FindOverdueNotAccrued", ctx, calcDate).Return([]*loan.Loan{l}, nil)
	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	mockPaymentRepo.On("SumPaymentsByLoanIDInTx", ctx, tx, int64(1)).Return(decimal.Zero, nil)
	mockRepo.On("RollbackTx", ctx, tx).Return(nil)

	summary := job.Run(ctx, calcDate, loan.AccrualConfig{Enabled: true, GracePeriodDays: 10})

	assert.Equal(t, 1, summary.Skipped)
	assert.True(t, l.AccruedArrears.IsZero())
	mockRepo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunSettlementWinsOverArrears(t *testing.T) {
	job, mockRepo, mockPaymentRepo, mockPublisher := newJobForTest()
	ctx := context.Background()

	l := overdueLoan(1, loan.StatusVencido)

	mockRepo.On("FindNewlyOverdue", ctx, calcDate).Return([]*loan.Loan{}, nil)
	mockRepo.On("FindOverdueNotAccrued", ctx, calcDate).Return([]*loan.Loan{l}, nil)
	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	// Principal is fully covered, so the charge has days but no amount and
	// the payments already cover principal plus interest.
	mockPaymentRepo.On("SumPaymentsByLoanIDInTx", ctx, tx, int64(1)).Return(decimal.RequireFromString("1100"), nil)
	mockRepo.On("UpdateLoanInTx", ctx, tx, mock.MatchedBy(func(l *loan.Loan) bool { return l.Status == loan.StatusPagado })).Return(nil)
	mockRepo.On("CommitTx", ctx, tx).Return(nil)
	mockPublisher.On("PublishArrearsAccrued", ctx, mock.Anything).Return(nil)
	mockPublisher.On("PublishLoanSettled", ctx, mock.MatchedBy(func(e event.LoanSettledEvent) bool { return e.LoanID == 1 })).Return(nil)

	summary := job.Run(ctx, calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, 1, summary.Accrued)
	assert.Equal(t, loan.StatusPagado, l.Status)
	mockPublisher.AssertExpectations(t)
}

func TestRunFailsWhenSetQueryFails(t *testing.T) {
	job, mockRepo, _, _ := newJobForTest()
	ctx := context.Background()

	mockRepo.On("FindNewlyOverdue", ctx, calcDate).Return(nil, errors.New("connection refused"))

	summary := job.Run(ctx, calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, RunStatusError, summary.Status)
	assert.Contains(t, summary.Message, "connection refused")
	mockRepo.AssertNotCalled(t, "FindOverdueNotAccrued", mock.Anything, mock.Anything)
}

func TestRunManualNeverPanics(t *testing.T) {
	// A mock with no expectations panics on first use; the manual entry
	// point must turn that into an error summary.
	job := NewArrearsAccrualJob(new(MockLoanRepository), new(MockPaymentRepository), nil, nil, logger)

	summary := job.RunManual(context.Background(), calcDate, loan.AccrualConfig{Enabled: true})

	assert.Equal(t, RunStatusError, summary.Status)
	assert.Contains(t, summary.Message, "accrual run aborted")
	assert.Equal(t, calcDate, summary.CalculationDate)
}
