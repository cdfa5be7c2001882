package event

import (
	"context"
	"time"
)

// Events mirror the loan lifecycle moments downstream systems care about.
// Amounts travel as strings to keep decimal precision on the wire.

type LoanOverdueEvent struct {
	LoanID    int64     `json:"loanId"`
	ClientID  int64     `json:"clientId"`
	DueDate   time.Time `json:"dueDate"`
	Timestamp time.Time `json:"timestamp"`
}

type ArrearsAccruedEvent struct {
	LoanID          int64     `json:"loanId"`
	ChargeableDays  int       `json:"chargeableDays"`
	Delta           string    `json:"delta"`
	AccruedArrears  string    `json:"accruedArrears"`
	CalculationDate time.Time `json:"calculationDate"`
	Timestamp       time.Time `json:"timestamp"`
}

type LoanSettledEvent struct {
	LoanID    int64     `json:"loanId"`
	Timestamp time.Time `json:"timestamp"`
}

type PaymentReceivedEvent struct {
	PaymentID int64     `json:"paymentId"`
	LoanID    int64     `json:"loanId"`
	Amount    string    `json:"amount"`
	PaidOn    time.Time `json:"paidOn"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	PublishLoanOverdue(ctx context.Context, e LoanOverdueEvent) error
	PublishArrearsAccrued(ctx context.Context, e ArrearsAccruedEvent) error
	PublishLoanSettled(ctx context.Context, e LoanSettledEvent) error
	PublishPaymentReceived(ctx context.Context, e PaymentReceivedEvent) error
}

// NopPublisher satisfies Publisher when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishLoanOverdue(context.Context, LoanOverdueEvent) error { return nil }

func (NopPublisher) PublishArrearsAccrued(context.Context, ArrearsAccruedEvent) error { return nil }

func (NopPublisher) PublishLoanSettled(context.Context, LoanSettledEvent) error { return nil }

func (NopPublisher) PublishPaymentReceived(context.Context, PaymentReceivedEvent) error { return nil }
