package loan

import (
	"fmt"
	"strings"

	"lending-engine/internal/pkg/apperrors"
)

// Status is the loan lifecycle state. The vocabulary is closed; any free-text
// status coming from a caller goes through ParseStatus.
type Status string

const (
	StatusPendiente Status = "PENDIENTE"
	StatusAprobado  Status = "APROBADO"
	StatusRechazado Status = "RECHAZADO"
	StatusVencido   Status = "VENCIDO"
	StatusEnMora    Status = "EN_MORA"
	StatusPagado    Status = "PAGADO"
)

var allStatuses = []Status{
	StatusPendiente,
	StatusAprobado,
	StatusRechazado,
	StatusVencido,
	StatusEnMora,
	StatusPagado,
}

// transitions holds the only edges the state machine accepts. EN_MORA loops
// on itself so subsequent accrual days are valid transitions.
var transitions = map[Status][]Status{
	StatusPendiente: {StatusAprobado, StatusRechazado},
	StatusAprobado:  {StatusVencido, StatusPagado},
	StatusVencido:   {StatusEnMora, StatusPagado},
	StatusEnMora:    {StatusEnMora, StatusPagado},
	StatusRechazado: {},
	StatusPagado:    {},
}

// ParseStatus normalizes free text (trimmed, case-insensitive) against the
// fixed vocabulary.
func ParseStatus(text string) (Status, error) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(text)))
	for _, s := range allStatuses {
		if normalized == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown loan status %q, valid values are %s",
		apperrors.ErrInvalidArgument, text, StatusVocabulary())
}

// StatusVocabulary returns the valid status names, for error messages.
func StatusVocabulary() string {
	names := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func (s Status) IsTerminal() bool {
	return s == StatusPagado || s == StatusRechazado
}

// CanTransitionTo reports whether the edge s -> target exists.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo moves the loan along a valid edge or fails with
// ErrInvalidArgument.
func (l *Loan) TransitionTo(target Status) error {
	if !l.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: loan %d cannot transition from %s to %s",
			apperrors.ErrInvalidArgument, l.ID, l.Status, target)
	}
	l.Status = target
	return nil
}
