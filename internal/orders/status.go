package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusValidated  Status = "VALIDATED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusReleased   Status = "RELEASED"
	StatusInTransit  Status = "IN_TRANSIT"
	StatusDelivered  Status = "DELIVERED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
	StatusOnHold     Status = "ON_HOLD"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusNew, StatusValidated, StatusConfirmed, StatusProcessing, StatusReleased,
	StatusInTransit, StatusDelivered, StatusCompleted, StatusCancelled, StatusFailed, StatusOnHold,
}

// validNext is the transition table. A status with an empty set is terminal.
var validNext = map[Status][]Status{
	StatusNew:        {StatusValidated, StatusCancelled, StatusFailed},
	StatusValidated:  {StatusConfirmed, StatusOnHold, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusOnHold, StatusCancelled},
	StatusProcessing: {StatusReleased, StatusOnHold, StatusCancelled, StatusFailed},
	StatusReleased:   {StatusInTransit, StatusOnHold, StatusCancelled},
	StatusInTransit:  {StatusDelivered, StatusFailed},
	StatusDelivered:  {StatusCompleted},
	StatusOnHold:     {StatusProcessing, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusFailed:     {},
}

// ErrInvalidTransition matches every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError names the rejected move.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// CanTransition reports whether to is in the allowed set of from.
func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Allowed returns a copy of the statuses reachable from s.
func Allowed(s Status) []Status {
	next := validNext[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// ParseStatus accepts a status name in any case.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// ApplyTransition moves o to status to. An illegal move returns an
// *InvalidTransitionError and leaves o unchanged.
func ApplyTransition(o *Order, to Status, at time.Time, reason string) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	at = at.UTC()
	switch to {
	case StatusValidated:
		o.ValidatedAt = &at
	case StatusConfirmed:
		o.ConfirmedAt = &at
	case StatusReleased:
		o.ReleasedAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	case StatusCompleted:
		o.CompletedAt = &at
	case StatusCancelled:
		o.CancelReason = reason
	case StatusFailed:
		o.FailureReason = reason
	}
	o.Status = to
	o.UpdatedAt = at
	o.Version++
	return nil
}
