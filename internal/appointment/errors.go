package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrSlotConflict        = errors.New("slot already has an active appointment")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrScheduledInPast     = errors.New("scheduled time must be in the future")
	ErrInvalidInput        = errors.New("invalid input")

	// returned by Tx.UpdateStatus when the stored status no longer matches
	errStatusChanged = errors.New("appointment status changed concurrently")
)

// TransitionError explains why a requested status change was refused.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
