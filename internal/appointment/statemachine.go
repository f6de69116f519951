package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/princedwivedi2/pet-help-backend/internal/notify"
	"github.com/princedwivedi2/pet-help-backend/internal/observability"
)

// Capabilities is everything an actor may do with one appointment in its
// current state. Time-dependent preconditions are checked separately.
type Capabilities struct {
	IsOwner   bool
	IsVetSide bool
	IsAdmin   bool

	CanView       bool
	CanConfirm    bool
	CanComplete   bool
	CanCancel     bool
	CanMarkNoShow bool
	CanArchive    bool
}

// CapabilitiesOf derives actor's rights over a. vetOwnerUserID is the user
// operating a's vet profile, 0 when there is none.
func CapabilitiesOf(actor Actor, a *Appointment, vetOwnerUserID int64) Capabilities {
	c := Capabilities{
		IsOwner:   actor.UserID != 0 && actor.UserID == a.OwnerID,
		IsVetSide: actor.UserID != 0 && actor.UserID == vetOwnerUserID,
		IsAdmin:   actor.IsAdmin(),
	}
	staff := c.IsVetSide || c.IsAdmin

	c.CanView = c.IsOwner || staff
	c.CanConfirm = staff && a.Status == StatusPending
	c.CanComplete = staff && a.Status == StatusConfirmed
	c.CanCancel = c.CanView && a.Status.IsActive()
	c.CanMarkNoShow = staff && a.Status == StatusConfirmed
	c.CanArchive = c.IsAdmin && a.Status.IsTerminal()
	return c
}

func (c Capabilities) allows(to Status) bool {
	switch to {
	case StatusConfirmed:
		return c.CanConfirm
	case StatusCompleted:
		return c.CanComplete
	case StatusCancelled:
		return c.CanCancel
	case StatusNoShow:
		return c.CanMarkNoShow
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

var transitionEvents = map[Status]string{
	StatusConfirmed: notify.EventAppointmentConfirmed,
	StatusCompleted: notify.EventAppointmentCompleted,
	StatusCancelled: notify.EventAppointmentCancelled,
	StatusNoShow:    notify.EventAppointmentNoShow,
}

func edgeExists(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s *Service) checkTransition(a *Appointment, to Status, caps Capabilities, opts TransitionOptions) error {
	from := a.Status
	reject := func(reason string) error {
		return &TransitionError{From: from, To: to, Reason: reason}
	}

	switch {
	case from.IsTerminal():
		return reject(fmt.Sprintf("appointment is already %s and can no longer change", from))
	case from == to:
		return reject(fmt.Sprintf("appointment is already %s", from))
	case !to.Valid():
		return reject("unknown target status")
	case !edgeExists(from, to):
		return reject(fmt.Sprintf("a %s appointment cannot become %s", from, to))
	case !caps.allows(to):
		return reject("actor is not permitted to make this change")
	}

	switch to {
	case StatusConfirmed:
		if !a.ScheduledAt.After(s.clock.Now()) {
			return reject("scheduled time has already passed")
		}
	case StatusCancelled:
		if strings.TrimSpace(opts.Reason) == "" {
			return reject("a cancellation reason is required")
		}
	}
	return nil
}

// Transition moves the appointment to status to on behalf of actor. The row is
// locked for the duration and the write is conditional on the status read,
// so two concurrent requests cannot both apply.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor Actor, opts TransitionOptions) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Transition")
	span.SetAttributes(attribute.String("appointment_id", id.String()), attribute.String("to", string(to)))
	defer func() { endSpan(span, err) }()

	var (
		updated  *Appointment
		from     Status
		vetOwner int64
	)

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		vetOwner, err = s.vetOwnerOf(ctx, a.VetProfileID)
		if err != nil {
			return err
		}

		caps := CapabilitiesOf(actor, a, vetOwner)
		if err := s.checkTransition(a, to, caps, opts); err != nil {
			return err
		}

		from = a.Status
		a.Status = to
		a.UpdatedAt = s.clock.Now()
		switch to {
		case StatusCancelled:
			reason := strings.TrimSpace(opts.Reason)
			by := actor.UserID
			a.CancellationReason = &reason
			a.CancelledBy = &by
		case StatusCompleted:
			if opts.Notes != nil {
				a.Notes = opts.Notes
			}
		}

		if err := tx.UpdateStatus(ctx, a, from); err != nil {
			if errors.Is(err, errStatusChanged) {
				return &TransitionError{From: from, To: to, Reason: "appointment was modified concurrently"}
			}
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}

	observability.Transitions.WithLabelValues(string(from), string(to)).Inc()
	s.log(ctx).Info().
		Str("appointment_id", updated.PublicID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Int64("actor_user_id", actor.UserID).
		Msg("appointment status changed")

	if !to.IsActive() {
		s.invalidateSlots(ctx, updated.VetProfileID, updated.ScheduledAt)
	}

	payload := payloadFor(updated)
	payload["previous_status"] = string(from)
	payload["actor_user_id"] = actor.UserID
	s.dispatch(ctx, counterparties(actor, updated, vetOwner), transitionEvents[to], payload)

	return updated, nil
}

// counterparties picks who hears about a change: the other side of the
// booking, or both sides when an administrator acted. The actor is never
// notified of their own change.
func counterparties(actor Actor, a *Appointment, vetOwnerUserID int64) []int64 {
	var candidates []int64
	switch {
	case actor.UserID == a.OwnerID:
		candidates = []int64{vetOwnerUserID}
	case actor.UserID == vetOwnerUserID:
		candidates = []int64{a.OwnerID}
	default:
		candidates = []int64{a.OwnerID, vetOwnerUserID}
	}

	out := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		if id == 0 || id == actor.UserID {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == id {
				dup = true
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}

// Archive soft-deletes a finished appointment. Only administrators may do it.
func (s *Service) Archive(ctx context.Context, id uuid.UUID, actor Actor) (err error) {
	ctx, span := tracer.Start(ctx, "appointment.Archive")
	defer func() { endSpan(span, err) }()

	return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		vetOwner, err := s.vetOwnerOf(ctx, a.VetProfileID)
		if err != nil {
			return err
		}

		caps := CapabilitiesOf(actor, a, vetOwner)
		if !caps.CanArchive {
			reason := "only administrators may archive appointments"
			if caps.IsAdmin {
				reason = "only finished appointments can be archived"
			}
			return &TransitionError{From: a.Status, To: "archived", Reason: reason}
		}
		return tx.SoftDelete(ctx, a.ID, s.clock.Now())
	})
}
