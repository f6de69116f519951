package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/princedwivedi2/pet-help-backend/internal/notify"
	"github.com/princedwivedi2/pet-help-backend/internal/observability"
	redisclient "github.com/princedwivedi2/pet-help-backend/internal/redis"
)

func slotLockName(vetProfileID int64, scheduledAt time.Time) string {
	return fmt.Sprintf("lock:slot:%d:%d", vetProfileID, scheduledAt.Unix())
}

// Create books a pending appointment for ownerID with the vet identified by
// vetPublicID. Concurrent attempts at the same vet and start time produce
// exactly one appointment; the rest fail with ErrSlotConflict.
//
// The Redis lock only sheds contention early. Correctness comes from the
// transaction: the slot lock plus the partial unique index on active rows.
func (s *Service) Create(ctx context.Context, ownerID int64, vetPublicID uuid.UUID, p CreateParams) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Create")
	defer func() { endSpan(span, err) }()

	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if ownerID <= 0 {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	duration := p.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < MinDurationMinutes || duration > MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration must be between %d and %d minutes",
			ErrInvalidInput, MinDurationMinutes, MaxDurationMinutes)
	}

	profile, err := s.vets.ByPublicID(ctx, vetPublicID)
	if err != nil {
		return nil, fmt.Errorf("load vet profile: %w", err)
	}

	now := s.clock.Now()
	// Postgres keeps microseconds; truncate so equality checks agree everywhere.
	scheduledAt := p.ScheduledAt.UTC().Truncate(time.Microsecond)
	if !scheduledAt.After(now) {
		return nil, ErrScheduledInPast
	}

	span.SetAttributes(
		attribute.Int64("vet_profile_id", profile.ID),
		attribute.String("scheduled_at", scheduledAt.Format(time.RFC3339)),
	)

	appt := &Appointment{
		PublicID:        uuid.New(),
		OwnerID:         ownerID,
		VetProfileID:    profile.ID,
		PetID:           p.PetID,
		Status:          StatusPending,
		ScheduledAt:     scheduledAt,
		DurationMinutes: duration,
		Reason:          reason,
		Notes:           p.Notes,
		PaymentStatus:   PaymentUnpaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.locker.WithLock(ctx, slotLockName(profile.ID, scheduledAt), func(lockCtx context.Context) error {
		return s.insertPending(lockCtx, appt)
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		// Reported as taken even if the holder's insert later fails; the
		// caller retries against a fresh listing.
		err = ErrSlotConflict
	case errors.Is(err, redisclient.ErrLockUnavailable):
		s.log(ctx).Warn().Err(err).Msg("booking lock unavailable, relying on database locking")
		err = s.insertPending(ctx, appt)
	}
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			observability.SlotConflicts.Inc()
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	observability.BookingsCreated.Inc()
	s.log(ctx).Info().
		Str("appointment_id", appt.PublicID.String()).
		Int64("vet_profile_id", appt.VetProfileID).
		Time("scheduled_at", appt.ScheduledAt).
		Msg("appointment booked")

	s.invalidateSlots(ctx, appt.VetProfileID, appt.ScheduledAt)
	if profile.OwnerUserID != 0 && profile.OwnerUserID != ownerID {
		s.dispatch(ctx, []int64{profile.OwnerUserID}, notify.EventAppointmentBooked, payloadFor(appt))
	}

	return appt, nil
}

// insertPending runs check-then-insert in one transaction. Nothing is
// written when the slot is taken.
func (s *Service) insertPending(ctx context.Context, appt *Appointment) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.LockActiveSlot(ctx, appt.VetProfileID, appt.ScheduledAt)
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		if len(active) > 0 {
			return ErrSlotConflict
		}
		if err := tx.Insert(ctx, appt); err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("create pending appointment: %w", err)
		}
		return nil
	})
}
