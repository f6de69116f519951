package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentNoShow    = "appointment.no_show"
)

// Dispatcher delivers one event to one user. Delivery channel is up to the
// implementation; callers treat every failure as non-fatal.
type Dispatcher interface {
	Notify(ctx context.Context, recipientUserID int64, eventType string, payload map[string]any) error
}

// Multi fans an event out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, recipientUserID int64, eventType string, payload map[string]any) error {
	var errs []error
	for i, d := range m {
		if d == nil {
			continue
		}
		if err := d.Notify(ctx, recipientUserID, eventType, payload); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher writes events to the structured log. Useful in development
// and as a trail next to real delivery channels.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(_ context.Context, recipientUserID int64, eventType string, payload map[string]any) error {
	d.logger.Info().
		Int64("recipient_user_id", recipientUserID).
		Str("event_type", eventType).
		Interface("payload", payload).
		Msg("notification dispatched")
	return nil
}
