package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLogDispatcher appends every notification to the event_logs table so
// there is a durable audit trail of what was sent to whom.
type EventLogDispatcher struct {
	pool *pgxpool.Pool
}

func NewEventLogDispatcher(pool *pgxpool.Pool) *EventLogDispatcher {
	return &EventLogDispatcher{pool: pool}
}

func (d *EventLogDispatcher) Notify(ctx context.Context, recipientUserID int64, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, recipient_user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, eventType, appointmentIDFrom(payload), recipientUserID, data)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func appointmentIDFrom(payload map[string]any) *uuid.UUID {
	raw, ok := payload["appointment_id"].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
