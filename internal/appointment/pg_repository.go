package appointment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// activeSlotIndex is the partial unique index on (vet_profile_id, scheduled_at)
// covering pending and confirmed rows.
const activeSlotIndex = "appointments_active_slot_key"

const appointmentColumns = `id, uuid, owner_user_id, vet_profile_id, pet_id, status, scheduled_at,
	duration_minutes, reason, notes, cancellation_reason, cancelled_by, payment_status,
	created_at, updated_at, deleted_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PublicID,
		&a.OwnerID,
		&a.VetProfileID,
		&a.PetID,
		&a.Status,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Reason,
		&a.Notes,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.PaymentStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// slotLockKey maps (vet, start) onto the bigint space of Postgres advisory
// locks.
func slotLockKey(vetProfileID int64, scheduledAt time.Time) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", vetProfileID, scheduledAt.UnixMicro())
	return int64(h.Sum64())
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotIndex
}

// Reads

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (r *PgRepository) FindByPublicID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE uuid = $1 AND deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListForOwner(ctx context.Context, ownerID int64, q ListQuery) ([]Appointment, int, error) {
	return r.list(ctx, "owner_user_id", ownerID, q)
}

func (r *PgRepository) ListForVet(ctx context.Context, vetProfileID int64, q ListQuery) ([]Appointment, int, error) {
	return r.list(ctx, "vet_profile_id", vetProfileID, q)
}

func (r *PgRepository) list(ctx context.Context, column string, id int64, q ListQuery) ([]Appointment, int, error) {
	where := []string{column + " = $1", "deleted_at IS NULL"}
	args := []any{id}

	if q.Status != nil {
		args = append(args, *q.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.From != nil {
		args = append(args, *q.From)
		where = append(where, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		where = append(where, fmt.Sprintf("scheduled_at < $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		WHERE %s
		ORDER BY scheduled_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan appointments: %w", err)
	}
	return items, total, nil
}

func (r *PgRepository) ActiveStartTimes(ctx context.Context, vetProfileID int64, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE vet_profile_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		  AND status IN ('pending', 'confirmed')
		  AND deleted_at IS NULL
	`, vetProfileID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query booked slots: %w", err)
	}

	starts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scan booked slots: %w", err)
	}
	return starts, nil
}

// Writes

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockActiveSlot(ctx context.Context, vetProfileID int64, scheduledAt time.Time) ([]Appointment, error) {
	// FOR UPDATE alone locks nothing when the slot is still free, so two
	// first bookings would both pass. The advisory lock covers that case.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, slotLockKey(vetProfileID, scheduledAt)); err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE vet_profile_id = $1
		  AND scheduled_at = $2
		  AND status IN ('pending', 'confirmed')
		  AND deleted_at IS NULL
		FOR UPDATE
	`, vetProfileID, scheduledAt)
	if err != nil {
		return nil, fmt.Errorf("select active slot: %w", err)
	}
	return collectAppointments(rows)
}

func (t *pgTx) Insert(ctx context.Context, a *Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (uuid, owner_user_id, vet_profile_id, pet_id, status, scheduled_at,
			duration_minutes, reason, notes, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, a.PublicID, a.OwnerID, a.VetProfileID, a.PetID, a.Status, a.ScheduledAt,
		a.DurationMinutes, a.Reason, a.Notes, a.PaymentStatus, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		if isActiveSlotViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE uuid = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, a *Appointment, from Status) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = $3,
		    cancellation_reason = $4,
		    cancelled_by = $5,
		    updated_at = $6
		WHERE id = $1
		  AND status = $7
		  AND deleted_at IS NULL
	`, a.ID, a.Status, a.Notes, a.CancellationReason, a.CancelledBy, a.UpdatedAt, from)
	if err != nil {
		if isActiveSlotViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errStatusChanged
	}
	return nil
}

func (t *pgTx) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("archive appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
