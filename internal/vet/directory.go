package vet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory is the read-only lookup of vet profiles and their opening hours.
type Directory interface {
	ByPublicID(ctx context.Context, id uuid.UUID) (*Profile, error)
	ByID(ctx context.Context, id int64) (*Profile, error)
}

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.PublicID, &p.OwnerUserID, &p.IsTwentyFourHours)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (d *PgDirectory) ByPublicID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, uuid, owner_user_id, is_24_hours
		FROM vet_profiles
		WHERE uuid = $1 AND deleted_at IS NULL
	`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	if err := d.loadWindows(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *PgDirectory) ByID(ctx context.Context, id int64) (*Profile, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, uuid, owner_user_id, is_24_hours
		FROM vet_profiles
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	if err := d.loadWindows(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *PgDirectory) loadWindows(ctx context.Context, p *Profile) error {
	rows, err := d.pool.Query(ctx, `
		SELECT day_of_week, open_time, close_time, is_emergency_hours
		FROM vet_availabilities
		WHERE vet_profile_id = $1
		ORDER BY day_of_week, open_time
	`, p.ID)
	if err != nil {
		return fmt.Errorf("load availability windows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dow             int16
			openAt, closeAt pgtype.Time
			w               Window
		)
		if err := rows.Scan(&dow, &openAt, &closeAt, &w.IsEmergencyHours); err != nil {
			return fmt.Errorf("scan availability window: %w", err)
		}
		if !openAt.Valid || !closeAt.Valid {
			continue
		}
		w.DayOfWeek = time.Weekday(dow)
		w.Open = microsToTimeOfDay(openAt.Microseconds)
		w.Close = microsToTimeOfDay(closeAt.Microseconds)
		p.Windows = append(p.Windows, w)
	}
	return rows.Err()
}

func microsToTimeOfDay(us int64) TimeOfDay {
	return TimeOfDay(us / int64(60*1_000_000))
}
