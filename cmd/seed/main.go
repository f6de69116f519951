package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/princedwivedi2/pet-help-backend/internal/config"
	"github.com/princedwivedi2/pet-help-backend/internal/db"
	"github.com/princedwivedi2/pet-help-backend/internal/logging"
)

type seededVet struct {
	ID       int64
	PublicID uuid.UUID
	Always   bool
}

func main() {
	vets := flag.Int("vets", 50, "number of vet profiles to create")
	alwaysOpen := flag.Int("always-open", 5, "how many of the vets run a 24-hour clinic")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty, "seed")
	logger.Info().Int("vets", *vets).Int("always_open", *alwaysOpen).Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	seeded, err := seedVets(ctx, pool, *vets, *alwaysOpen)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed vets")
	}
	windows, err := seedAvailability(ctx, pool, seeded)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed availability")
	}

	logger.Info().Int("vets", len(seeded)).Int("windows", windows).Msg("seed complete")
}

func seedVets(ctx context.Context, pool *pgxpool.Pool, count, alwaysOpen int) ([]seededVet, error) {
	out := make([]seededVet, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			v := seededVet{PublicID: uuid.New(), Always: i < alwaysOpen}
			// owner user ids live in a separate range from pet owners used by the simulator
			owner := int64(10_000 + i)
			clinic := gofakeit.LastName() + " " + gofakeit.RandomString([]string{
				"Animal Hospital", "Veterinary Clinic", "Pet Care", "Vet Centre",
			})
			err := tx.QueryRow(ctx, `
				INSERT INTO vet_profiles (uuid, owner_user_id, clinic_name, is_24_hours)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, v.PublicID, owner, clinic, v.Always).Scan(&v.ID)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// seedAvailability gives every regular vet a weekday schedule and, for a
// random subset, an evening emergency window that overlaps the day hours.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, vets []seededVet) (int, error) {
	var windows int
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, v := range vets {
			if v.Always {
				continue
			}
			opens := gofakeit.RandomString([]string{"07:00", "08:00", "09:00"})
			closes := gofakeit.RandomString([]string{"17:00", "18:00", "19:00"})
			emergency := gofakeit.Bool()
			for day := time.Monday; day <= time.Friday; day++ {
				batch.Queue(`
					INSERT INTO vet_availabilities (vet_profile_id, day_of_week, open_time, close_time)
					VALUES ($1, $2, $3, $4)
				`, v.ID, int(day), opens, closes)
				windows++
				if emergency {
					batch.Queue(`
						INSERT INTO vet_availabilities (vet_profile_id, day_of_week, open_time, close_time, is_emergency_hours)
						VALUES ($1, $2, '16:00', '24:00', TRUE)
					`, v.ID, int(day))
					windows++
				}
			}
			if gofakeit.Bool() {
				batch.Queue(`
					INSERT INTO vet_availabilities (vet_profile_id, day_of_week, open_time, close_time)
					VALUES ($1, $2, '10:00', '14:00')
				`, v.ID, int(time.Saturday))
				windows++
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return windows, err
}
