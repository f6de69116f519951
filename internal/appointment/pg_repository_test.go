package appointment

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/princedwivedi2/pet-help-backend/internal/db"
)

// testPool connects to TEST_POSTGRES_DSN, migrates, and creates a fresh vet
// profile so runs do not interfere with each other.
func testPool(t *testing.T) (*pgxpool.Pool, int64) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("ConnectPostgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	var vetID int64
	err = pool.QueryRow(ctx, `
		INSERT INTO vet_profiles (uuid, owner_user_id) VALUES ($1, 200) RETURNING id
	`, uuid.New()).Scan(&vetID)
	if err != nil {
		t.Fatalf("insert vet profile: %v", err)
	}
	return pool, vetID
}

func newPending(vetID int64, at time.Time) *Appointment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Appointment{
		PublicID:        uuid.New(),
		OwnerID:         100,
		VetProfileID:    vetID,
		Status:          StatusPending,
		ScheduledAt:     at,
		DurationMinutes: 30,
		Reason:          "checkup",
		PaymentStatus:   PaymentUnpaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func insertPending(ctx context.Context, repo *PgRepository, a *Appointment) error {
	return repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.LockActiveSlot(ctx, a.VetProfileID, a.ScheduledAt)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return ErrSlotConflict
		}
		return tx.Insert(ctx, a)
	})
}

func TestPgRepository_ConcurrentInsertOneWinner(t *testing.T) {
	pool, vetID := testPool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	slot := time.Date(2030, time.January, 1, 10, 0, 0, 0, time.UTC)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := insertPending(ctx, repo, newPending(vetID, slot))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if !errors.Is(err, ErrSlotConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one insert, got %d", successes)
	}

	starts, err := repo.ActiveStartTimes(ctx, vetID, slot.Add(-time.Hour), slot.Add(time.Hour))
	if err != nil {
		t.Fatalf("ActiveStartTimes: %v", err)
	}
	if len(starts) != 1 || !starts[0].Equal(slot) {
		t.Fatalf("expected one active start at %s, got %v", slot, starts)
	}
}

func TestPgRepository_UniqueIndexBacksUpLock(t *testing.T) {
	pool, vetID := testPool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	slot := time.Date(2030, time.January, 2, 9, 0, 0, 0, time.UTC)

	if err := insertPending(ctx, repo, newPending(vetID, slot)); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// skip LockActiveSlot so only the index can catch the duplicate
	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Insert(ctx, newPending(vetID, slot))
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict from the index, got %v", err)
	}
}

func TestPgRepository_StatusCASAndListing(t *testing.T) {
	pool, vetID := testPool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	slot := time.Date(2030, time.January, 3, 9, 0, 0, 0, time.UTC)

	a := newPending(vetID, slot)
	if err := insertPending(ctx, repo, a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetForUpdate(ctx, a.PublicID)
		if err != nil {
			return err
		}
		reason, by := "plans changed", int64(100)
		locked.Status = StatusCancelled
		locked.CancellationReason = &reason
		locked.CancelledBy = &by
		locked.UpdatedAt = time.Now().UTC()
		return tx.UpdateStatus(ctx, locked, StatusPending)
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stale := *a
	stale.Status = StatusConfirmed
	err = repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateStatus(ctx, &stale, StatusPending)
	})
	if !errors.Is(err, errStatusChanged) {
		t.Fatalf("expected errStatusChanged for stale precondition, got %v", err)
	}

	// the cancelled row no longer holds the slot
	if err := insertPending(ctx, repo, newPending(vetID, slot)); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}

	status := StatusCancelled
	items, total, err := repo.ListForVet(ctx, vetID, ListQuery{Status: &status, Limit: 10})
	if err != nil {
		t.Fatalf("ListForVet: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].PublicID != a.PublicID || *items[0].CancelledBy != 100 {
		t.Fatalf("unexpected listing total=%d items=%+v", total, items)
	}

	got, err := repo.FindByPublicID(ctx, a.PublicID)
	if err != nil {
		t.Fatalf("FindByPublicID: %v", err)
	}
	if got.Status != StatusCancelled || got.CancellationReason == nil || *got.CancellationReason != "plans changed" {
		t.Fatalf("unexpected stored row %+v", got)
	}

	if err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SoftDelete(ctx, got.ID, time.Now().UTC())
	}); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := repo.FindByPublicID(ctx, a.PublicID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected archived row to be hidden, got %v", err)
	}
}

func TestSlotLockKey_Stable(t *testing.T) {
	at := time.Date(2030, time.January, 1, 10, 0, 0, 0, time.UTC)
	if slotLockKey(1, at) != slotLockKey(1, at.In(time.FixedZone("x", 3600))) {
		t.Fatalf("lock key must not depend on the location")
	}
	if slotLockKey(1, at) == slotLockKey(2, at) {
		t.Fatalf("different vets must get different keys")
	}
}
