package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// Reads observe committed state only; writes go through WithinTx.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindByPublicID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListForOwner(ctx context.Context, ownerID int64, q ListQuery) ([]Appointment, int, error)
	ListForVet(ctx context.Context, vetProfileID int64, q ListQuery) ([]Appointment, int, error)

	// ActiveStartTimes feeds availability: start times of pending or
	// confirmed appointments within [from, to).
	ActiveStartTimes(ctx context.Context, vetProfileID int64, from, to time.Time) ([]time.Time, error)
}

// Tx is the write surface available inside one transaction.
type Tx interface {
	// LockActiveSlot serialises writers on (vet, scheduledAt) for the rest of
	// the transaction and returns the active appointments already there.
	LockActiveSlot(ctx context.Context, vetProfileID int64, scheduledAt time.Time) ([]Appointment, error)
	// Insert stores a new appointment and fills in its ID. A clash with an
	// active appointment surfaces as ErrSlotConflict.
	Insert(ctx context.Context, a *Appointment) error

	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus persists a's mutable fields only if the stored status is
	// still from.
	UpdateStatus(ctx context.Context, a *Appointment, from Status) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}

// SlotCache holds formatted availability per vet and clinic-local date
// (YYYY-MM-DD). Entries belong to a generation: Get reports the current one,
// Set stores under the generation the caller read, and Invalidate moves the
// generation on so anything computed before it is never served.
type SlotCache interface {
	Get(ctx context.Context, vetProfileID int64, date string) (slots []string, gen int64, ok bool, err error)
	Set(ctx context.Context, vetProfileID int64, date string, gen int64, slots []string) error
	Invalidate(ctx context.Context, vetProfileID int64, date string) error
}
