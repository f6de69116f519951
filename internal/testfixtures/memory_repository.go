// Package testfixtures holds in-memory doubles of the storage and delivery
// collaborators, shared by service and HTTP tests.
package testfixtures

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
)

// MemoryRepository is an appointment.Repository kept in maps. Transactions
// are serialised by one mutex and rolled back by restoring a snapshot, which
// is enough to reproduce the commit/abort behaviour the service relies on.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]appointment.Appointment
	byUUID map[uuid.UUID]int64

	// Inserts counts successful inserts, including rolled back ones.
	Inserts int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:   make(map[int64]appointment.Appointment),
		byUUID: make(map[uuid.UUID]int64),
	}
}

// Put stores a directly, bypassing booking rules. It returns the stored copy.
func (r *MemoryRepository) Put(a appointment.Appointment) *appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.PublicID == uuid.Nil {
		a.PublicID = uuid.New()
	}
	if a.ID == 0 {
		r.nextID++
		a.ID = r.nextID
	}
	r.rows[a.ID] = a
	r.byUUID[a.PublicID] = a.ID
	return &a
}

// All returns every stored row including archived ones.
func (r *MemoryRepository) All() []appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]appointment.Appointment, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, byUUID, nextID := maps.Clone(r.rows), maps.Clone(r.byUUID), r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.rows, r.byUUID, r.nextID = rows, byUUID, nextID
		return err
	}
	return nil
}

func (r *MemoryRepository) FindByPublicID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id)
}

func (r *MemoryRepository) lookup(id uuid.UUID) (*appointment.Appointment, error) {
	rowID, ok := r.byUUID[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	a := r.rows[rowID]
	if a.DeletedAt != nil {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListForOwner(_ context.Context, ownerID int64, q appointment.ListQuery) ([]appointment.Appointment, int, error) {
	return r.list(func(a appointment.Appointment) bool { return a.OwnerID == ownerID }, q)
}

func (r *MemoryRepository) ListForVet(_ context.Context, vetProfileID int64, q appointment.ListQuery) ([]appointment.Appointment, int, error) {
	return r.list(func(a appointment.Appointment) bool { return a.VetProfileID == vetProfileID }, q)
}

func (r *MemoryRepository) list(match func(appointment.Appointment) bool, q appointment.ListQuery) ([]appointment.Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hits []appointment.Appointment
	for _, a := range r.rows {
		switch {
		case a.DeletedAt != nil, !match(a):
			continue
		case q.Status != nil && a.Status != *q.Status:
			continue
		case q.From != nil && a.ScheduledAt.Before(*q.From):
			continue
		case q.To != nil && !a.ScheduledAt.Before(*q.To):
			continue
		}
		hits = append(hits, a)
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].ScheduledAt.Equal(hits[j].ScheduledAt) {
			return hits[i].ScheduledAt.After(hits[j].ScheduledAt)
		}
		return hits[i].ID > hits[j].ID
	})

	total := len(hits)
	if q.Offset >= total {
		return []appointment.Appointment{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return hits[q.Offset:end], total, nil
}

func (r *MemoryRepository) ActiveStartTimes(_ context.Context, vetProfileID int64, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []time.Time
	for _, a := range r.rows {
		if a.VetProfileID != vetProfileID || a.DeletedAt != nil || !a.Status.IsActive() {
			continue
		}
		if a.ScheduledAt.Before(from) || !a.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, a.ScheduledAt)
	}
	return out, nil
}

// memoryTx runs with repo.mu held by WithinTx.
type memoryTx struct {
	repo *MemoryRepository
}

func (t *memoryTx) activeAt(vetProfileID int64, at time.Time, skip int64) []appointment.Appointment {
	var out []appointment.Appointment
	for _, a := range t.repo.rows {
		if a.ID == skip || a.DeletedAt != nil || !a.Status.IsActive() {
			continue
		}
		if a.VetProfileID == vetProfileID && a.ScheduledAt.Equal(at) {
			out = append(out, a)
		}
	}
	return out
}

func (t *memoryTx) LockActiveSlot(_ context.Context, vetProfileID int64, scheduledAt time.Time) ([]appointment.Appointment, error) {
	return t.activeAt(vetProfileID, scheduledAt, 0), nil
}

func (t *memoryTx) Insert(_ context.Context, a *appointment.Appointment) error {
	if a.Status.IsActive() && len(t.activeAt(a.VetProfileID, a.ScheduledAt, 0)) > 0 {
		return appointment.ErrSlotConflict
	}
	t.repo.nextID++
	a.ID = t.repo.nextID
	t.repo.rows[a.ID] = *a
	t.repo.byUUID[a.PublicID] = a.ID
	t.repo.Inserts++
	return nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return t.repo.lookup(id)
}

func (t *memoryTx) UpdateStatus(_ context.Context, a *appointment.Appointment, from appointment.Status) error {
	stored, ok := t.repo.rows[a.ID]
	if !ok || stored.DeletedAt != nil {
		return appointment.ErrAppointmentNotFound
	}
	if stored.Status != from {
		// mirrors the conditional UPDATE matching zero rows
		return &appointment.TransitionError{From: stored.Status, To: a.Status, Reason: "appointment was modified concurrently"}
	}
	if a.Status.IsActive() && len(t.activeAt(a.VetProfileID, a.ScheduledAt, a.ID)) > 0 {
		return appointment.ErrSlotConflict
	}
	t.repo.rows[a.ID] = *a
	return nil
}

func (t *memoryTx) SoftDelete(_ context.Context, id int64, at time.Time) error {
	a, ok := t.repo.rows[id]
	if !ok || a.DeletedAt != nil {
		return appointment.ErrAppointmentNotFound
	}
	a.DeletedAt = &at
	a.UpdatedAt = at
	t.repo.rows[id] = a
	return nil
}
