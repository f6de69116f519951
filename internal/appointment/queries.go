package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/princedwivedi2/pet-help-backend/internal/availability"
	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

// Get returns the appointment if actor may see it. Appointments the actor has
// no part in are reported as not found.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	a, err := s.repo.FindByPublicID(ctx, id)
	if err != nil {
		return nil, err
	}
	vetOwner, err := s.vetOwnerOf(ctx, a.VetProfileID)
	if err != nil {
		return nil, err
	}
	if !CapabilitiesOf(actor, a, vetOwner).CanView {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

func (s *Service) normalizePage(p PageRequest) PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = s.cfg.DefaultPageSize
	}
	if p.PerPage > s.cfg.MaxPageSize {
		p.PerPage = s.cfg.MaxPageSize
	}
	return p
}

func (p PageRequest) query(status *Status) ListQuery {
	return ListQuery{
		Status: status,
		Limit:  p.PerPage,
		Offset: (p.Page - 1) * p.PerPage,
	}
}

// ListForOwner pages through ownerID's appointments, newest scheduled first.
func (s *Service) ListForOwner(ctx context.Context, ownerID int64, status *Status, page PageRequest) (Page, error) {
	page = s.normalizePage(page)

	items, total, err := s.repo.ListForOwner(ctx, ownerID, page.query(status))
	if err != nil {
		return Page{}, fmt.Errorf("list appointments by owner: %w", err)
	}
	return Page{Items: items, Page: page.Page, PerPage: page.PerPage, Total: total}, nil
}

// ListForVet pages through a vet's appointments, optionally restricted to one
// clinic-local day. Only the vet-side user and administrators may list them.
func (s *Service) ListForVet(ctx context.Context, vetPublicID uuid.UUID, actor Actor, status *Status, date *time.Time, page PageRequest) (Page, error) {
	profile, err := s.vets.ByPublicID(ctx, vetPublicID)
	if err != nil {
		return Page{}, fmt.Errorf("load vet profile: %w", err)
	}
	if !actor.IsAdmin() && (actor.UserID == 0 || actor.UserID != profile.OwnerUserID) {
		return Page{}, vet.ErrProfileNotFound
	}

	page = s.normalizePage(page)
	q := page.query(status)
	if date != nil {
		from := s.calc.DayStart(*date)
		to := from.AddDate(0, 0, 1)
		q.From, q.To = &from, &to
	}

	items, total, err := s.repo.ListForVet(ctx, profile.ID, q)
	if err != nil {
		return Page{}, fmt.Errorf("list appointments by vet: %w", err)
	}
	return Page{Items: items, Page: page.Page, PerPage: page.PerPage, Total: total}, nil
}

// ListAvailableSlots returns the free "HH:MM" start times for a vet on date's
// clinic-local day. Results may be served from the slot cache.
func (s *Service) ListAvailableSlots(ctx context.Context, vetPublicID uuid.UUID, date time.Time) (_ []string, err error) {
	ctx, span := tracer.Start(ctx, "appointment.ListAvailableSlots")
	defer func() { endSpan(span, err) }()

	profile, err := s.vets.ByPublicID(ctx, vetPublicID)
	if err != nil {
		return nil, fmt.Errorf("load vet profile: %w", err)
	}

	key := s.slotDate(date)
	// The generation is read before the booked start times, so a write that
	// commits in between invalidates past this result and the Set below is
	// never served.
	var gen int64
	cacheable := s.cache != nil
	if cacheable {
		slots, g, ok, err := s.cache.Get(ctx, profile.ID, key)
		switch {
		case err != nil:
			s.log(ctx).Warn().Err(err).Int64("vet_profile_id", profile.ID).Msg("slot cache read failed")
			cacheable = false
		case ok:
			return slots, nil
		}
		gen = g
	}

	free, err := s.calc.Slots(ctx, profile, date)
	if err != nil {
		return nil, fmt.Errorf("compute slots: %w", err)
	}
	slots := availability.Format(free)

	if cacheable {
		if err := s.cache.Set(ctx, profile.ID, key, gen, slots); err != nil {
			s.log(ctx).Warn().Err(err).Int64("vet_profile_id", profile.ID).Msg("slot cache write failed")
		}
	}
	return slots, nil
}
