package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
)

type handlers struct {
	svc *appointment.Service
	loc *time.Location
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, raw, h.loc)
}

func parsePage(r *http.Request) (appointment.PageRequest, error) {
	var p appointment.PageRequest
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("page must be an integer")
		}
		p.Page = n
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("per_page must be an integer")
		}
		p.PerPage = n
	}
	return p, nil
}

func parseStatusFilter(r *http.Request) (*appointment.Status, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	s, err := appointment.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	vetID, ok := parseUUIDParam(w, r, "vetID", "invalid_vet_id")
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_input", "scheduled_at is required")
		return
	}

	appt, err := h.svc.Create(r.Context(), actorFrom(r.Context()).UserID, vetID, appointment.CreateParams{
		ScheduledAt:     req.ScheduledAt,
		PetID:           req.PetID,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	vetID, ok := parseUUIDParam(w, r, "vetID", "invalid_vet_id")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	date, err := h.parseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), vetID, date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{VetID: vetID, Date: raw, Slots: slots})
}

func (h *handlers) listVetAppointments(w http.ResponseWriter, r *http.Request) {
	vetID, ok := parseUUIDParam(w, r, "vetID", "invalid_vet_id")
	if !ok {
		return
	}
	status, err := parseStatusFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}

	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := h.parseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
			return
		}
		date = &d
	}

	result, err := h.svc.ListForVet(r.Context(), vetID, actorFrom(r.Context()), status, date, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(result))
}

func (h *handlers) listMyAppointments(w http.ResponseWriter, r *http.Request) {
	status, err := parseStatusFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}

	result, err := h.svc.ListForOwner(r.Context(), actorFrom(r.Context()).UserID, status, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(result))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// transition handles the generic endpoint where the body names the target.
func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	to, err := appointment.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	h.applyTransition(w, r, to, req)
}

// transitionTo serves the fixed-target routes. The body is optional.
func (h *handlers) transitionTo(to appointment.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		h.applyTransition(w, r, to, req)
	}
}

func (h *handlers) applyTransition(w http.ResponseWriter, r *http.Request, to appointment.Status, req TransitionRequest) {
	id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.Transition(r.Context(), id, to, actorFrom(r.Context()), appointment.TransitionOptions{
		Reason: req.Reason,
		Notes:  req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) archiveAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}
	if err := h.svc.Archive(r.Context(), id, actorFrom(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
