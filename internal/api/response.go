package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
	"github.com/princedwivedi2/pet-help-backend/internal/logging"
	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps domain errors to HTTP responses. Anything unexpected
// is logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var te *appointment.TransitionError
	switch {
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "the requested time is already booked, pick another slot")
	case errors.As(err, &te):
		writeError(w, http.StatusConflict, "invalid_transition", te.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, vet.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "vet_not_found", "vet profile not found")
	case errors.Is(err, appointment.ErrScheduledInPast):
		writeError(w, http.StatusBadRequest, "scheduled_in_past", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		l := logging.FromContext(r.Context(), zerolog.Nop())
		l.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
