package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
)

type CreateAppointmentRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at"`
	PetID           *int64    `json:"pet_id,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Reason          string    `json:"reason"`
	Notes           *string   `json:"notes,omitempty"`
}

type TransitionRequest struct {
	Status string  `json:"status"`
	Reason string  `json:"reason,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	OwnerUserID        int64      `json:"owner_user_id"`
	VetProfileID       int64      `json:"vet_profile_id"`
	PetID              *int64     `json:"pet_id,omitempty"`
	Status             string     `json:"status"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Reason             string     `json:"reason"`
	Notes              *string    `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledBy        *int64     `json:"cancelled_by,omitempty"`
	PaymentStatus      string     `json:"payment_status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

type AppointmentListResponse struct {
	Items   []AppointmentResponse `json:"items"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
	Total   int                   `json:"total"`
}

type SlotsResponse struct {
	VetID uuid.UUID `json:"vet_id"`
	Date  string    `json:"date"`
	Slots []string  `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.PublicID,
		OwnerUserID:        a.OwnerID,
		VetProfileID:       a.VetProfileID,
		PetID:              a.PetID,
		Status:             string(a.Status),
		ScheduledAt:        a.ScheduledAt,
		DurationMinutes:    a.DurationMinutes,
		Reason:             a.Reason,
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		PaymentStatus:      string(a.PaymentStatus),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		DeletedAt:          a.DeletedAt,
	}
}

func toListResponse(p appointment.Page) AppointmentListResponse {
	items := make([]AppointmentResponse, 0, len(p.Items))
	for i := range p.Items {
		items = append(items, toAppointmentResponse(&p.Items[i]))
	}
	return AppointmentListResponse{Items: items, Page: p.Page, PerPage: p.PerPage, Total: p.Total}
}
