package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether the status holds its slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// ParseStatus accepts the stored names plus "no-show" as used in URLs.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

const (
	DefaultDurationMinutes = 30
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 120
)

type Appointment struct {
	ID                 int64
	PublicID           uuid.UUID
	OwnerID            int64
	VetProfileID       int64
	PetID              *int64
	Status             Status
	ScheduledAt        time.Time
	DurationMinutes    int
	Reason             string
	Notes              *string
	CancellationReason *string
	CancelledBy        *int64
	PaymentStatus      PaymentStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller. Authentication happens upstream; this
// package only decides what the actor may do.
type Actor struct {
	UserID int64
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type CreateParams struct {
	ScheduledAt     time.Time
	PetID           *int64
	DurationMinutes int // 0 means DefaultDurationMinutes
	Reason          string
	Notes           *string
}

type TransitionOptions struct {
	Reason string  // cancellation reason
	Notes  *string // completion notes, nil leaves notes unchanged
}

// ListQuery filters a listing. From/To bound scheduled_at as [From, To).
type ListQuery struct {
	Status *Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type PageRequest struct {
	Page    int
	PerPage int
}

type Page struct {
	Items   []Appointment
	Page    int
	PerPage int
	Total   int
}
