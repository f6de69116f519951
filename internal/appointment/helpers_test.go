package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
	"github.com/princedwivedi2/pet-help-backend/internal/clock"
	"github.com/princedwivedi2/pet-help-backend/internal/config"
	redisclient "github.com/princedwivedi2/pet-help-backend/internal/redis"
	"github.com/princedwivedi2/pet-help-backend/internal/testfixtures"
	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

const (
	ownerID    int64 = 100
	vetOwnerID int64 = 200
	strangerID int64 = 300
	adminID    int64 = 1
)

var (
	owner    = appointment.Actor{UserID: ownerID, Role: appointment.RoleUser}
	vetSide  = appointment.Actor{UserID: vetOwnerID, Role: appointment.RoleUser}
	stranger = appointment.Actor{UserID: strangerID, Role: appointment.RoleUser}
	admin    = appointment.Actor{UserID: adminID, Role: appointment.RoleAdmin}

	// start of the test clock, a week before testfixtures.Monday
	testNow = time.Date(2029, time.December, 31, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	svc        *appointment.Service
	repo       *testfixtures.MemoryRepository
	vets       *testfixtures.Directory
	dispatcher *testfixtures.Dispatcher
	cache      *testfixtures.SlotCache
	clock      *clock.Manual
	vet        *vet.Profile
}

type harnessOption func(*appointment.Deps)

func withLocker(l redisclient.Locker) harnessOption {
	return func(d *appointment.Deps) { d.Locker = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		repo:       testfixtures.NewMemoryRepository(),
		dispatcher: &testfixtures.Dispatcher{},
		cache:      &testfixtures.SlotCache{},
		clock:      clock.NewManual(testNow),
		vet:        testfixtures.WeekdayVet(10, vetOwnerID),
	}
	h.vets = testfixtures.NewDirectory(h.vet)

	deps := appointment.Deps{
		Repo:     h.repo,
		Vets:     h.vets,
		Cache:    h.cache,
		Notifier: h.dispatcher,
		Clock:    h.clock,
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	cfg := config.Config{
		Timezone:        "UTC",
		NotifyTimeout:   time.Second,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	}
	h.svc = appointment.NewService(deps, cfg)
	return h
}

// at returns testfixtures.Monday at hh:mm UTC.
func at(hh, mm int) time.Time {
	return testfixtures.Monday.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func (h *harness) book(t *testing.T, when time.Time) *appointment.Appointment {
	t.Helper()
	a, err := h.svc.Create(context.Background(), ownerID, h.vet.PublicID, appointment.CreateParams{
		ScheduledAt: when,
		Reason:      "annual checkup",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

// seed stores an appointment for the harness vet in the given status.
func (h *harness) seed(status appointment.Status, when time.Time) *appointment.Appointment {
	return h.repo.Put(appointment.Appointment{
		PublicID:        uuid.New(),
		OwnerID:         ownerID,
		VetProfileID:    h.vet.ID,
		Status:          status,
		ScheduledAt:     when,
		DurationMinutes: 30,
		Reason:          "vaccination",
		PaymentStatus:   appointment.PaymentUnpaid,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	})
}

func ptr[T any](v T) *T { return &v }
