package appointment_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
	"github.com/princedwivedi2/pet-help-backend/internal/notify"
	"github.com/princedwivedi2/pet-help-backend/internal/testfixtures"
)

var allStatuses = []appointment.Status{
	appointment.StatusPending,
	appointment.StatusConfirmed,
	appointment.StatusCompleted,
	appointment.StatusCancelled,
	appointment.StatusNoShow,
}

func TestTransition_OwnerCancelsPending(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusPending, at(9, 0))

	got, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusCancelled, owner,
		appointment.TransitionOptions{Reason: "plans changed"})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if got.Status != appointment.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.CancelledBy == nil || *got.CancelledBy != ownerID {
		t.Fatalf("expected cancelled_by %d, got %v", ownerID, got.CancelledBy)
	}
	if got.CancellationReason == nil || *got.CancellationReason != "plans changed" {
		t.Fatalf("expected reason 'plans changed', got %v", got.CancellationReason)
	}

	stored, _ := h.repo.FindByPublicID(context.Background(), a.PublicID)
	if stored.Status != appointment.StatusCancelled || *stored.CancelledBy != ownerID {
		t.Fatalf("expected change to be persisted, got %+v", stored)
	}

	sent := h.dispatcher.Sent()
	if len(sent) != 1 || sent[0].Recipient != vetOwnerID || sent[0].Event != notify.EventAppointmentCancelled {
		t.Fatalf("expected vet to be told about the cancellation, got %+v", sent)
	}
	if sent[0].Payload["cancellation_reason"] != "plans changed" || sent[0].Payload["previous_status"] != "pending" {
		t.Fatalf("unexpected payload %+v", sent[0].Payload)
	}
}

func TestTransition_VetCompletesWithoutNotesKeepsNotes(t *testing.T) {
	h := newHarness(t)
	seeded := h.seed(appointment.StatusConfirmed, at(9, 0))
	a := h.repo.Put(func() appointment.Appointment {
		c := *seeded
		c.Notes = ptr("bring vaccination card")
		return c
	}())

	got, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusCompleted, vetSide, appointment.TransitionOptions{})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != appointment.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Notes == nil || *got.Notes != "bring vaccination card" {
		t.Fatalf("expected notes unchanged, got %v", got.Notes)
	}
	if got.CancelledBy != nil || got.CancellationReason != nil {
		t.Fatalf("cancellation fields must stay empty on completion")
	}

	sent := h.dispatcher.Sent()
	if len(sent) != 1 || sent[0].Recipient != ownerID || sent[0].Event != notify.EventAppointmentCompleted {
		t.Fatalf("expected owner to be notified, got %+v", sent)
	}
}

func TestTransition_CompleteWithNotes(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusConfirmed, at(9, 0))

	got, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusCompleted, vetSide,
		appointment.TransitionOptions{Notes: ptr("all good")})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Notes == nil || *got.Notes != "all good" {
		t.Fatalf("expected completion notes, got %v", got.Notes)
	}
}

func TestTransition_ConfirmAfterScheduledTimeFails(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusPending, at(9, 0))

	h.clock.Set(at(9, 0).Add(time.Minute))

	_, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusConfirmed, vetSide, appointment.TransitionOptions{})
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *appointment.TransitionError
	if !errors.As(err, &te) || !strings.Contains(te.Reason, "passed") {
		t.Fatalf("expected explanation about the passed time, got %v", err)
	}

	stored, _ := h.repo.FindByPublicID(context.Background(), a.PublicID)
	if stored.Status != appointment.StatusPending {
		t.Fatalf("expected status unchanged, got %s", stored.Status)
	}
}

func TestTransition_OwnerCannotConfirm(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusPending, at(9, 0))

	_, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusConfirmed, owner, appointment.TransitionOptions{})
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(h.dispatcher.Sent()) != 0 {
		t.Fatalf("rejected transitions must not notify")
	}
}

func TestTransition_TerminalStatusesNeverMove(t *testing.T) {
	actors := map[string]appointment.Actor{
		"owner":    owner,
		"vet":      vetSide,
		"admin":    admin,
		"stranger": stranger,
	}

	for _, from := range []appointment.Status{appointment.StatusCompleted, appointment.StatusCancelled, appointment.StatusNoShow} {
		for _, to := range allStatuses {
			for name, actor := range actors {
				t.Run(string(from)+"->"+string(to)+"/"+name, func(t *testing.T) {
					h := newHarness(t)
					a := h.seed(from, at(9, 0))

					_, err := h.svc.Transition(context.Background(), a.PublicID, to, actor,
						appointment.TransitionOptions{Reason: "because", Notes: ptr("n")})
					if !errors.Is(err, appointment.ErrInvalidTransition) {
						t.Fatalf("expected ErrInvalidTransition, got %v", err)
					}
					stored, _ := h.repo.FindByPublicID(context.Background(), a.PublicID)
					if stored.Status != from {
						t.Fatalf("expected %s to stay, got %s", from, stored.Status)
					}
				})
			}
		}
	}
}

func TestTransition_ActorMatrix(t *testing.T) {
	cases := []struct {
		from  appointment.Status
		to    appointment.Status
		actor appointment.Actor
		ok    bool
	}{
		{appointment.StatusPending, appointment.StatusConfirmed, vetSide, true},
		{appointment.StatusPending, appointment.StatusConfirmed, admin, true},
		{appointment.StatusPending, appointment.StatusConfirmed, owner, false},
		{appointment.StatusPending, appointment.StatusConfirmed, stranger, false},

		{appointment.StatusPending, appointment.StatusCancelled, owner, true},
		{appointment.StatusPending, appointment.StatusCancelled, vetSide, true},
		{appointment.StatusPending, appointment.StatusCancelled, admin, true},
		{appointment.StatusPending, appointment.StatusCancelled, stranger, false},

		{appointment.StatusPending, appointment.StatusCompleted, vetSide, false},
		{appointment.StatusPending, appointment.StatusNoShow, vetSide, false},
		{appointment.StatusPending, appointment.StatusPending, vetSide, false},

		{appointment.StatusConfirmed, appointment.StatusCompleted, vetSide, true},
		{appointment.StatusConfirmed, appointment.StatusCompleted, admin, true},
		{appointment.StatusConfirmed, appointment.StatusCompleted, owner, false},

		{appointment.StatusConfirmed, appointment.StatusCancelled, owner, true},
		{appointment.StatusConfirmed, appointment.StatusCancelled, vetSide, true},
		{appointment.StatusConfirmed, appointment.StatusCancelled, admin, true},
		{appointment.StatusConfirmed, appointment.StatusCancelled, stranger, false},

		{appointment.StatusConfirmed, appointment.StatusNoShow, vetSide, true},
		{appointment.StatusConfirmed, appointment.StatusNoShow, admin, true},
		{appointment.StatusConfirmed, appointment.StatusNoShow, owner, false},

		{appointment.StatusConfirmed, appointment.StatusPending, admin, false},
		{appointment.StatusConfirmed, appointment.StatusConfirmed, vetSide, false},
	}

	for _, tc := range cases {
		name := string(tc.from) + "->" + string(tc.to) + " by " + actorName(tc.actor)
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			a := h.seed(tc.from, at(9, 0))

			got, err := h.svc.Transition(context.Background(), a.PublicID, tc.to, tc.actor,
				appointment.TransitionOptions{Reason: "changed"})
			if tc.ok {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if got.Status != tc.to {
					t.Fatalf("expected %s, got %s", tc.to, got.Status)
				}
				return
			}
			if !errors.Is(err, appointment.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func actorName(a appointment.Actor) string {
	switch a {
	case owner:
		return "owner"
	case vetSide:
		return "vet"
	case admin:
		return "admin"
	}
	return "stranger"
}

func TestTransition_CancelRequiresReason(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusConfirmed, at(9, 0))

	_, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusCancelled, owner,
		appointment.TransitionOptions{Reason: "  "})
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_UnknownAppointment(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Transition(context.Background(), uuid.New(), appointment.StatusCancelled, owner,
		appointment.TransitionOptions{Reason: "x"})
	if !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestTransition_AdminNotifiesBothSides(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusConfirmed, at(9, 0))

	if _, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusNoShow, admin, appointment.TransitionOptions{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got := map[int64]string{}
	for _, n := range h.dispatcher.Sent() {
		got[n.Recipient] = n.Event
	}
	if len(got) != 2 || got[ownerID] != notify.EventAppointmentNoShow || got[vetOwnerID] != notify.EventAppointmentNoShow {
		t.Fatalf("expected owner and vet to be notified, got %+v", got)
	}
}

func TestTransition_VetConfirmNotifiesOwner(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusPending, at(9, 0))

	if _, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusConfirmed, vetSide, appointment.TransitionOptions{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	sent := h.dispatcher.Sent()
	if len(sent) != 1 || sent[0].Recipient != ownerID || sent[0].Event != notify.EventAppointmentConfirmed {
		t.Fatalf("expected owner to be notified, got %+v", sent)
	}
}

func TestTransition_NotificationFailureKeepsTransition(t *testing.T) {
	d := &testfixtures.Dispatcher{Err: testfixtures.ErrBoom}
	h := newHarness(t, func(deps *appointment.Deps) { deps.Notifier = d })
	a := h.seed(appointment.StatusPending, at(9, 0))

	got, err := h.svc.Transition(context.Background(), a.PublicID, appointment.StatusConfirmed, vetSide, appointment.TransitionOptions{})
	if err != nil {
		t.Fatalf("expected notification failure to be swallowed, got %v", err)
	}
	if got.Status != appointment.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
}

func TestTransition_ConcurrentRequestsApplyOnce(t *testing.T) {
	h := newHarness(t)
	a := h.seed(appointment.StatusConfirmed, at(9, 0))

	targets := []appointment.Status{appointment.StatusCompleted, appointment.StatusNoShow, appointment.StatusCancelled}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(to appointment.Status) {
			defer wg.Done()
			_, err := h.svc.Transition(context.Background(), a.PublicID, to, vetSide,
				appointment.TransitionOptions{Reason: "closing"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if !errors.Is(err, appointment.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}(targets[i%len(targets)])
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one transition to apply, got %d", successes)
	}
	if n := len(h.dispatcher.Sent()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
}

func TestTransitionError_Message(t *testing.T) {
	err := &appointment.TransitionError{From: appointment.StatusCompleted, To: appointment.StatusPending, Reason: "no"}
	if msg := err.Error(); !strings.Contains(msg, "completed") || !strings.Contains(msg, "pending") || !strings.Contains(msg, "no") {
		t.Fatalf("unexpected message %q", msg)
	}
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected TransitionError to unwrap to ErrInvalidTransition")
	}
}

func TestCapabilitiesOf(t *testing.T) {
	pending := &appointment.Appointment{OwnerID: ownerID, Status: appointment.StatusPending}
	confirmed := &appointment.Appointment{OwnerID: ownerID, Status: appointment.StatusConfirmed}
	cancelled := &appointment.Appointment{OwnerID: ownerID, Status: appointment.StatusCancelled}

	cases := []struct {
		name  string
		actor appointment.Actor
		appt  *appointment.Appointment
		want  appointment.Capabilities
	}{
		{
			name: "owner pending", actor: owner, appt: pending,
			want: appointment.Capabilities{IsOwner: true, CanView: true, CanCancel: true},
		},
		{
			name: "vet pending", actor: vetSide, appt: pending,
			want: appointment.Capabilities{IsVetSide: true, CanView: true, CanConfirm: true, CanCancel: true},
		},
		{
			name: "vet confirmed", actor: vetSide, appt: confirmed,
			want: appointment.Capabilities{IsVetSide: true, CanView: true, CanComplete: true, CanCancel: true, CanMarkNoShow: true},
		},
		{
			name: "admin cancelled", actor: admin, appt: cancelled,
			want: appointment.Capabilities{IsAdmin: true, CanView: true, CanArchive: true},
		},
		{
			name: "owner cancelled", actor: owner, appt: cancelled,
			want: appointment.Capabilities{IsOwner: true, CanView: true},
		},
		{
			name: "stranger", actor: stranger, appt: confirmed,
			want: appointment.Capabilities{},
		},
		{
			name: "anonymous never matches missing vet owner", actor: appointment.Actor{}, appt: &appointment.Appointment{Status: appointment.StatusPending},
			want: appointment.Capabilities{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vetOwner := vetOwnerID
			if tc.actor.UserID == 0 {
				vetOwner = 0
			}
			if got := appointment.CapabilitiesOf(tc.actor, tc.appt, vetOwner); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestArchive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := h.seed(appointment.StatusCompleted, at(9, 0))
	active := h.seed(appointment.StatusConfirmed, at(10, 0))

	if err := h.svc.Archive(ctx, done.PublicID, vetSide); !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected non-admin archive to be refused, got %v", err)
	}
	if err := h.svc.Archive(ctx, active.PublicID, admin); !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected active archive to be refused, got %v", err)
	}
	if err := h.svc.Archive(ctx, done.PublicID, admin); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if _, err := h.svc.Get(ctx, done.PublicID, admin); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected archived appointment to be hidden, got %v", err)
	}
	if _, err := h.svc.Transition(ctx, done.PublicID, appointment.StatusPending, admin, appointment.TransitionOptions{}); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected archived appointment to be not found, got %v", err)
	}
	if err := h.svc.Archive(ctx, done.PublicID, admin); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected second archive to report not found, got %v", err)
	}

	page, err := h.svc.ListForOwner(ctx, ownerID, nil, appointment.PageRequest{})
	if err != nil {
		t.Fatalf("ListForOwner: %v", err)
	}
	if page.Total != 1 || page.Items[0].PublicID != active.PublicID {
		t.Fatalf("expected only the active appointment to be listed, got %+v", page)
	}
}

func TestTransition_TerminalStatusFreesCachedSlot(t *testing.T) {
	cases := []struct {
		name  string
		from  appointment.Status
		to    appointment.Status
		actor appointment.Actor
		opts  appointment.TransitionOptions
	}{
		{"owner cancels", appointment.StatusPending, appointment.StatusCancelled, owner, appointment.TransitionOptions{Reason: "plans changed"}},
		{"vet completes", appointment.StatusConfirmed, appointment.StatusCompleted, vetSide, appointment.TransitionOptions{}},
		{"vet records no-show", appointment.StatusConfirmed, appointment.StatusNoShow, vetSide, appointment.TransitionOptions{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			a := h.seed(tc.from, at(11, 30))

			primed, err := h.svc.ListAvailableSlots(ctx, h.vet.PublicID, testfixtures.Monday)
			if err != nil {
				t.Fatalf("ListAvailableSlots: %v", err)
			}
			if slices.Contains(primed, "11:30") {
				t.Fatalf("expected 11:30 to be taken before the transition, got %v", primed)
			}

			if _, err := h.svc.Transition(ctx, a.PublicID, tc.to, tc.actor, tc.opts); err != nil {
				t.Fatalf("Transition: %v", err)
			}

			after, err := h.svc.ListAvailableSlots(ctx, h.vet.PublicID, testfixtures.Monday)
			if err != nil {
				t.Fatalf("ListAvailableSlots: %v", err)
			}
			if !slices.Contains(after, "11:30") || len(after) != 20 {
				t.Fatalf("expected 11:30 back in the listing after %s, got %v", tc.to, after)
			}
		})
	}
}

func TestTransition_ConfirmKeepsCachedSlotTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seed(appointment.StatusPending, at(11, 30))

	if _, err := h.svc.ListAvailableSlots(ctx, h.vet.PublicID, testfixtures.Monday); err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if _, err := h.svc.Transition(ctx, a.PublicID, appointment.StatusConfirmed, vetSide, appointment.TransitionOptions{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	slots, err := h.svc.ListAvailableSlots(ctx, h.vet.PublicID, testfixtures.Monday)
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if slices.Contains(slots, "11:30") {
		t.Fatalf("confirmed 11:30 listed as available: %v", slots)
	}
}
