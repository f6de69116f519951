package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BookingsCreated counts appointments committed in pending state.
	BookingsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appointments_booked_total",
		Help: "Total number of appointments successfully booked.",
	})

	// SlotConflicts counts create attempts rejected because the slot was taken.
	SlotConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appointments_slot_conflicts_total",
		Help: "Total number of booking attempts rejected with a slot conflict.",
	})

	// Transitions counts committed status changes.
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointments_transitions_total",
			Help: "Total number of appointment status transitions.",
		},
		[]string{"from", "to"},
	)

	// NotificationFailures counts dispatches that failed or panicked.
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointments_notification_failures_total",
			Help: "Total number of notification dispatches that failed.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(BookingsCreated, SlotConflicts, Transitions, NotificationFailures)
}
