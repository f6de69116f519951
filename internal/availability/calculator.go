package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

const (
	// SlotStep is the fixed grid on which candidate start times are generated.
	SlotStep = 30 * time.Minute
	// DefaultDuration is the appointment length assumed when listing slots.
	DefaultDuration = 30 * time.Minute
)

// BookedSource reports start times of active (pending or confirmed)
// appointments for a vet within [from, to).
type BookedSource interface {
	ActiveStartTimes(ctx context.Context, vetProfileID int64, from, to time.Time) ([]time.Time, error)
}

type Calculator struct {
	booked BookedSource
	loc    *time.Location
}

func NewCalculator(booked BookedSource, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{booked: booked, loc: loc}
}

// DayStart returns local midnight of date's calendar day in the clinic zone.
func (c *Calculator) DayStart(date time.Time) time.Time {
	y, m, d := date.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Slots lists the free start times for profile on date using DefaultDuration.
func (c *Calculator) Slots(ctx context.Context, profile *vet.Profile, date time.Time) ([]vet.TimeOfDay, error) {
	return c.SlotsFor(ctx, profile, date, DefaultDuration)
}

// SlotsFor lists the free start times for an appointment of the given length.
// The result is ascending and free of duplicates.
func (c *Calculator) SlotsFor(ctx context.Context, profile *vet.Profile, date time.Time, duration time.Duration) ([]vet.TimeOfDay, error) {
	day := c.DayStart(date)
	windows := profile.WindowsOn(day.Weekday())
	if len(windows) == 0 {
		return []vet.TimeOfDay{}, nil
	}

	candidates := Candidates(windows, duration, SlotStep)
	if len(candidates) == 0 {
		return candidates, nil
	}

	booked, err := c.booked.ActiveStartTimes(ctx, profile.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load booked start times: %w", err)
	}
	taken := make(map[int64]struct{}, len(booked))
	for _, b := range booked {
		taken[b.Unix()] = struct{}{}
	}

	free := make([]vet.TimeOfDay, 0, len(candidates))
	for _, tod := range candidates {
		start := tod.On(day)
		// skipped by a daylight saving jump; time.Date moved it to a later hour
		if vet.FromClock(start) != tod {
			continue
		}
		if _, ok := taken[start.Unix()]; ok {
			continue
		}
		free = append(free, tod)
	}
	return free, nil
}

// Candidates steps through every window from its opening time while a slot of
// the given duration still fits before closing. Overlapping windows are merged
// so each start time appears once.
func Candidates(windows []vet.Window, duration, step time.Duration) []vet.TimeOfDay {
	if duration <= 0 || step < time.Minute {
		return []vet.TimeOfDay{}
	}

	seen := make(map[vet.TimeOfDay]struct{})
	out := []vet.TimeOfDay{}
	for _, w := range windows {
		for start := w.Open; start.Add(duration) <= w.Close; start = start.Add(step) {
			if _, ok := seen[start]; ok {
				continue
			}
			seen[start] = struct{}{}
			out = append(out, start)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Format renders slots as "HH:MM" strings.
func Format(slots []vet.TimeOfDay) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	return out
}
