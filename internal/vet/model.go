package vet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrProfileNotFound = errors.New("vet profile not found")

// TimeOfDay is a wall-clock offset in minutes from midnight. EndOfDay (24:00)
// is valid as a closing time.
type TimeOfDay int

const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds are ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	t := TimeOfDay(h*60 + m)
	if h < 0 || t > EndOfDay {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// FromClock returns the time of day of t in its own location.
func FromClock(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// On anchors t to the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, date.Location())
}

// Window is one recurring weekly opening window.
type Window struct {
	DayOfWeek        time.Weekday
	Open             TimeOfDay
	Close            TimeOfDay
	IsEmergencyHours bool
}

type Profile struct {
	ID                int64
	PublicID          uuid.UUID
	OwnerUserID       int64
	IsTwentyFourHours bool
	Windows           []Window
}

// WindowsOn returns the windows that apply on day. A 24-hour profile always
// yields a single full-day window regardless of configured rows.
func (p *Profile) WindowsOn(day time.Weekday) []Window {
	if p.IsTwentyFourHours {
		return []Window{{DayOfWeek: day, Open: 0, Close: EndOfDay}}
	}
	var out []Window
	for _, w := range p.Windows {
		if w.DayOfWeek == day {
			out = append(out, w)
		}
	}
	return out
}
