package testfixtures

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/princedwivedi2/pet-help-backend/internal/redis"
	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

// Monday is a Monday far enough ahead that fixtures never fall in the past.
var Monday = time.Date(2030, time.January, 7, 0, 0, 0, 0, time.UTC)

// Directory is a static vet.Directory.
type Directory struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*vet.Profile
}

func NewDirectory(profiles ...*vet.Profile) *Directory {
	d := &Directory{profiles: make(map[uuid.UUID]*vet.Profile)}
	for _, p := range profiles {
		d.Add(p)
	}
	return d
}

func (d *Directory) Add(p *vet.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.PublicID == uuid.Nil {
		p.PublicID = uuid.New()
	}
	d.profiles[p.PublicID] = p
}

func (d *Directory) ByPublicID(_ context.Context, id uuid.UUID) (*vet.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[id]
	if !ok {
		return nil, vet.ErrProfileNotFound
	}
	return p, nil
}

func (d *Directory) ByID(_ context.Context, id int64) (*vet.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, vet.ErrProfileNotFound
}

// WeekdayVet opens Monday to Friday 08:00-18:00.
func WeekdayVet(id, ownerUserID int64) *vet.Profile {
	p := &vet.Profile{ID: id, PublicID: uuid.New(), OwnerUserID: ownerUserID}
	for day := time.Monday; day <= time.Friday; day++ {
		p.Windows = append(p.Windows, vet.Window{DayOfWeek: day, Open: 8 * 60, Close: 18 * 60})
	}
	return p
}

// Notification is one recorded dispatch.
type Notification struct {
	Recipient int64
	Event     string
	Payload   map[string]any
}

// Dispatcher records notifications. Err is returned from every call; Panic
// makes every call panic instead.
type Dispatcher struct {
	mu    sync.Mutex
	sent  []Notification
	Err   error
	Panic bool
}

func (d *Dispatcher) Notify(_ context.Context, recipientUserID int64, eventType string, payload map[string]any) error {
	d.mu.Lock()
	d.sent = append(d.sent, Notification{Recipient: recipientUserID, Event: eventType, Payload: payload})
	d.mu.Unlock()

	if d.Panic {
		panic("dispatcher exploded")
	}
	return d.Err
}

func (d *Dispatcher) Sent() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.sent...)
}

// Locker is an in-process redisclient.Locker. Busy reports every key as held
// by someone else; Down simulates an unreachable backend.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
	Busy bool
	Down bool
}

func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.Down {
		l.mu.Unlock()
		return redisclient.ErrLockUnavailable
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.Busy || l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

// SlotCache is an in-memory appointment.SlotCache. A Set for a generation
// other than the current one is dropped.
type SlotCache struct {
	mu      sync.Mutex
	gens    map[string]int64
	entries map[string]cachedSlots
	Err     error
}

type cachedSlots struct {
	gen   int64
	slots []string
}

func cacheKey(vetProfileID int64, date string) string {
	return fmt.Sprintf("%d/%s", vetProfileID, date)
}

func (c *SlotCache) Get(_ context.Context, vetProfileID int64, date string) ([]string, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, 0, false, c.Err
	}
	k := cacheKey(vetProfileID, date)
	gen := c.gens[k]
	e, ok := c.entries[k]
	if !ok || e.gen != gen {
		return nil, gen, false, nil
	}
	return e.slots, gen, true, nil
}

func (c *SlotCache) Set(_ context.Context, vetProfileID int64, date string, gen int64, slots []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	k := cacheKey(vetProfileID, date)
	if gen != c.gens[k] {
		return nil
	}
	if c.entries == nil {
		c.entries = make(map[string]cachedSlots)
	}
	c.entries[k] = cachedSlots{gen: gen, slots: slots}
	return nil
}

func (c *SlotCache) Invalidate(_ context.Context, vetProfileID int64, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if c.gens == nil {
		c.gens = make(map[string]int64)
	}
	c.gens[cacheKey(vetProfileID, date)]++
	return nil
}

var ErrBoom = errors.New("boom")
