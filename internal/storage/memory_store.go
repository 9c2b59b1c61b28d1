package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/mali-ride/internal/models"
)

// MemoryStore keeps everything in process. Used when no PG_DSN is set and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]*models.Driver
	order   []string
	trips   map[string]*models.Trip
	seq     []string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers: make(map[string]*models.Driver),
		trips:   make(map[string]*models.Trip),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func copyDriver(d *models.Driver) models.Driver {
	out := *d
	out.PaymentMethods = slices.Clone(d.PaymentMethods)
	if d.WeeklyTrips != nil {
		w := *d.WeeklyTrips
		out.WeeklyTrips = &w
	}
	return out
}

func (m *MemoryStore) ListDrivers(_ context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, copyDriver(m.drivers[u]))
	}
	return out, nil
}

func (m *MemoryStore) GetDriver(_ context.Context, username string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[username]
	if !ok {
		return models.Driver{}, &models.NotFoundError{Kind: "driver", Key: username}
	}
	return copyDriver(d), nil
}

func (m *MemoryStore) CreateDriver(_ context.Context, d models.Driver) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.Username]; ok {
		return &models.DuplicateEntityError{Kind: "driver", Key: d.Username}
	}
	c := copyDriver(&d)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	c.UpdatedAt = c.CreatedAt
	m.drivers[d.Username] = &c
	m.order = append(m.order, d.Username)
	return nil
}

func (m *MemoryStore) UpdateDriver(_ context.Context, username string, u models.DriverUpdate) (models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[username]
	if !ok {
		return models.Driver{}, &models.NotFoundError{Kind: "driver", Key: username}
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Loc != nil {
		d.Loc = *u.Loc
	}
	if u.Rating != nil {
		d.Rating = *u.Rating
	}
	if u.CancelCount != nil {
		d.CancelCount = *u.CancelCount
	}
	d.UpdatedAt = m.now()
	return copyDriver(d), nil
}

func (m *MemoryStore) CompareAndSetStatus(_ context.Context, username string, from, to models.DriverStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[username]
	if !ok {
		return &models.NotFoundError{Kind: "driver", Key: username}
	}
	if d.Status != from {
		return fmt.Errorf("driver %s is %s, not %s: %w", username, d.Status, from, models.ErrStatusConflict)
	}
	d.Status = to
	d.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) SaveTrip(_ context.Context, t models.Trip) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return &models.DuplicateEntityError{Kind: "trip", Key: t.ID}
	}
	m.trips[t.ID] = &t
	m.seq = append(m.seq, t.ID)
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, &models.NotFoundError{Kind: "trip", Key: id}
	}
	return *t, nil
}

func (m *MemoryStore) ListTrips(_ context.Context) ([]models.Trip, error) {
	m.mu.RLock()
	out := make([]models.Trip, 0, len(m.seq))
	for i := len(m.seq) - 1; i >= 0; i-- {
		out = append(out, *m.trips[m.seq[i]])
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountDriverTripsSince(_ context.Context, username string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.trips {
		if t.DriverUsername != username || t.CreatedAt.Before(since) {
			continue
		}
		if t.Status == models.TripConfirmed || t.Status == models.TripCompleted {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateTripStatus(_ context.Context, id string, from, to models.TripStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return &models.NotFoundError{Kind: "trip", Key: id}
	}
	if t.Status != from {
		return tripStateError(id, t.Status, "move to "+string(to))
	}
	t.Status = to
	return nil
}

func (m *MemoryStore) CancelTrip(_ context.Context, c Cancellation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[c.Trip.ID]
	if !ok {
		return &models.NotFoundError{Kind: "trip", Key: c.Trip.ID}
	}
	if t.Status != models.TripConfirmed {
		return tripStateError(t.ID, t.Status, "cancel")
	}
	var d *models.Driver
	if c.Driver != nil {
		d, ok = m.drivers[c.Driver.Username]
		if !ok {
			return &models.NotFoundError{Kind: "driver", Key: c.Driver.Username}
		}
		if d.CancelCount != c.previousCancelCount() {
			return fmt.Errorf("driver %s changed during cancellation: %w", d.Username, models.ErrStatusConflict)
		}
	}

	t.Status = c.Trip.Status
	t.CancellationFeeXOF = c.Trip.CancellationFeeXOF
	t.PlatformCommissionXOF = c.Trip.PlatformCommissionXOF
	t.DriverEarningsXOF = c.Trip.DriverEarningsXOF
	t.CancelledAt = c.Trip.CancelledAt
	if d != nil {
		d.Rating = c.Driver.Rating
		d.CancelCount = c.Driver.CancelCount
		d.UpdatedAt = m.now()
	}
	return nil
}
