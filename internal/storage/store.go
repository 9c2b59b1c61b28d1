package storage

import (
	"context"
	"time"

	"github.com/example/mali-ride/internal/models"
)

// DriverStore persists driver records keyed by username.
type DriverStore interface {
	// ListDrivers returns drivers in registration order.
	ListDrivers(ctx context.Context) ([]models.Driver, error)
	GetDriver(ctx context.Context, username string) (models.Driver, error)
	CreateDriver(ctx context.Context, d models.Driver) error
	UpdateDriver(ctx context.Context, username string, u models.DriverUpdate) (models.Driver, error)
	// CompareAndSetStatus moves a driver from one status to another and fails
	// with models.ErrStatusConflict if the current status is not from.
	CompareAndSetStatus(ctx context.Context, username string, from, to models.DriverStatus) error
}

// TripStore persists trips. Trips are never deleted.
type TripStore interface {
	SaveTrip(ctx context.Context, t models.Trip) error
	GetTrip(ctx context.Context, id string) (models.Trip, error)
	// ListTrips returns trips newest first.
	ListTrips(ctx context.Context) ([]models.Trip, error)
	// CountDriverTripsSince counts confirmed and completed trips created at or after since.
	CountDriverTripsSince(ctx context.Context, username string, since time.Time) (int, error)
	UpdateTripStatus(ctx context.Context, id string, from, to models.TripStatus) error
	CancelTrip(ctx context.Context, c Cancellation) error
}

type Store interface {
	DriverStore
	TripStore
}

// Cancellation is written in one step: the trip moves out of confirmed and,
// for driver cancellations, the driver's rating and cancel count change with
// it. The driver write is guarded by the cancel count it was computed from.
type Cancellation struct {
	Trip   models.Trip
	Driver *models.Driver
}

func (c Cancellation) previousCancelCount() int {
	if c.Driver == nil {
		return 0
	}
	return c.Driver.CancelCount - 1
}

func tripStateError(id string, status models.TripStatus, op string) error {
	return &models.InvalidStateError{Entity: "trip", ID: id, State: string(status), Op: op}
}
