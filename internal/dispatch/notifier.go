// Package dispatch tells drivers about bookings and cancellations that
// concern them.
package dispatch

import (
	"context"
	"time"

	"github.com/example/mali-ride/internal/models"
)

const (
	KindBooked    = "trip.booked"
	KindCancelled = "trip.cancelled"
	KindCompleted = "trip.completed"
)

// Notification is the JSON body pushed to a driver.
type Notification struct {
	Kind               string            `json:"kind"`
	TripID             string            `json:"trip_id"`
	Driver             string            `json:"driver_username"`
	Status             models.TripStatus `json:"status"`
	Pickup             models.Coord      `json:"pickup"`
	Dropoff            models.Coord      `json:"dropoff"`
	PassengerName      string            `json:"passenger_name,omitempty"`
	PriceXOF           int64             `json:"price_xof"`
	DriverEarningsXOF  int64             `json:"driver_earnings_xof"`
	CancellationFeeXOF int64             `json:"cancellation_fee_xof,omitempty"`
	At                 time.Time         `json:"at"`
}

func NotificationFromTrip(kind string, t models.Trip, at time.Time) Notification {
	return Notification{
		Kind:               kind,
		TripID:             t.ID,
		Driver:             t.DriverUsername,
		Status:             t.Status,
		Pickup:             t.Pickup,
		Dropoff:            t.Dropoff,
		PassengerName:      t.PassengerName,
		PriceXOF:           t.PriceXOF,
		DriverEarningsXOF:  t.DriverEarningsXOF,
		CancellationFeeXOF: t.CancellationFeeXOF,
		At:                 at,
	}
}

type Notifier interface {
	Notify(ctx context.Context, username string, n Notification) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, Notification) error { return nil }
