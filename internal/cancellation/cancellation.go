// Package cancellation prices a cancelled trip and penalises drivers who cancel.
package cancellation

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/money"
)

type Actor string

const (
	Passenger Actor = "passenger"
	Driver    Actor = "driver"
)

func ParseActor(s string) (Actor, error) {
	switch Actor(strings.ToLower(strings.TrimSpace(s))) {
	case Passenger:
		return Passenger, nil
	case Driver:
		return Driver, nil
	}
	return "", &models.InputError{Field: "actor", Reason: fmt.Sprintf("unknown actor %q", s)}
}

type Policy struct {
	PassengerFeePct int     `json:"passenger_fee_pct"`
	DriverFeePct    int     `json:"driver_fee_pct"`
	RatingPenalty   float64 `json:"rating_penalty"`
	RatingFloor     float64 `json:"rating_floor"`
}

func DefaultPolicy() Policy {
	return Policy{
		PassengerFeePct: 75,
		DriverFeePct:    35,
		RatingPenalty:   0.2,
		RatingFloor:     models.MinRating,
	}
}

func (p Policy) Validate() error {
	for name, pct := range map[string]int{"passenger_fee_pct": p.PassengerFeePct, "driver_fee_pct": p.DriverFeePct} {
		if pct < 0 || pct > 100 {
			return &models.InputError{Field: name, Reason: fmt.Sprintf("%d outside [0, 100]", pct)}
		}
	}
	if p.RatingPenalty < 0 {
		return &models.InputError{Field: "rating_penalty", Reason: "negative"}
	}
	if p.RatingFloor < 0 || p.RatingFloor > models.DefaultRating {
		return &models.InputError{Field: "rating_floor", Reason: fmt.Sprintf("%.2f outside [0, 5]", p.RatingFloor)}
	}
	return nil
}

// Outcome is the full post-cancellation state. Driver is nil when the
// passenger cancelled.
type Outcome struct {
	Trip   models.Trip
	Driver *models.Driver
	Fee    int64
}

// Apply computes the cancellation without side effects. The fee replaces the
// commission split: the platform keeps it and the driver earns nothing.
func (p Policy) Apply(trip models.Trip, driver *models.Driver, actor Actor) (Outcome, error) {
	if trip.Status != models.TripConfirmed {
		return Outcome{}, &models.InvalidStateError{Entity: "trip", ID: trip.ID, State: string(trip.Status), Op: "cancel"}
	}
	if trip.PriceXOF < 0 {
		return Outcome{}, &models.InputError{Field: "price_xof", Reason: "negative"}
	}

	var pct int
	var status models.TripStatus
	switch actor {
	case Passenger:
		pct, status = p.PassengerFeePct, models.TripCancelledByPassenger
	case Driver:
		if driver == nil {
			return Outcome{}, &models.InputError{Field: "driver", Reason: "required for driver cancellation"}
		}
		if driver.Username != trip.DriverUsername {
			return Outcome{}, &models.InputError{Field: "driver", Reason: fmt.Sprintf("%s is not assigned to trip %s", driver.Username, trip.ID)}
		}
		pct, status = p.DriverFeePct, models.TripCancelledByDriver
	default:
		return Outcome{}, &models.InputError{Field: "actor", Reason: fmt.Sprintf("unknown actor %q", actor)}
	}

	fee := max(money.Percent(trip.PriceXOF, int64(pct)), 0)
	trip.Status = status
	trip.CancellationFeeXOF = fee
	trip.PlatformCommissionXOF = fee
	trip.DriverEarningsXOF = 0

	out := Outcome{Trip: trip, Fee: fee}
	if actor == Driver {
		d := *driver
		d.Rating = p.penalise(d.Rating)
		d.CancelCount++
		out.Driver = &d
	}
	return out, nil
}

// penalise never raises a rating, even one already below the floor.
func (p Policy) penalise(rating float64) float64 {
	r := math.Round((rating-p.RatingPenalty)*100) / 100
	return math.Min(rating, math.Max(p.RatingFloor, r))
}
