package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects NaN/Inf and out-of-range WGS84 degrees.
func (c Coord) Validate() error {
	switch {
	case math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0):
		return &InputError{Field: "lat", Reason: "not a finite number"}
	case math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0):
		return &InputError{Field: "lon", Reason: "not a finite number"}
	case c.Lat < -90 || c.Lat > 90:
		return &InputError{Field: "lat", Reason: fmt.Sprintf("%f outside [-90, 90]", c.Lat)}
	case c.Lon < -180 || c.Lon > 180:
		return &InputError{Field: "lon", Reason: fmt.Sprintf("%f outside [-180, 180]", c.Lon)}
	}
	return nil
}

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
)

// ParseDriverStatus accepts the canonical values and the display labels
// older records were written with ("Available", "Busy", "Offline").
func ParseDriverStatus(s string) (DriverStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available":
		return DriverAvailable, nil
	case "busy", "ontrip", "on_trip":
		return DriverBusy, nil
	case "offline":
		return DriverOffline, nil
	}
	return "", &InputError{Field: "status", Reason: fmt.Sprintf("unknown driver status %q", s)}
}

const (
	DefaultRating = 5.0
	MinRating     = 1.0
)

type Driver struct {
	Username       string       `json:"username"`
	PINHash        string       `json:"pin_hash,omitempty"`
	FirstName      string       `json:"first_name"`
	LastName       string       `json:"last_name"`
	Age            int          `json:"age,omitempty"`
	Loc            Coord        `json:"loc"`
	Status         DriverStatus `json:"status"`
	City           string       `json:"city"`
	TransportType  string       `json:"transport_type"`
	PaymentMethods []string     `json:"payment_methods"`
	Rating         float64      `json:"rating"`
	CancelCount    int          `json:"cancel_count"`
	// WeeklyTrips overrides the rolling trip count used for commission tiers.
	WeeklyTrips *int      `json:"weekly_trips,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d Driver) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

func (d Driver) Validate() error {
	if strings.TrimSpace(d.Username) == "" {
		return &InputError{Field: "username", Reason: "required"}
	}
	if strings.TrimSpace(d.FirstName) == "" {
		return &InputError{Field: "first_name", Reason: "required"}
	}
	if strings.TrimSpace(d.LastName) == "" {
		return &InputError{Field: "last_name", Reason: "required"}
	}
	if d.PINHash == "" {
		return &InputError{Field: "pin", Reason: "required"}
	}
	if _, err := ParseDriverStatus(string(d.Status)); err != nil {
		return err
	}
	if d.Rating < MinRating || d.Rating > DefaultRating {
		return &InputError{Field: "rating", Reason: fmt.Sprintf("%.2f outside [1, 5]", d.Rating)}
	}
	if d.CancelCount < 0 {
		return &InputError{Field: "cancel_count", Reason: "negative"}
	}
	return d.Loc.Validate()
}

// DriverUpdate is a partial update; nil fields are left untouched.
type DriverUpdate struct {
	Status      *DriverStatus
	Loc         *Coord
	Rating      *float64
	CancelCount *int
}

type TripStatus string

const (
	TripConfirmed            TripStatus = "confirmed"
	TripCancelledByPassenger TripStatus = "cancelled_by_passenger"
	TripCancelledByDriver    TripStatus = "cancelled_by_driver"
	TripCompleted            TripStatus = "completed"
)

type Trip struct {
	ID                    string     `json:"id"`
	DriverUsername        string     `json:"driver_username"`
	DriverName            string     `json:"driver_name,omitempty"`
	PassengerName         string     `json:"passenger_name,omitempty"`
	Pickup                Coord      `json:"pickup"`
	Dropoff               Coord      `json:"dropoff"`
	DistanceMiles         float64    `json:"distance_miles"`
	PriceXOF              int64      `json:"price_xof"`
	PlatformCommissionXOF int64      `json:"platform_commission_xof"`
	DriverEarningsXOF     int64      `json:"driver_earnings_xof"`
	CommissionPct         int        `json:"platform_pct"`
	CancellationFeeXOF    int64      `json:"cancellation_fee_xof"`
	PromoCode             string     `json:"promo_code,omitempty"`
	DiscountXOF           int64      `json:"discount_xof"`
	Status                TripStatus `json:"status"`
	City                  string     `json:"city,omitempty"`
	RouteMode             string     `json:"route_mode,omitempty"`
	RoutingProvider       string     `json:"routing_provider"`
	OriginLabel           string     `json:"origin_label,omitempty"`
	DestinationLabel      string     `json:"destination_label,omitempty"`
	PaymentIntentID       string     `json:"payment_intent_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
}

func (t Trip) IsTerminal() bool {
	return t.Status != TripConfirmed
}

func (t Trip) RouteSummary() string {
	return t.OriginLabel + " → " + t.DestinationLabel
}

func (t Trip) Validate() error {
	if t.ID == "" {
		return &InputError{Field: "id", Reason: "required"}
	}
	if t.DriverUsername == "" {
		return &InputError{Field: "driver_username", Reason: "required"}
	}
	if t.Status == "" {
		return &InputError{Field: "status", Reason: "required"}
	}
	if t.CreatedAt.IsZero() {
		return &InputError{Field: "created_at", Reason: "required"}
	}
	if t.DistanceMiles < 0 || math.IsNaN(t.DistanceMiles) {
		return &InputError{Field: "distance_miles", Reason: "must be a non-negative number"}
	}
	if t.PriceXOF < 0 {
		return &InputError{Field: "price_xof", Reason: "negative"}
	}
	if err := t.Pickup.Validate(); err != nil {
		return err
	}
	return t.Dropoff.Validate()
}
