package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/mali-ride/internal/models"
)

const (
	DefaultLocationTopic = "driver-locations"
	DefaultTripTopic     = "trip-events"
)

// LocationUpdate is the message carried on the location topic.
type LocationUpdate struct {
	Username string              `json:"username"`
	Loc      models.Coord        `json:"loc"`
	Status   models.DriverStatus `json:"status,omitempty"`
	City     string              `json:"city,omitempty"`
	Rating   float64             `json:"rating,omitempty"`
	At       time.Time           `json:"at"`
}

func (u LocationUpdate) Validate() error {
	if u.Username == "" {
		return &models.InputError{Field: "username", Reason: "required"}
	}
	return u.Loc.Validate()
}

func LocationFromDriver(d models.Driver, at time.Time) LocationUpdate {
	return LocationUpdate{Username: d.Username, Loc: d.Loc, Status: d.Status, City: d.City, Rating: d.Rating, At: at}
}

type TripEventType string

const (
	TripBooked    TripEventType = "trip.booked"
	TripCancelled TripEventType = "trip.cancelled"
	TripCompleted TripEventType = "trip.completed"
)

type TripEvent struct {
	Type                  TripEventType     `json:"type"`
	TripID                string            `json:"trip_id"`
	DriverUsername        string            `json:"driver_username"`
	Status                models.TripStatus `json:"status"`
	PriceXOF              int64             `json:"price_xof"`
	PlatformCommissionXOF int64             `json:"platform_commission_xof"`
	DriverEarningsXOF     int64             `json:"driver_earnings_xof"`
	CancellationFeeXOF    int64             `json:"cancellation_fee_xof,omitempty"`
	RoutingProvider       string            `json:"routing_provider"`
	At                    time.Time         `json:"at"`
}

func NewTripEvent(typ TripEventType, t models.Trip, at time.Time) TripEvent {
	return TripEvent{
		Type:                  typ,
		TripID:                t.ID,
		DriverUsername:        t.DriverUsername,
		Status:                t.Status,
		PriceXOF:              t.PriceXOF,
		PlatformCommissionXOF: t.PlatformCommissionXOF,
		DriverEarningsXOF:     t.DriverEarningsXOF,
		CancellationFeeXOF:    t.CancellationFeeXOF,
		RoutingProvider:       t.RoutingProvider,
		At:                    at,
	}
}

// Publisher is what the services depend on.
type Publisher interface {
	PublishLocation(ctx context.Context, u LocationUpdate) error
	PublishTripEvent(ctx context.Context, e TripEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	locations messageWriter
	trips     messageWriter
	timeout   time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, tripTopic string) *KafkaProducer {
	if locationTopic == "" {
		locationTopic = DefaultLocationTopic
	}
	if tripTopic == "" {
		tripTopic = DefaultTripTopic
	}
	return &KafkaProducer{
		locations: &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: locationTopic, Balancer: &kafka.LeastBytes{}},
		trips:     &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: tripTopic, Balancer: &kafka.Hash{}},
		timeout:   2 * time.Second,
	}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, u LocationUpdate) error {
	return k.write(ctx, k.locations, u.Username, u)
}

// PublishTripEvent keys by trip id so all events for a trip land on one partition.
func (k *KafkaProducer) PublishTripEvent(ctx context.Context, e TripEvent) error {
	return k.write(ctx, k.trips, e.TripID, e)
}

func (k *KafkaProducer) write(ctx context.Context, w messageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	var errs []error
	for _, w := range []messageWriter{k.locations, k.trips} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}

// NopPublisher drops everything. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishLocation(context.Context, LocationUpdate) error { return nil }
func (NopPublisher) PublishTripEvent(context.Context, TripEvent) error     { return nil }
