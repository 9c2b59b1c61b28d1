package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mali-ride/internal/models"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestPublishLocation(t *testing.T) {
	loc, trips := &captureWriter{}, &captureWriter{}
	p := &KafkaProducer{locations: loc, trips: trips, timeout: time.Second}

	d := models.Driver{Username: "moussa", Loc: models.MaliCities["Mopti"], Status: models.DriverAvailable, City: "Mopti", Rating: 4.4}
	require.NoError(t, p.PublishLocation(context.Background(), LocationFromDriver(d, time.Unix(0, 0).UTC())))

	require.Len(t, loc.msgs, 1)
	assert.Empty(t, trips.msgs)
	assert.Equal(t, "moussa", string(loc.msgs[0].Key))
	var got LocationUpdate
	require.NoError(t, json.Unmarshal(loc.msgs[0].Value, &got))
	assert.Equal(t, d.Loc, got.Loc)
	assert.Equal(t, "Mopti", got.City)
	assert.NoError(t, got.Validate())
}

func TestPublishTripEvent(t *testing.T) {
	loc, trips := &captureWriter{}, &captureWriter{}
	p := &KafkaProducer{locations: loc, trips: trips, timeout: time.Second}
	trip := models.Trip{ID: "t-9", DriverUsername: "awa", Status: models.TripConfirmed, PriceXOF: 4000, PlatformCommissionXOF: 560, DriverEarningsXOF: 3440, RoutingProvider: "google"}

	require.NoError(t, p.PublishTripEvent(context.Background(), NewTripEvent(TripBooked, trip, time.Now())))
	require.Len(t, trips.msgs, 1)
	assert.Equal(t, "t-9", string(trips.msgs[0].Key))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(trips.msgs[0].Value, &raw))
	assert.Equal(t, "trip.booked", raw["type"])
	assert.Equal(t, float64(560), raw["platform_commission_xof"])

	trips.err = errors.New("leader not available")
	assert.Error(t, p.PublishTripEvent(context.Background(), NewTripEvent(TripCancelled, trip, time.Now())))

	require.NoError(t, p.Close())
	assert.True(t, loc.closed)
	assert.True(t, trips.closed)
}

func TestLocationUpdateValidate(t *testing.T) {
	assert.ErrorIs(t, LocationUpdate{Loc: models.MaliCities["Gao"]}.Validate(), models.ErrInvalidInput)
	assert.ErrorIs(t, LocationUpdate{Username: "x", Loc: models.Coord{Lat: 95}}.Validate(), models.ErrInvalidInput)
}
