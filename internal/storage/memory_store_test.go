package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mali-ride/internal/models"
)

func testDriver(username string) models.Driver {
	return models.Driver{
		Username:       username,
		PINHash:        "$2a$10$hash",
		FirstName:      "Moussa",
		LastName:       "Keita",
		Loc:            models.MaliCities["Bamako"],
		Status:         models.DriverAvailable,
		City:           "Bamako",
		TransportType:  "Moto",
		PaymentMethods: []string{"Cash", "Orange Money"},
		Rating:         models.DefaultRating,
	}
}

func testTrip(id, driver string, created time.Time) models.Trip {
	return models.Trip{
		ID:                    id,
		DriverUsername:        driver,
		Pickup:                models.BamakoNeighborhoods["ACI 2000"],
		Dropoff:               models.BamakoNeighborhoods["Sogoniko"],
		DistanceMiles:         10,
		PriceXOF:              4000,
		PlatformCommissionXOF: 560,
		DriverEarningsXOF:     3440,
		CommissionPct:         14,
		Status:                models.TripConfirmed,
		RoutingProvider:       "haversine",
		CreatedAt:             created,
	}
}

func TestMemoryStoreDrivers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateDriver(ctx, testDriver("moussa")))
	require.NoError(t, s.CreateDriver(ctx, testDriver("awa")))
	err := s.CreateDriver(ctx, testDriver("moussa"))
	assert.ErrorIs(t, err, models.ErrDuplicate)

	list, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "moussa", list[0].Username)
	assert.Equal(t, "awa", list[1].Username)

	// returned values are copies
	list[0].PaymentMethods[0] = "changed"
	d, err := s.GetDriver(ctx, "moussa")
	require.NoError(t, err)
	assert.Equal(t, "Cash", d.PaymentMethods[0])

	_, err = s.GetDriver(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)

	bad := testDriver("")
	assert.ErrorIs(t, s.CreateDriver(ctx, bad), models.ErrInvalidInput)
}

func TestMemoryStoreUpdateDriverPartial(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateDriver(ctx, testDriver("moussa")))

	loc := models.BamakoNeighborhoods["Hamdallaye"]
	d, err := s.UpdateDriver(ctx, "moussa", models.DriverUpdate{Loc: &loc})
	require.NoError(t, err)
	assert.Equal(t, loc, d.Loc)
	assert.Equal(t, models.DriverAvailable, d.Status)

	off := models.DriverOffline
	d, err = s.UpdateDriver(ctx, "moussa", models.DriverUpdate{Status: &off})
	require.NoError(t, err)
	assert.Equal(t, models.DriverOffline, d.Status)
	assert.Equal(t, loc, d.Loc)

	_, err = s.UpdateDriver(ctx, "ghost", models.DriverUpdate{Status: &off})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStoreCompareAndSetStatusSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateDriver(ctx, testDriver("moussa")))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CompareAndSetStatus(ctx, "moussa", models.DriverAvailable, models.DriverBusy)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, models.ErrStatusConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(49), conflicts.Load())

	err := s.CompareAndSetStatus(ctx, "ghost", models.DriverAvailable, models.DriverBusy)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStoreTrips(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveTrip(ctx, testTrip("t1", "moussa", base)))
	require.NoError(t, s.SaveTrip(ctx, testTrip("t2", "moussa", base.Add(time.Hour))))
	require.NoError(t, s.SaveTrip(ctx, testTrip("t3", "awa", base.Add(2*time.Hour))))
	assert.ErrorIs(t, s.SaveTrip(ctx, testTrip("t1", "moussa", base)), models.ErrDuplicate)

	incomplete := testTrip("t4", "", base)
	assert.ErrorIs(t, s.SaveTrip(ctx, incomplete), models.ErrInvalidInput)

	list, err := s.ListTrips(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{list[0].ID, list[1].ID, list[2].ID})

	n, err := s.CountDriverTripsSince(ctx, "moussa", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.UpdateTripStatus(ctx, "t1", models.TripConfirmed, models.TripCompleted))
	err = s.UpdateTripStatus(ctx, "t1", models.TripConfirmed, models.TripCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.ErrorIs(t, s.UpdateTripStatus(ctx, "nope", models.TripConfirmed, models.TripCompleted), models.ErrNotFound)

	n, err = s.CountDriverTripsSince(ctx, "moussa", base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStoreCancelTripAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateDriver(ctx, testDriver("moussa")))
	now := time.Now().UTC()
	require.NoError(t, s.SaveTrip(ctx, testTrip("t1", "moussa", now)))

	trip := testTrip("t1", "moussa", now)
	trip.Status = models.TripCancelledByDriver
	trip.CancellationFeeXOF = 1400
	trip.PlatformCommissionXOF = 1400
	trip.DriverEarningsXOF = 0
	trip.CancelledAt = &now
	d := testDriver("moussa")
	d.Rating = 4.8
	d.CancelCount = 1

	require.NoError(t, s.CancelTrip(ctx, Cancellation{Trip: trip, Driver: &d}))

	got, err := s.GetTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelledByDriver, got.Status)
	assert.Equal(t, int64(1400), got.PlatformCommissionXOF)
	assert.Zero(t, got.DriverEarningsXOF)
	assert.NotNil(t, got.CancelledAt)
	gd, _ := s.GetDriver(ctx, "moussa")
	assert.Equal(t, 4.8, gd.Rating)
	assert.Equal(t, 1, gd.CancelCount)

	// second cancellation is rejected and leaves the driver untouched
	d2 := gd
	d2.Rating = 4.6
	d2.CancelCount = 2
	err = s.CancelTrip(ctx, Cancellation{Trip: trip, Driver: &d2})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	gd, _ = s.GetDriver(ctx, "moussa")
	assert.Equal(t, 4.8, gd.Rating)
	assert.Equal(t, 1, gd.CancelCount)
}

func TestMemoryStoreCancelTripStaleDriver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateDriver(ctx, testDriver("moussa")))
	now := time.Now().UTC()
	require.NoError(t, s.SaveTrip(ctx, testTrip("t1", "moussa", now)))

	trip := testTrip("t1", "moussa", now)
	trip.Status = models.TripCancelledByDriver
	d := testDriver("moussa")
	d.CancelCount = 5 // computed from a stale read

	err := s.CancelTrip(ctx, Cancellation{Trip: trip, Driver: &d})
	assert.ErrorIs(t, err, models.ErrStatusConflict)
	got, _ := s.GetTrip(ctx, "t1")
	assert.Equal(t, models.TripConfirmed, got.Status)

	err = s.CancelTrip(ctx, Cancellation{Trip: testTrip("missing", "moussa", now)})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
