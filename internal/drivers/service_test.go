package drivers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/ingest"
	"github.com/example/mali-ride/internal/matcher"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/storage"
)

type recordingPublisher struct {
	mu   sync.Mutex
	locs []ingest.LocationUpdate
	err  error
}

func (r *recordingPublisher) PublishLocation(_ context.Context, u ingest.LocationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locs = append(r.locs, u)
	return r.err
}

func (r *recordingPublisher) PublishTripEvent(context.Context, ingest.TripEvent) error { return nil }

func newService(t *testing.T) (*Service, *storage.MemoryStore, *geo.MemoryIndex, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	idx := geo.NewMemoryIndex()
	pub := &recordingPublisher{}
	s := NewService(store, nil, WithGeoIndex(idx), WithPublisher(pub), WithBcryptCost(bcrypt.MinCost))
	return s, store, idx, pub
}

func registration(username string) RegisterRequest {
	return RegisterRequest{
		Username:       username,
		PIN:            "1234",
		FirstName:      "Awa",
		LastName:       "Traoré",
		City:           "Ségou",
		TransportType:  "Taxi",
		PaymentMethods: []string{"Cash", "Wave"},
	}
}

func TestRegisterDefaults(t *testing.T) {
	s, store, idx, pub := newService(t)
	ctx := context.Background()

	d, err := s.Register(ctx, registration("awa"))
	require.NoError(t, err)
	assert.Empty(t, d.PINHash, "public view must not expose the hash")
	assert.Equal(t, models.DefaultRating, d.Rating)
	assert.Equal(t, models.DriverAvailable, d.Status)
	assert.Equal(t, models.MaliCities["Ségou"], d.Loc)

	stored, err := store.GetDriver(ctx, "awa")
	require.NoError(t, err)
	assert.NotEqual(t, "1234", stored.PINHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PINHash), []byte("1234")))

	near, _ := idx.Within(ctx, models.MaliCities["Ségou"], 1)
	assert.Equal(t, []string{"awa"}, near)
	require.Len(t, pub.locs, 1)
	assert.Equal(t, "awa", pub.locs[0].Username)
}

func TestRegisterExplicitLocationAndDuplicate(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()

	req := registration("moussa")
	loc := models.BamakoNeighborhoods["Badalabougou"]
	req.Loc = &loc
	d, err := s.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, loc, d.Loc)

	_, err = s.Register(ctx, req)
	var dup *models.DuplicateEntityError
	assert.ErrorAs(t, err, &dup)
}

func TestRegisterValidation(t *testing.T) {
	s, _, _, _ := newService(t)
	neg := -1
	cases := map[string]func(r *RegisterRequest){
		"empty username":  func(r *RegisterRequest) { r.Username = "  " },
		"short pin":       func(r *RegisterRequest) { r.PIN = "123" },
		"letters in pin":  func(r *RegisterRequest) { r.PIN = "12a4" },
		"missing name":    func(r *RegisterRequest) { r.FirstName = "" },
		"bad coordinate":  func(r *RegisterRequest) { r.Loc = &models.Coord{Lat: 100} },
		"negative weekly": func(r *RegisterRequest) { r.WeeklyTrips = &neg },
		"negative age":    func(r *RegisterRequest) { r.Age = -3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := registration("x")
			mutate(&req)
			_, err := s.Register(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, registration("awa"))
	require.NoError(t, err)

	d, err := s.Authenticate(ctx, "awa", "1234")
	require.NoError(t, err)
	assert.Equal(t, "awa", d.Username)

	_, err = s.Authenticate(ctx, "awa", "9999")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = s.Authenticate(ctx, "nobody", "1234")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestUpdateStatusMirrorsGeoIndex(t *testing.T) {
	s, _, idx, pub := newService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, registration("awa"))
	require.NoError(t, err)

	d, err := s.UpdateStatus(ctx, "awa", "1234", "Offline")
	require.NoError(t, err)
	assert.Equal(t, models.DriverOffline, d.Status)
	near, _ := idx.Within(ctx, models.MaliCities["Ségou"], 5)
	assert.Empty(t, near)

	_, err = s.UpdateStatus(ctx, "awa", "0000", models.DriverAvailable)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = s.UpdateStatus(ctx, "awa", "1234", "sleeping")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = s.UpdateStatus(ctx, "awa", "1234", models.DriverAvailable)
	require.NoError(t, err)
	near, _ = idx.Within(ctx, models.MaliCities["Ségou"], 5)
	assert.Equal(t, []string{"awa"}, near)
	assert.Len(t, pub.locs, 3)
}

func TestUpdateLocation(t *testing.T) {
	s, store, idx, pub := newService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, registration("awa"))
	require.NoError(t, err)
	pub.err = errors.New("broker down")

	loc := models.MaliCities["Mopti"]
	d, err := s.UpdateLocation(ctx, "awa", "1234", loc)
	require.NoError(t, err, "publisher failures are not surfaced")
	assert.Equal(t, loc, d.Loc)
	stored, _ := store.GetDriver(ctx, "awa")
	assert.Equal(t, loc, stored.Loc)
	near, _ := idx.Within(ctx, loc, 1)
	assert.Equal(t, []string{"awa"}, near)

	_, err = s.UpdateLocation(ctx, "awa", "1234", models.Coord{Lat: 12, Lon: -181})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = s.UpdateLocation(ctx, "awa", "4321", loc)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestListHidesPINHash(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, registration("awa"))
	require.NoError(t, err)
	_, err = s.Register(ctx, registration("moussa"))
	require.NoError(t, err)

	ds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	for _, d := range ds {
		assert.Empty(t, d.PINHash)
	}
}

func TestSyncIndexRestoresStoredDrivers(t *testing.T) {
	s, store, idx, _ := newService(t)
	ctx := context.Background()
	stored := func(name, place string, status models.DriverStatus) models.Driver {
		return models.Driver{
			Username: name, PINHash: "x", FirstName: "Awa", LastName: "Diarra",
			Loc: models.BamakoNeighborhoods[place], Status: status, City: "Bamako", Rating: models.DefaultRating,
		}
	}
	// drivers persisted by a previous process; the fresh index knows none of them
	require.NoError(t, store.CreateDriver(ctx, stored("awa", "ACI 2000", models.DriverAvailable)))
	require.NoError(t, store.CreateDriver(ctx, stored("moussa", "Hamdallaye", models.DriverBusy)))
	require.NoError(t, store.CreateDriver(ctx, stored("sali", "Badalabougou", models.DriverOffline)))
	require.NoError(t, idx.Upsert(ctx, "sali", models.BamakoNeighborhoods["Badalabougou"]))

	pickup := models.BamakoNeighborhoods["ACI 2000"]
	m := &matcher.Service{Resolver: haversine{}, Geo: idx, RadiusMiles: 5}
	all, err := store.ListDrivers(ctx)
	require.NoError(t, err)
	ranked, err := m.Rank(ctx, pickup, all, matcher.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ranked, "empty index hides stored drivers")

	n, err := s.SyncIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	near, err := idx.Within(ctx, pickup, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"awa", "moussa"}, near)

	ranked, err = m.Rank(ctx, pickup, all, matcher.Filter{})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "awa", ranked[0].Driver.Username)
}

func TestKeepIndexSyncedStopsWithContext(t *testing.T) {
	s, store, idx, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.CreateDriver(ctx, models.Driver{
		Username: "awa", PINHash: "x", FirstName: "Awa", LastName: "Diarra",
		Loc: models.MaliCities["Kayes"], Status: models.DriverAvailable, City: "Kayes", Rating: models.DefaultRating,
	}))

	done := make(chan struct{})
	go func() {
		s.KeepIndexSynced(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		near, _ := idx.Within(context.Background(), models.MaliCities["Kayes"], 1)
		return len(near) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resync loop ignored cancel")
	}
}

type haversine struct{}

func (haversine) DistanceMiles(_ context.Context, from, to models.Coord) (float64, error) {
	return geo.HaversineMiles(from, to), nil
}
