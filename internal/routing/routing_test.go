package routing

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/models"
)

type stubProvider struct {
	meters float64
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) RouteMeters(ctx context.Context, _, _ models.Coord) (float64, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.meters, s.err
}

var (
	bamako = models.MaliCities["Bamako"]
	segou  = models.MaliCities["Ségou"]
)

func enabled() Config {
	return Config{Enabled: true, Timeout: time.Second}
}

func TestResolveUsesProvider(t *testing.T) {
	p := &stubProvider{meters: 16093.44}
	r := NewResolver(enabled(), p, nil, nil)

	res, err := r.Resolve(context.Background(), bamako, segou)
	require.NoError(t, err)
	assert.Equal(t, "stub", res.Source)
	assert.InDelta(t, 10.0, res.Miles, 0.001)
}

func TestResolveFallsBackOnProviderError(t *testing.T) {
	tests := []struct {
		name string
		p    *stubProvider
	}{
		{"transport error", &stubProvider{err: errors.New("connection refused")}},
		{"negative distance", &stubProvider{meters: -5}},
		{"nan distance", &stubProvider{meters: math.NaN()}},
		{"timeout", &stubProvider{meters: 1000, delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabled()
			cfg.Timeout = 20 * time.Millisecond
			r := NewResolver(cfg, tt.p, nil, nil)

			res, err := r.Resolve(context.Background(), bamako, segou)
			require.NoError(t, err)
			assert.Equal(t, HaversineSource, res.Source)
			assert.InDelta(t, geo.HaversineMiles(bamako, segou), res.Miles, 1e-9)
		})
	}
}

func TestResolveFallbackIsPerCall(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	r := NewResolver(enabled(), p, nil, nil)

	res, _ := r.Resolve(context.Background(), bamako, segou)
	assert.Equal(t, HaversineSource, res.Source)

	p.err = nil
	p.meters = 200000
	res, _ = r.Resolve(context.Background(), bamako, segou)
	assert.Equal(t, "stub", res.Source)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResolveDisabledIsExclusivelyHaversine(t *testing.T) {
	p := &stubProvider{meters: 1}
	r := NewResolver(Config{Enabled: false}, p, nil, nil)

	res, err := r.Resolve(context.Background(), bamako, segou)
	require.NoError(t, err)
	assert.Equal(t, HaversineSource, res.Source)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.False(t, r.UsesProvider())
	assert.Equal(t, HaversineSource, r.Source())

	r = NewResolver(enabled(), nil, nil, nil)
	res, err = r.Resolve(context.Background(), bamako, segou)
	require.NoError(t, err)
	assert.Equal(t, HaversineSource, res.Source)
}

func TestResolveIdenticalEndpointsSkipsProvider(t *testing.T) {
	p := &stubProvider{meters: 500}
	r := NewResolver(enabled(), p, nil, nil)

	d, err := r.DistanceMiles(context.Background(), bamako, bamako)
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestResolveRejectsInvalidCoordinates(t *testing.T) {
	r := NewResolver(Config{}, nil, nil, nil)
	_, err := r.DistanceMiles(context.Background(), models.Coord{Lat: math.NaN()}, segou)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = r.DistanceMiles(context.Background(), bamako, models.Coord{Lat: 12, Lon: 200})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestResolveCachesProviderResults(t *testing.T) {
	p := &stubProvider{meters: 8046.72}
	r := NewResolver(enabled(), p, NewMemoryCache(), nil)

	for i := 0; i < 3; i++ {
		d, err := r.DistanceMiles(context.Background(), bamako, segou)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, d, 0.001)
	}
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestResolveDoesNotCacheFallback(t *testing.T) {
	p := &stubProvider{err: errors.New("down")}
	cache := NewMemoryCache()
	r := NewResolver(enabled(), p, cache, nil)

	_, err := r.Resolve(context.Background(), bamako, segou)
	require.NoError(t, err)
	_, ok, _ := cache.Get(context.Background(), cacheKey("stub", bamako, segou))
	assert.False(t, ok)
}

func TestResolveSymmetricUnderHaversine(t *testing.T) {
	r := NewResolver(Config{}, nil, nil, nil)
	ab, _ := r.DistanceMiles(context.Background(), bamako, segou)
	ba, _ := r.DistanceMiles(context.Background(), segou, bamako)
	assert.InDelta(t, ab, ba, 1e-9)
}

func TestNewProviderFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{"disabled", Config{Enabled: false, Provider: ProviderORS, ORSAPIKey: "k"}, "", false},
		{"ors without key", Config{Enabled: true, Provider: ProviderORS}, "", false},
		{"ors", Config{Enabled: true, Provider: ProviderORS, ORSAPIKey: "k"}, ProviderORS, false},
		{"google", Config{Enabled: true, Provider: "Google", GoogleAPIKey: "k"}, ProviderGoogle, false},
		{"google without key", Config{Enabled: true, Provider: ProviderGoogle}, "", false},
		{"osrm", Config{Enabled: true, Provider: ProviderOSRM, OSRMEndpoint: "http://osrm:5000"}, ProviderOSRM, false},
		{"haversine", Config{Enabled: true, Provider: "haversine"}, "", false},
		{"unknown", Config{Enabled: true, Provider: "mapbox"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantName == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
