package geo

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mali-ride/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineMiles(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	p := models.Coord{Lat: 12.6392, Lon: -8.0029}
	if d := HaversineMiles(p, p); d != 0 {
		t.Fatalf("expected 0 for coincident points, got %f", d)
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      models.Coord
		wantMiles float64
		tolerance float64
	}{
		{"Bamako to Ségou", models.MaliCities["Bamako"], models.MaliCities["Ségou"], 132, 3},
		{"one degree of latitude", models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 1, Lon: 0}, 69.09, 0.1},
		{"antipodes", models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 180}, math.Pi * EarthRadiusKm * 0.621371, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMiles(tt.a, tt.b)
			if math.Abs(got-tt.wantMiles) > tt.tolerance {
				t.Errorf("HaversineMiles() = %f, want %f (±%f)", got, tt.wantMiles, tt.tolerance)
			}
		})
	}
}

func TestHaversineSymmetryAndNearAntipodalStability(t *testing.T) {
	pairs := [][2]models.Coord{
		{{Lat: 12.6475, Lon: -7.9835}, {Lat: 12.6100, Lon: -7.9660}},
		{{Lat: 89.9999, Lon: 10}, {Lat: -89.9999, Lon: -170}},
		{{Lat: 45, Lon: 179.9999999}, {Lat: -45, Lon: -0.0000001}},
	}
	for _, p := range pairs {
		d1 := HaversineMiles(p[0], p[1])
		d2 := HaversineMiles(p[1], p[0])
		if math.IsNaN(d1) || math.IsNaN(d2) {
			t.Fatalf("NaN distance for %v", p)
		}
		if math.Abs(d1-d2) > 1e-9 {
			t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
		}
	}
}

func TestMemoryIndexWithin(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "aci", models.BamakoNeighborhoods["ACI 2000"]))
	require.NoError(t, idx.Upsert(ctx, "segou", models.MaliCities["Ségou"]))

	got, err := idx.Within(ctx, models.MaliCities["Bamako"], 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"aci"}, got)

	require.NoError(t, idx.Remove(ctx, "aci"))
	got, err = idx.Within(ctx, models.MaliCities["Bamako"], 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisGeoWithin(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	idx := NewRedisGeo(client, "")

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "aci", models.BamakoNeighborhoods["ACI 2000"]))
	require.NoError(t, idx.Upsert(ctx, "hamdallaye", models.BamakoNeighborhoods["Hamdallaye"]))
	require.NoError(t, idx.Upsert(ctx, "gao", models.MaliCities["Gao"]))

	got, err := idx.Within(ctx, models.MaliCities["Bamako"], 10)
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{"aci", "hamdallaye"}, got)

	require.NoError(t, idx.Remove(ctx, "aci"))
	got, err = idx.Within(ctx, models.MaliCities["Bamako"], 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"hamdallaye"}, got)
}

func TestRedisGeoUpsertError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	idx := NewRedisGeo(client, "drivers_geo")

	mr.Close()
	err = idx.Upsert(context.Background(), "aci", models.BamakoNeighborhoods["ACI 2000"])
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "geoadd aci")
}
