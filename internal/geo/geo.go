package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/mali-ride/internal/models"
)

const (
	EarthRadiusKm = 6371.0
	// MilesPerMeter converts routing-provider meters and haversine output alike.
	MilesPerMeter = 0.000621371
)

// Index tracks driver positions for radius prefiltering before routing.
type Index interface {
	Upsert(ctx context.Context, username string, loc models.Coord) error
	Remove(ctx context.Context, username string) error
	Within(ctx context.Context, center models.Coord, radiusMiles float64) ([]string, error)
}

// HaversineMiles is the great-circle distance on a 6371 km sphere, in miles.
func HaversineMiles(a, b models.Coord) float64 {
	return HaversineMeters(a, b) * MilesPerMeter
}

// HaversineMeters is the great-circle distance in meters.
func HaversineMeters(a, b models.Coord) float64 {
	if a == b {
		return 0
	}
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLat := lat2 - lat1
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// floating-point overshoot near antipodes would push asin out of its domain
	h = math.Min(1, math.Max(0, h))
	return 2 * math.Asin(math.Sqrt(h)) * EarthRadiusKm * 1000
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

type MemoryIndex struct {
	mu   sync.RWMutex
	locs map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{locs: make(map[string]models.Coord)}
}

func (g *MemoryIndex) Upsert(_ context.Context, username string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locs[username] = loc
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locs, username)
	return nil
}

// naive scan; fine for a city-sized fleet
func (g *MemoryIndex) Within(_ context.Context, center models.Coord, radiusMiles float64) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.locs))
	for name, loc := range g.locs {
		if HaversineMiles(center, loc) <= radiusMiles {
			out = append(out, name)
		}
	}
	return out, nil
}
