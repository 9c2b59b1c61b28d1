package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/observability"
)

// DistanceResolver is satisfied by *routing.Resolver.
type DistanceResolver interface {
	DistanceMiles(ctx context.Context, from, to models.Coord) (float64, error)
}

// Filter narrows candidates. An empty City matches every city.
type Filter struct {
	City string
}

type Candidate struct {
	Driver        models.Driver `json:"driver"`
	DistanceMiles float64       `json:"distance_miles"`
}

type Service struct {
	Resolver DistanceResolver
	// Geo and RadiusMiles enable a coarse radius prefilter before routing.
	Geo         geo.Index
	RadiusMiles float64
	Logger      *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Eligible reports whether d may be offered a trip under f.
func Eligible(d models.Driver, f Filter) bool {
	if d.Status != models.DriverAvailable {
		return false
	}
	return f.City == "" || strings.EqualFold(strings.TrimSpace(d.City), strings.TrimSpace(f.City))
}

// Rank orders eligible drivers by distance to pickup, nearest first. Ties keep
// the order of drivers.
func (s *Service) Rank(ctx context.Context, pickup models.Coord, drivers []models.Driver, f Filter) ([]Candidate, error) {
	if err := pickup.Validate(); err != nil {
		return nil, fmt.Errorf("pickup: %w", err)
	}
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	inRadius := s.prefilter(ctx, pickup)
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !Eligible(d, f) {
			continue
		}
		if inRadius != nil {
			if _, ok := inRadius[d.Username]; !ok {
				continue
			}
		}
		miles, err := s.Resolver.DistanceMiles(ctx, d.Loc, pickup)
		if err != nil {
			s.logger().Warn("skipping driver with unusable location", "driver", d.Username, "error", err)
			continue
		}
		out = append(out, Candidate{Driver: d, DistanceMiles: miles})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMiles < out[j].DistanceMiles })
	return out, nil
}

// prefilter returns nil when no radius filter applies.
func (s *Service) prefilter(ctx context.Context, pickup models.Coord) map[string]struct{} {
	if s.Geo == nil || s.RadiusMiles <= 0 {
		return nil
	}
	names, err := s.Geo.Within(ctx, pickup, s.RadiusMiles)
	if err != nil {
		s.logger().Warn("geo prefilter failed, ranking all drivers", "error", err)
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Select picks ranked[index]; 0 is the nearest driver.
func Select(ranked []Candidate, index int) (Candidate, error) {
	if len(ranked) == 0 {
		return Candidate{}, &models.NotFoundError{Kind: "available driver", Key: "pickup"}
	}
	if index < 0 || index >= len(ranked) {
		return Candidate{}, &models.InputError{Field: "driver_index", Reason: fmt.Sprintf("%d outside [0, %d]", index, len(ranked)-1)}
	}
	return ranked[index], nil
}

// SelectByUsername picks the ranked candidate with the given username.
func SelectByUsername(ranked []Candidate, username string) (Candidate, error) {
	for _, c := range ranked {
		if c.Driver.Username == username {
			return c, nil
		}
	}
	return Candidate{}, &models.NotFoundError{Kind: "available driver", Key: username}
}
