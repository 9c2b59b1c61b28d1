// Package routing resolves driving distance between two coordinates through an
// external routing provider, degrading to great-circle distance when the
// provider is disabled or fails.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/observability"
)

const (
	// HaversineSource is reported when a distance did not come from a provider.
	HaversineSource = "haversine"
	DefaultTimeout  = 10 * time.Second
)

// Provider returns the driving route length in meters between two points.
type Provider interface {
	Name() string
	RouteMeters(ctx context.Context, from, to models.Coord) (float64, error)
}

type Config struct {
	// Enabled turns the provider path on. When false every lookup is haversine.
	Enabled       bool
	Provider      string
	ORSAPIKey     string
	ORSEndpoint   string
	GoogleAPIKey  string
	GoogleBaseURL string
	OSRMEndpoint  string
	Timeout       time.Duration
	CacheTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Provider:    ProviderORS,
		ORSEndpoint: DefaultORSEndpoint,
		Timeout:     DefaultTimeout,
		CacheTTL:    30 * time.Minute,
	}
}

type Result struct {
	Miles  float64
	Source string
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cfg      Config
	provider Provider
	cache    Cache
	logger   *slog.Logger
}

// NewResolver builds a resolver. provider and cache may be nil.
func NewResolver(cfg Config, provider Provider, cache Cache, logger *slog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, provider: provider, cache: cache, logger: logger}
}

// UsesProvider reports whether lookups go to the routing provider first.
func (r *Resolver) UsesProvider() bool {
	return r.cfg.Enabled && r.provider != nil
}

// Source names the primary path: the provider name, or haversine.
func (r *Resolver) Source() string {
	if r.UsesProvider() {
		return r.provider.Name()
	}
	return HaversineSource
}

func (r *Resolver) DistanceMiles(ctx context.Context, from, to models.Coord) (float64, error) {
	res, err := r.Resolve(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return res.Miles, nil
}

// Resolve only returns an error for invalid coordinates. Provider failures
// fall back to haversine for this call.
func (r *Resolver) Resolve(ctx context.Context, from, to models.Coord) (Result, error) {
	if err := from.Validate(); err != nil {
		return Result{}, fmt.Errorf("origin: %w", err)
	}
	if err := to.Validate(); err != nil {
		return Result{}, fmt.Errorf("destination: %w", err)
	}
	if from == to {
		return Result{Miles: 0, Source: HaversineSource}, nil
	}
	if !r.UsesProvider() {
		observability.RoutingRequests.WithLabelValues(HaversineSource, observability.OutcomeDisabled).Inc()
		return haversine(from, to), nil
	}

	name := r.provider.Name()
	key := cacheKey(name, from, to)
	if r.cache != nil {
		miles, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Debug("route cache get failed", "key", key, "error", err)
		} else if ok {
			observability.RoutingRequests.WithLabelValues(name, observability.OutcomeCached).Inc()
			return Result{Miles: miles, Source: name}, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	start := time.Now()
	meters, err := r.provider.RouteMeters(cctx, from, to)
	observability.RoutingLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil && (math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0) {
		err = fmt.Errorf("%s returned invalid distance %v", name, meters)
	}
	if err != nil {
		r.logger.Warn("routing provider failed, using haversine", "provider", name, "error", err)
		observability.RoutingRequests.WithLabelValues(name, observability.OutcomeFallback).Inc()
		return haversine(from, to), nil
	}

	miles := meters * geo.MilesPerMeter
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, miles, r.cfg.CacheTTL); err != nil {
			r.logger.Debug("route cache set failed", "key", key, "error", err)
		}
	}
	observability.RoutingRequests.WithLabelValues(name, observability.OutcomeOK).Inc()
	return Result{Miles: miles, Source: name}, nil
}

func haversine(from, to models.Coord) Result {
	return Result{Miles: geo.HaversineMiles(from, to), Source: HaversineSource}
}
