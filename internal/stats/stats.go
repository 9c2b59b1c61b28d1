// Package stats aggregates drivers and trips for the admin dashboard.
package stats

import (
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/example/mali-ride/internal/models"
)

const DefaultTopN = 10

// Filter narrows the trips considered. Zero From/To are unbounded; To is
// inclusive of the whole day it falls on. Empty slices match everything.
type Filter struct {
	From      time.Time
	To        time.Time
	Cities    []string
	Providers []string
	TopN      int
}

func (f Filter) match(t models.Trip) bool {
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(endOfDay(f.To)) {
		return false
	}
	if len(f.Cities) > 0 && !containsFold(f.Cities, t.City) {
		return false
	}
	if len(f.Providers) > 0 && !containsFold(f.Providers, t.RoutingProvider) {
		return false
	}
	return true
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}

type Group struct {
	Key                string  `json:"key"`
	Trips              int     `json:"trips_count"`
	TotalDistanceMiles float64 `json:"total_distance_miles"`
	AvgDistanceMiles   float64 `json:"avg_distance_miles"`
	RevenueXOF         int64   `json:"total_revenue_xof"`
	PlatformXOF        int64   `json:"total_platform_xof"`
	DriverXOF          int64   `json:"total_driver_xof"`
}

func (g *Group) add(t models.Trip) {
	g.Trips++
	g.TotalDistanceMiles += t.DistanceMiles
	g.RevenueXOF += t.PriceXOF
	g.PlatformXOF += t.PlatformCommissionXOF
	g.DriverXOF += t.DriverEarningsXOF
}

func (g *Group) finish() {
	if g.Trips > 0 {
		g.AvgDistanceMiles = round2(g.TotalDistanceMiles / float64(g.Trips))
	}
	g.TotalDistanceMiles = round2(g.TotalDistanceMiles)
}

type DriverGroup struct {
	Group
	Name          string `json:"driver_name"`
	City          string `json:"city,omitempty"`
	TransportType string `json:"transport_type,omitempty"`
}

type Summary struct {
	Drivers            int           `json:"drivers"`
	Available          int           `json:"available"`
	Busy               int           `json:"busy"`
	Offline            int           `json:"offline"`
	Trips              int           `json:"trips"`
	GrossXOF           int64         `json:"gross_xof"`
	PlatformXOF        int64         `json:"platform_xof"`
	DriverXOF          int64         `json:"driver_xof"`
	TotalDistanceMiles float64       `json:"total_distance_miles"`
	ByCity             []Group       `json:"by_city"`
	ByProvider         []Group       `json:"by_routing_provider"`
	TopDrivers         []DriverGroup `json:"top_drivers"`
	TopRoutes          []Group       `json:"top_routes"`
}

// Summarize is pure; driver counts ignore the trip filter.
func Summarize(drivers []models.Driver, trips []models.Trip, f Filter) Summary {
	topN := f.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	s := Summary{Drivers: len(drivers)}
	info := make(map[string]models.Driver, len(drivers))
	for _, d := range drivers {
		info[d.Username] = d
		switch d.Status {
		case models.DriverAvailable:
			s.Available++
		case models.DriverBusy:
			s.Busy++
		case models.DriverOffline:
			s.Offline++
		}
	}

	cities := map[string]*Group{}
	providers := map[string]*Group{}
	routes := map[string]*Group{}
	byDriver := map[string]*DriverGroup{}
	for _, t := range trips {
		if !f.match(t) {
			continue
		}
		s.Trips++
		s.GrossXOF += t.PriceXOF
		s.PlatformXOF += t.PlatformCommissionXOF
		s.DriverXOF += t.DriverEarningsXOF
		s.TotalDistanceMiles += t.DistanceMiles

		if t.City != "" {
			bucket(cities, t.City).add(t)
		}
		if t.RoutingProvider != "" {
			bucket(providers, t.RoutingProvider).add(t)
		}
		if t.OriginLabel != "" || t.DestinationLabel != "" {
			bucket(routes, t.RouteSummary()).add(t)
		}
		if t.DriverUsername != "" {
			dg, ok := byDriver[t.DriverUsername]
			if !ok {
				dg = &DriverGroup{Group: Group{Key: t.DriverUsername}, Name: t.DriverUsername}
				if d, ok := info[t.DriverUsername]; ok {
					if n := d.FullName(); n != "" {
						dg.Name = n
					}
					dg.City, dg.TransportType = d.City, d.TransportType
				}
				byDriver[t.DriverUsername] = dg
			}
			dg.add(t)
		}
	}
	s.TotalDistanceMiles = round2(s.TotalDistanceMiles)

	s.ByCity = sortedByKey(cities)
	s.ByProvider = sortedByKey(providers)

	s.TopRoutes = sortedByKey(routes)
	sort.SliceStable(s.TopRoutes, func(i, j int) bool { return s.TopRoutes[i].Trips > s.TopRoutes[j].Trips })
	s.TopRoutes = s.TopRoutes[:min(topN, len(s.TopRoutes))]

	s.TopDrivers = make([]DriverGroup, 0, len(byDriver))
	for _, dg := range byDriver {
		dg.finish()
		s.TopDrivers = append(s.TopDrivers, *dg)
	}
	sort.Slice(s.TopDrivers, func(i, j int) bool {
		a, b := s.TopDrivers[i], s.TopDrivers[j]
		if a.RevenueXOF != b.RevenueXOF {
			return a.RevenueXOF > b.RevenueXOF
		}
		return a.Key < b.Key
	})
	s.TopDrivers = s.TopDrivers[:min(topN, len(s.TopDrivers))]
	return s
}

func bucket(m map[string]*Group, key string) *Group {
	g, ok := m[key]
	if !ok {
		g = &Group{Key: key}
		m[key] = g
	}
	return g
}

func sortedByKey(m map[string]*Group) []Group {
	out := make([]Group, 0, len(m))
	for _, g := range m {
		g.finish()
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
