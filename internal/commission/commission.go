// Package commission decides the platform's share of a fare from a driver's
// trailing weekly trip volume.
package commission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/money"
)

const (
	LaunchSchedule   = "launch"
	StandardSchedule = "standard"
)

// Tier applies Pct to drivers with at least MinTrips trips in the window.
type Tier struct {
	MinTrips int `json:"min_trips"`
	Pct      int `json:"pct"`
}

type Schedule struct {
	Name string `json:"name"`
	// Tiers are ordered by MinTrips descending; the last tier starts at 0.
	Tiers []Tier `json:"tiers"`
}

var schedules = map[string]Schedule{
	LaunchSchedule: {
		Name:  LaunchSchedule,
		Tiers: []Tier{{60, 8}, {40, 10}, {20, 12}, {0, 14}},
	},
	StandardSchedule: {
		Name:  StandardSchedule,
		Tiers: []Tier{{60, 10}, {40, 12}, {20, 15}, {0, 17}},
	},
}

// Lookup returns a named schedule. Names are case-insensitive.
func Lookup(name string) (Schedule, error) {
	s, ok := schedules[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Schedule{}, &models.InputError{Field: "commission_schedule", Reason: fmt.Sprintf("unknown schedule %q, want one of %s", name, strings.Join(names(), ", "))}
	}
	return s, nil
}

func names() []string {
	out := make([]string, 0, len(schedules))
	for n := range schedules {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Pct returns the commission percentage for weeklyTrips.
func (s Schedule) Pct(weeklyTrips int) (int, error) {
	if weeklyTrips < 0 {
		return 0, &models.InputError{Field: "weekly_trips", Reason: "negative"}
	}
	for _, t := range s.Tiers {
		if weeklyTrips >= t.MinTrips {
			return t.Pct, nil
		}
	}
	return 0, fmt.Errorf("schedule %s has no tier for %d trips", s.Name, weeklyTrips)
}

type Split struct {
	PlatformCommission int64 `json:"platform_commission_xof"`
	DriverEarnings     int64 `json:"driver_earnings_xof"`
}

// SplitFare computes the commission first and gives the remainder to the
// driver, so the two parts always sum to price.
func SplitFare(price int64, pct int) (Split, error) {
	if price < 0 {
		return Split{}, &models.InputError{Field: "price_xof", Reason: "negative"}
	}
	if pct < 0 || pct > 100 {
		return Split{}, &models.InputError{Field: "commission_pct", Reason: fmt.Sprintf("%d outside [0, 100]", pct)}
	}
	c := money.Percent(price, int64(pct))
	return Split{PlatformCommission: c, DriverEarnings: max(price-c, 0)}, nil
}

// Engine binds a schedule to the split computation.
type Engine struct {
	Schedule Schedule
}

func NewEngine(scheduleName string) (*Engine, error) {
	s, err := Lookup(scheduleName)
	if err != nil {
		return nil, err
	}
	return &Engine{Schedule: s}, nil
}

// Apply returns the tier percentage for weeklyTrips and the resulting split.
func (e *Engine) Apply(price int64, weeklyTrips int) (int, Split, error) {
	pct, err := e.Schedule.Pct(weeklyTrips)
	if err != nil {
		return 0, Split{}, err
	}
	sp, err := SplitFare(price, pct)
	return pct, sp, err
}
