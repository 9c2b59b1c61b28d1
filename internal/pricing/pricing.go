// Package pricing converts trip distance into an XOF fare.
package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/money"
)

// Rates are the linear fare parameters in XOF.
type Rates struct {
	BaseFare int64 `json:"base_fare_xof"`
	PerMile  int64 `json:"per_mile_xof"`
}

var DefaultRates = Rates{BaseFare: 1000, PerMile: 300}

// Price is base + perMile·d rounded half to even. It does not clamp.
func Price(distanceMiles float64, r Rates) int64 {
	return money.Round(float64(r.BaseFare) + float64(r.PerMile)*distanceMiles)
}

// PriceWithFloor clamps the distance to zero and never returns less than the
// base fare.
func PriceWithFloor(distanceMiles float64, r Rates) int64 {
	if distanceMiles < 0 {
		distanceMiles = 0
	}
	return max(Price(distanceMiles, r), r.BaseFare)
}

type Calculator struct {
	Rates Rates
	Floor bool
}

func NewCalculator(r Rates, floor bool) Calculator {
	return Calculator{Rates: r, Floor: floor}
}

func (c Calculator) Quote(distanceMiles float64) (int64, error) {
	if math.IsNaN(distanceMiles) || math.IsInf(distanceMiles, 0) {
		return 0, &models.InputError{Field: "distance_miles", Reason: "not a finite number"}
	}
	if c.Rates.BaseFare < 0 || c.Rates.PerMile < 0 {
		return 0, &models.InputError{Field: "rates", Reason: fmt.Sprintf("negative rate %+v", c.Rates)}
	}
	if distanceMiles < 0 && !c.Floor {
		return 0, &models.InputError{Field: "distance_miles", Reason: "negative"}
	}
	// float64(math.MaxInt64) rounds up to 2^63, so >= catches every overflow
	if float64(c.Rates.BaseFare)+float64(c.Rates.PerMile)*max(distanceMiles, 0) >= math.MaxInt64 {
		return 0, &models.InputError{Field: "distance_miles", Reason: fmt.Sprintf("%g miles overflows the fare", distanceMiles)}
	}
	if c.Floor {
		return PriceWithFloor(distanceMiles, c.Rates), nil
	}
	return Price(distanceMiles, c.Rates), nil
}

// ApplyPromo discounts fare by code. An empty code is a no-op; an unknown code
// is an input error. With Floor set the result never drops below the base fare,
// and the discount reported is what was actually taken off.
func (c Calculator) ApplyPromo(code string, fare int64) (final, discount int64, err error) {
	if strings.TrimSpace(code) == "" {
		return fare, 0, nil
	}
	if _, ok := promoCodes[normalizePromo(code)]; !ok {
		return 0, 0, &models.InputError{Field: "promo_code", Reason: fmt.Sprintf("unknown code %q", code)}
	}
	var floor int64
	if c.Floor {
		floor = c.Rates.BaseFare
	}
	final, discount = ApplyPromo(code, fare, floor)
	return final, discount, nil
}

// Promo discounts in basis points.
var promoCodes = map[string]int64{
	"WELCOME50":     5000,
	"MALI10":        1000,
	"DRIVERBOOST20": 2000,
}

func normalizePromo(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// ApplyPromo returns the discounted fare, never below floor, and the discount
// actually given. Unknown or empty codes leave the fare untouched.
func ApplyPromo(code string, fare, floor int64) (final, discount int64) {
	bps, ok := promoCodes[normalizePromo(code)]
	if !ok || fare <= 0 {
		return fare, 0
	}
	final = max(fare-money.BasisPoints(fare, bps), floor, 0)
	if final > fare {
		final = fare
	}
	return final, fare - final
}
