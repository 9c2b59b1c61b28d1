// Package money holds the XOF rounding rules shared by fares, commissions and
// cancellation fees. XOF has no minor unit, so every amount is a whole int64.
// All rounding is half to even.
package money

import "math"

const Currency = "XOF"

// Round rounds a computed float amount to whole XOF.
func Round(v float64) int64 {
	return int64(math.RoundToEven(v))
}

// DivRound returns num/den rounded half to even. den must be positive.
func DivRound(num, den int64) int64 {
	q, r := num/den, num%den
	if r < 0 {
		q--
		r += den
	}
	switch twice := 2 * r; {
	case twice > den:
		q++
	case twice == den && q%2 != 0:
		q++
	}
	return q
}

// Percent returns pct% of amount, rounded half to even.
func Percent(amount, pct int64) int64 {
	return DivRound(amount*pct, 100)
}

// BasisPoints returns bps/10000 of amount, rounded half to even.
func BasisPoints(amount, bps int64) int64 {
	return DivRound(amount*bps, 10000)
}
