// Package daycount computes elapsed-time fractions between cash-flow dates
// and the preferred-return amount that accrues on an outstanding capital
// balance over an interval.
package daycount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Convention identifies a day-count basis for accrual math.
type Convention string

const (
	Actual365 Convention = "ACT/365"
	Actual360 Convention = "ACT/360"
	Thirty360 Convention = "30/360"
)

// ParseConvention converts a config string to a Convention.
// Defaults to ACT/365 for empty input.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ACT/365", "ACTUAL/365":
		return Actual365, nil
	case "ACT/360", "ACTUAL/360":
		return Actual360, nil
	case "30/360":
		return Thirty360, nil
	default:
		return "", fmt.Errorf("unknown day-count convention %q", s)
	}
}

// DaysBetween returns the number of calendar days from one date to another.
// Only the calendar date matters; time-of-day and timezones are normalized to UTC midnight.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// days30360 counts days under the 30/360 US convention.
func days30360(from, to time.Time) int {
	d1 := from.Day()
	d2 := to.Day()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 == 30 {
		d2 = 30
	}
	return 360*(to.Year()-from.Year()) + 30*(int(to.Month())-int(from.Month())) + (d2 - d1)
}

// YearFraction returns the elapsed-time fraction of a year between two dates
// under the given convention. A zero or negative interval yields zero.
func YearFraction(conv Convention, from, to time.Time) decimal.Decimal {
	var days, basis int
	switch conv {
	case Actual360:
		days = DaysBetween(from, to)
		basis = 360
	case Thirty360:
		days = days30360(from, to)
		basis = 360
	default: // Actual365
		days = DaysBetween(from, to)
		basis = 365
	}
	if days <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(int64(basis)))
}

// Accrue returns the preferred return earned on balance at the annualized rate
// over the interval [from, to]. Capital contributed on `to` itself has been
// outstanding for zero days and earns nothing: from == to yields exactly zero.
func Accrue(balance, annualRate decimal.Decimal, conv Convention, from, to time.Time) decimal.Decimal {
	if balance.Sign() <= 0 || annualRate.Sign() <= 0 {
		return decimal.Zero
	}
	frac := YearFraction(conv, from, to)
	if frac.Sign() == 0 {
		return decimal.Zero
	}
	return balance.Mul(annualRate).Mul(frac)
}
