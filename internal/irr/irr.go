// Package irr solves for the internal rate of return of a dated, signed
// cash-flow series: the annualized rate r at which
//
//	Σ amount_i / (1+r)^(days_i/365) == 0
//
// with days measured from the first flow. The primary path is Newton-Raphson
// with an analytic derivative; when the derivative is ill-conditioned or the
// iteration wanders out of the rate domain, a deterministic bracketed
// bisection takes over so the solver always converges when a root exists.
package irr

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Flow is one dated, signed cash flow. Contributions are negative,
// distributions positive.
type Flow struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

const (
	npvTolerance = 1e-7
	maxIter      = 100

	// Rate domain. Below -1 the discount factor is undefined; deals in this
	// engine never plausibly exceed 1000% annualized.
	rateFloor   = -0.999999
	rateCeiling = 10.0

	// Grid resolution for the bracketing scan in the bisection fallback.
	bracketSteps = 256
)

// Solve returns the annualized IRR of flows and ok=true, or ok=false when the
// IRR is undefined: the series is empty or has no sign change. Callers must
// treat an undefined IRR as "not yet testable", never as zero.
func Solve(flows []Flow) (float64, bool) {
	if len(flows) == 0 {
		return 0, false
	}

	hasPositive, hasNegative := false, false
	for _, f := range flows {
		switch f.Amount.Sign() {
		case 1:
			hasPositive = true
		case -1:
			hasNegative = true
		}
	}
	if !hasPositive || !hasNegative {
		return 0, false
	}

	// Time each flow in years from the first flow (actual/365).
	base := flows[0].Date
	times := make([]float64, len(flows))
	amounts := make([]float64, len(flows))
	for i, f := range flows {
		times[i] = daysBetween(base, f.Date) / 365.0
		amounts[i] = f.Amount.InexactFloat64()
	}

	// Tolerance scales with the series magnitude so million-dollar deals
	// converge as readily as unit-sized test series.
	tol := npvTolerance
	for _, a := range amounts {
		if s := math.Abs(a) * npvTolerance; s > tol {
			tol = s
		}
	}

	if r, ok := newton(amounts, times, tol); ok {
		return r, true
	}
	return bisect(amounts, times, tol)
}

// newton runs Newton-Raphson from a 10% starting guess.
func newton(amounts, times []float64, tol float64) (float64, bool) {
	r := 0.10
	for i := 0; i < maxIter; i++ {
		npv, deriv := npvAndDeriv(amounts, times, r)
		if math.Abs(npv) < tol {
			return r, true
		}
		if math.Abs(deriv) < 1e-12 {
			return 0, false
		}
		next := r - npv/deriv
		if next <= rateFloor || next > rateCeiling || math.IsNaN(next) {
			return 0, false
		}
		r = next
	}
	return 0, false
}

// bisect scans a fixed grid over the rate domain for a sign change of the NPV
// function and bisects the first bracket found. The grid is fixed so the
// result is deterministic for a given series.
func bisect(amounts, times []float64, tol float64) (float64, bool) {
	lo, hi := rateFloor, rateCeiling
	step := (hi - lo) / float64(bracketSteps)

	prevR := lo
	prevNPV := npv(amounts, times, lo)
	bracketed := false
	var a, b, fa float64

	for i := 1; i <= bracketSteps; i++ {
		r := lo + float64(i)*step
		v := npv(amounts, times, r)
		if math.Abs(v) < tol {
			return r, true
		}
		if prevNPV*v < 0 {
			a, b, fa = prevR, r, prevNPV
			bracketed = true
			break
		}
		prevR, prevNPV = r, v
	}
	if !bracketed {
		return 0, false
	}

	for i := 0; i < maxIter; i++ {
		mid := (a + b) / 2
		fm := npv(amounts, times, mid)
		if math.Abs(fm) < tol || (b-a)/2 < 1e-10 {
			return mid, true
		}
		if fa*fm < 0 {
			b = mid
		} else {
			a, fa = mid, fm
		}
	}
	return (a + b) / 2, true
}

// npvAndDeriv evaluates the NPV and its first derivative with respect to r.
//
//	npv   = Σ A_i · (1+r)^(−t_i)
//	d/dr  = Σ −t_i · A_i · (1+r)^(−t_i−1)
func npvAndDeriv(amounts, times []float64, r float64) (float64, float64) {
	var v, d float64
	for i, a := range amounts {
		t := times[i]
		df := math.Pow(1+r, -t)
		v += a * df
		d += -t * a * df / (1 + r)
	}
	return v, d
}

func npv(amounts, times []float64, r float64) float64 {
	var v float64
	for i, a := range amounts {
		v += a * math.Pow(1+r, -times[i])
	}
	return v
}

func daysBetween(from, to time.Time) float64 {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(f).Hours() / 24
}
