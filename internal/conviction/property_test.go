package conviction

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*(1+math.Max(math.Abs(a), math.Abs(b)))
}

func TestDecayProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("zero elapsed time is a no-op", prop.ForAll(
		func(y0, amount, alpha float64) bool {
			return CalculateConviction(0, y0, amount, alpha) == y0
		},
		gen.Float64Range(-1e9, 1e9),
		gen.Float64Range(0, 1e9),
		gen.Float64Range(0.01, 0.99999),
	))

	properties.Property("distance to the ceiling never grows", prop.ForAll(
		func(y0, amount, alpha, t1, dt float64) bool {
			ceiling := MaxConviction(amount, alpha)
			before := math.Abs(CalculateConviction(t1, y0, amount, alpha) - ceiling)
			after := math.Abs(CalculateConviction(t1+dt, y0, amount, alpha) - ceiling)
			return after <= before+1e-9*(1+math.Abs(y0)+ceiling)
		},
		gen.Float64Range(-1e4, 1e4),
		gen.Float64Range(0, 1e3),
		gen.Float64Range(0.5, 0.99),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.Property("negative time inverts positive time", prop.ForAll(
		func(y0, amount, alpha, elapsed float64) bool {
			forward := CalculateConviction(elapsed, y0, amount, alpha)
			return approxEqual(y0, CalculateConviction(-elapsed, forward, amount, alpha), 1e-8)
		},
		gen.Float64Range(0, 1e4),
		gen.Float64Range(0, 1e3),
		gen.Float64Range(0.8, 0.99),
		gen.Float64Range(0, 5),
	))

	properties.TestingRun(t)
}

func TestThresholdProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("threshold is infinite exactly when the share reaches beta", prop.ForAll(
		func(share, beta, rho, alpha float64) bool {
			got := CalculateThreshold(share*1000, 1000, 1e6, alpha, beta, rho)
			if share*1000/1000 >= beta {
				return math.IsInf(got, 1)
			}
			return !math.IsInf(got, 0) && got > 0
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0.01, 0.9),
		gen.Float64Range(1e-6, 0.1),
		gen.Float64Range(0.5, 0.99),
	))

	properties.Property("min needed stake reaches the threshold at the ceiling", prop.ForAll(
		func(threshold, alpha float64) bool {
			return approxEqual(threshold, MaxConviction(MinNeededStake(threshold, alpha), alpha), 1e-9)
		},
		gen.Float64Range(0, 1e12),
		gen.Float64Range(0.01, 0.99999),
	))

	properties.Property("remaining time lands on the threshold", prop.ForAll(
		func(amount, alpha, from, to float64) bool {
			ceiling := MaxConviction(amount, alpha)
			conviction := from * ceiling
			threshold := to * ceiling
			remaining := RemainingTimeToPass(threshold, conviction, amount, alpha)
			if math.IsNaN(remaining) || remaining < 0 {
				return false
			}
			return approxEqual(threshold, CalculateConviction(remaining, conviction, amount, alpha), 1e-6)
		},
		gen.Float64Range(1, 1e3),
		gen.Float64Range(0.5, 0.99),
		gen.Float64Range(0, 0.5),
		gen.Float64Range(0.51, 0.99),
	))

	properties.Property("unreachable thresholds give NaN", prop.ForAll(
		func(amount, alpha, over float64) bool {
			ceiling := MaxConviction(amount, alpha)
			return math.IsNaN(RemainingTimeToPass(ceiling*over, 0, amount, alpha))
		},
		gen.Float64Range(1, 1e3),
		gen.Float64Range(0.5, 0.99),
		gen.Float64Range(1.01, 10),
	))

	properties.TestingRun(t)
}
