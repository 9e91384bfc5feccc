package fixedpoint

import (
	"errors"
	"math"

	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// Report compares the floating-point engine with the integer recurrence for
// one stake log.
type Report struct {
	Time     int64     `json:"time"`
	Float    float64   `json:"float"`
	Fixed    float64   `json:"fixed"`
	Drift    float64   `json:"drift"`
	Findings []Finding `json:"findings,omitempty"`

	FloatThreshold model.Float `json:"float_threshold"`
	FixedThreshold model.Float `json:"fixed_threshold"`
	ThresholdDrift float64     `json:"threshold_drift"`
}

// OK reports whether every drift is within tolerance.
func (r Report) OK(tolerance float64) bool {
	return r.Drift <= tolerance && r.ThresholdDrift <= tolerance && len(r.Findings) == 0
}

// Compare evaluates stakes at now both ways and audits every embedded
// checkpoint. Token amounts are rounded to integers on the fixed side.
func Compare(stakes []conviction.StakeEvent, now int64, tp conviction.ThresholdParams, alpha, tolerance float64) Report {
	decay := Decay(alpha)

	r := Report{
		Time:     now,
		Float:    conviction.CurrentConviction(stakes, now, alpha),
		Fixed:    Float(Replay(stakes, now, decay)),
		Findings: Audit(stakes, decay, tolerance),
	}
	r.Drift = RelativeDrift(r.Float, r.Fixed)

	floatThr := tp.Threshold(alpha)
	fixedThr := math.Inf(1)
	thr, err := CalculateThreshold(Int(tp.Requested), Int(tp.Funds), Int(tp.Supply), decay, Scale(tp.Beta), Scale(tp.Rho))
	if !errors.Is(err, ErrAmountOverMaxRatio) {
		fixedThr = Float(thr)
	}
	r.FloatThreshold = model.Float(floatThr)
	r.FixedThreshold = model.Float(fixedThr)

	// One side unbounded is a full mismatch.
	switch inf := math.IsInf(floatThr, 1); {
	case inf && math.IsInf(fixedThr, 1):
		r.ThresholdDrift = 0
	case inf || math.IsInf(fixedThr, 1):
		r.ThresholdDrift = 1
	default:
		r.ThresholdDrift = RelativeDrift(floatThr, fixedThr)
	}
	return r
}
