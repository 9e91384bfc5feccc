package fixedpoint

import (
	"math"
	"math/big"

	"github.com/sells-group/conviction-cli/internal/conviction"
)

// Replay runs the integer recurrence over the events at or before now and
// returns the conviction at now. Integer time cannot run backwards, so later
// events are ignored rather than rewound.
func Replay(stakes []conviction.StakeEvent, now int64, decay *big.Int) *big.Int {
	conv := new(big.Int)
	amount := new(big.Int)
	var last int64
	for _, s := range stakes {
		if s.Time > now {
			break
		}
		conv = CalculateConviction(elapsed(last, s.Time), conv, amount, decay)
		amount = Int(s.TotalTokensStaked)
		last = s.Time
	}
	return CalculateConviction(elapsed(last, now), conv, amount, decay)
}

func elapsed(from, to int64) uint64 {
	if to <= from {
		return 0
	}
	return uint64(to - from)
}

// Finding is one event whose embedded conviction drifts from the integer
// recurrence by more than the audit tolerance.
type Finding struct {
	Index    int     `json:"index"`
	Time     int64   `json:"time"`
	Entity   string  `json:"entity"`
	Embedded float64 `json:"embedded"`
	Fixed    float64 `json:"fixed"`
	Drift    float64 `json:"drift"`
}

// Audit replays stakes with integer arithmetic and reports every event whose
// embedded Conviction differs from the replayed value by more than tolerance,
// relative to the larger of the two.
func Audit(stakes []conviction.StakeEvent, decay *big.Int, tolerance float64) []Finding {
	var findings []Finding
	conv := new(big.Int)
	amount := new(big.Int)
	var last int64
	for i, s := range stakes {
		conv = CalculateConviction(elapsed(last, s.Time), conv, amount, decay)
		fixed := Float(conv)
		if drift := RelativeDrift(s.Conviction, fixed); drift > tolerance {
			findings = append(findings, Finding{
				Index:    i,
				Time:     s.Time,
				Entity:   s.Entity,
				Embedded: s.Conviction,
				Fixed:    fixed,
				Drift:    drift,
			})
		}
		amount = Int(s.TotalTokensStaked)
		last = s.Time
	}
	return findings
}

// RelativeDrift is |a-b| / max(|a|,|b|), and 0 when both are 0.
func RelativeDrift(a, b float64) float64 {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 0
	}
	return math.Abs(a-b) / scale
}
