package conviction

// FromStakes replays the recurrence from (time 0, conviction 0, amount 0)
// over stakes and returns the checkpoint after the last event. Use it whenever
// the embedded conviction fields were computed over a different population,
// e.g. one entity's slice of the ledger.
func FromStakes(stakes []StakeEvent, alpha float64) Checkpoint {
	var cp Checkpoint
	for _, s := range stakes {
		cp = Checkpoint{
			Time:              s.Time,
			Conviction:        cp.At(s.Time, alpha),
			TotalTokensStaked: s.TotalTokensStaked,
		}
	}
	return cp
}

// StakesByEntity keeps the events of a single entity. Each returned event
// carries the entity's own stake as TotalTokensStaked; its Conviction field is
// left as-is and must not be trusted.
func StakesByEntity(stakes []StakeEvent, entity string) []StakeEvent {
	var out []StakeEvent
	for _, s := range stakes {
		if s.Entity != entity {
			continue
		}
		s.TotalTokensStaked = s.TokensStaked
		out = append(out, s)
	}
	return out
}

// StakesUntil returns the prefix of an ordered log with events at or before t.
// Point-in-time queries for a past t must use it: CurrentConviction trusts the
// last event it is given, even one after t.
func StakesUntil(stakes []StakeEvent, t int64) []StakeEvent {
	old, _ := splitAt(stakes, t)
	return old
}
