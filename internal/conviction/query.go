package conviction

// CurrentConviction evaluates the whole-ledger conviction at now, trusting the
// checkpoint embedded in the last event. An empty log has no conviction.
// stakes must already be ordered by time.
func CurrentConviction(stakes []StakeEvent, now int64, alpha float64) float64 {
	if len(stakes) == 0 {
		return 0
	}
	return checkpointOf(stakes[len(stakes)-1]).At(now, alpha)
}

// CurrentConvictionByEntity evaluates one entity's own conviction at now. The
// embedded conviction fields describe the whole proposal, so the entity's
// checkpoint is rebuilt by replaying its events.
func CurrentConvictionByEntity(stakes []StakeEvent, entity string, now int64, alpha float64) float64 {
	own := StakesByEntity(stakes, entity)
	if len(own) == 0 {
		return 0
	}
	return FromStakes(own, alpha).At(now, alpha)
}
