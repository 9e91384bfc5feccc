package conviction

// ConvictionHistory samples the whole-ledger conviction every timeUnit ticks
// over the HistoryWindow units ending at now. Ticks before time 0 are reported
// as zero, so the length depends only on the window: 51 samples whenever now
// is a multiple of timeUnit.
//
// The window starts from the checkpoint embedded in the last event at or
// before the tick preceding the first sample.
func ConvictionHistory(stakes []StakeEvent, now int64, alpha float64, timeUnit int64) []float64 {
	initTime, history := historyWindow(now, timeUnit)
	old, recent := splitAt(stakes, initTime)

	var seed Checkpoint
	if len(old) > 0 {
		seed = checkpointOf(old[len(old)-1])
	}
	return sampleHistory(history, seed, recent, initTime, now, alpha, timeUnit)
}

// ConvictionHistoryByEntity samples one entity's conviction like
// ConvictionHistory. The window-start checkpoint is rebuilt by replaying the
// entity's earlier events.
func ConvictionHistoryByEntity(stakes []StakeEvent, entity string, now int64, alpha float64, timeUnit int64) []float64 {
	initTime, history := historyWindow(now, timeUnit)
	old, recent := splitAt(StakesByEntity(stakes, entity), initTime)
	return sampleHistory(history, FromStakes(old, alpha), recent, initTime, now, alpha, timeUnit)
}

// historyWindow returns the checkpoint tick that precedes the first sample,
// together with the zero samples for window ticks before time 0. The
// checkpoint tick itself is never sampled and never earlier than -1.
func historyWindow(now, timeUnit int64) (int64, []float64) {
	initTime := now - HistoryWindow*timeUnit - 1
	history := make([]float64, 0, HistoryWindow+1)
	if initTime >= -1 {
		return initTime, history
	}
	// Multiples of timeUnit in [initTime+1, -1]. Integer division truncates
	// toward zero, which is the ceiling for the negative bound.
	pad := -((initTime + 1) / timeUnit)
	for range pad {
		history = append(history, 0)
	}
	return -1, history
}

// splitAt partitions an ordered log into events at or before t and after t.
func splitAt(stakes []StakeEvent, t int64) (old, recent []StakeEvent) {
	i := 0
	for i < len(stakes) && stakes[i].Time <= t {
		i++
	}
	return stakes[:i], stakes[i:]
}

// sampleHistory walks the ticks after initTime up to now. A sample is
// appended on every multiple of timeUnit. When stake events land on a tick the
// amount switches to the latest one and the running conviction restarts from
// the last emitted sample, not from the exact value at that tick.
//
// Only sample ticks and event ticks change anything, so the walk jumps
// between them.
func sampleHistory(history []float64, seed Checkpoint, recent []StakeEvent, initTime, now int64, alpha float64, timeUnit int64) []float64 {
	conv := seed.At(initTime, alpha)
	amount := seed.TotalTokensStaked
	var elapsed int64

	for t := initTime; ; {
		next := nextMultiple(t, timeUnit)
		if len(recent) > 0 && recent[0].Time < next {
			next = recent[0].Time
		}
		if next > now {
			break
		}
		elapsed += next - t
		t = next

		if t%timeUnit == 0 {
			history = append(history, CalculateConviction(float64(elapsed), conv, amount, alpha))
		}

		if len(recent) == 0 || recent[0].Time > t {
			continue
		}
		if len(history) > 0 {
			conv = history[len(history)-1]
		} else {
			// No sample yet: fall back to the value at this tick.
			conv = CalculateConviction(float64(elapsed), conv, amount, alpha)
		}
		for len(recent) > 0 && recent[0].Time <= t {
			amount = recent[0].TotalTokensStaked
			recent = recent[1:]
		}
		elapsed = 0
	}
	return history
}

// nextMultiple is the smallest multiple of timeUnit greater than t.
func nextMultiple(t, timeUnit int64) int64 {
	q := t / timeUnit
	if t%timeUnit != 0 && t < 0 {
		q--
	}
	return (q + 1) * timeUnit
}
