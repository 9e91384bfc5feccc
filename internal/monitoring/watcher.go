package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

// Watcher runs evaluation rounds on an interval and alerts on state
// transitions between consecutive rounds. The first successful round is the
// baseline and alerts on nothing.
type Watcher struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration

	last   map[string]proposal.State
	seeded bool
}

// NewWatcher creates a watcher. A non-positive IntervalSecs means one minute.
func NewWatcher(collector *Collector, alerter *Alerter, cfg config.WatchConfig) *Watcher {
	interval := time.Duration(cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		last:      make(map[string]proposal.State),
	}
}

// Run evaluates once immediately and then on every tick. It blocks until ctx
// is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.watcher"))
	log.Info("starting proposal watcher", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Round(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("proposal watcher stopped")
			return
		case <-ticker.C:
			w.Round(ctx, log)
		}
	}
}

// Round runs one evaluation and returns the alerts it raised. A failed
// evaluation keeps the previous states. A transition whose alert was not
// delivered stays pending and is raised again next round.
func (w *Watcher) Round(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := w.collector.Collect(ctx)
	if err != nil {
		log.Error("evaluation round failed", zap.Error(err))
		return nil
	}

	next := make(map[string]proposal.State, len(snap.Statuses))
	for _, st := range snap.Statuses {
		next[st.Proposal.ID] = st.State
	}
	if !w.seeded {
		w.last, w.seeded = next, true
		log.Info("baseline round complete",
			zap.Int64("time", snap.Time),
			zap.Int("open", snap.Open),
		)
		return nil
	}

	alerts := w.alerter.Evaluate(w.last, snap.Statuses)
	sent, failed := w.alerter.SendAlerts(ctx, alerts)
	for _, a := range failed {
		if was, ok := w.last[a.ProposalID]; ok {
			next[a.ProposalID] = was
		} else {
			delete(next, a.ProposalID)
		}
	}
	w.last = next

	log.Info("evaluation round complete",
		zap.Int64("time", snap.Time),
		zap.Int("proposals", snap.Total),
		zap.Int("open", snap.Open),
		zap.Int("passed", snap.ByState[proposal.StatePassed]),
		zap.Int("pending", snap.ByState[proposal.StatePending]),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
		zap.Int("alerts_pending", len(failed)),
	)
	return alerts
}
