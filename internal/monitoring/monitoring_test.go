package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/model"
	"github.com/sells-group/conviction-cli/internal/proposal"
	"github.com/sells-group/conviction-cli/internal/resilience"
)

// scriptedEvals returns one round of states per call, repeating the last.
type scriptedEvals struct {
	mu     sync.Mutex
	rounds [][]proposal.Status
	calls  int
	err    error
}

func (s *scriptedEvals) EvaluateAll(_ context.Context, _ int64) ([]proposal.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := min(s.calls-1, len(s.rounds)-1)
	return s.rounds[i], nil
}

func (s *scriptedEvals) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func status(id string, state proposal.State, open bool) proposal.Status {
	st := model.ProposalStatusOpen
	if !open {
		st = model.ProposalStatusExecuted
	}
	return proposal.Status{
		Proposal:  model.Proposal{ID: id, Name: "Proposal " + id, Status: st},
		Now:       100,
		State:     state,
		Threshold: 888.9,
	}
}

func TestCollector_SkipsClosedProposals(t *testing.T) {
	evals := &scriptedEvals{rounds: [][]proposal.Status{{
		status("1", proposal.StatePending, true),
		status("2", proposal.StatePassed, false),
		status("3", proposal.StatePassed, true),
	}}}

	snap, err := NewCollector(evals).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Open)
	assert.Equal(t, int64(100), snap.Time)
	assert.Equal(t, map[proposal.State]int{proposal.StatePending: 1, proposal.StatePassed: 1}, snap.ByState)
	require.Len(t, snap.Statuses, 2)
	assert.Equal(t, "3", snap.Statuses[1].Proposal.ID)
}

func TestCollector_Error(t *testing.T) {
	evals := &scriptedEvals{err: errors.New("ledger down")}
	_, err := NewCollector(evals).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate proposals")
}

func TestAlerter_Evaluate(t *testing.T) {
	a := NewAlerter(config.WatchConfig{})
	prev := map[string]proposal.State{
		"1": proposal.StatePending,
		"2": proposal.StatePending,
		"3": proposal.StatePending,
		"4": proposal.StatePassed,
		"5": proposal.StatePending,
	}
	alerts := a.Evaluate(prev, []proposal.Status{
		status("1", proposal.StatePassed, true),
		status("2", proposal.StateUnreachable, true),
		status("3", proposal.StateBlocked, true),
		status("4", proposal.StatePending, true), // falling back raises nothing
		status("5", proposal.StatePending, true),
		status("6", proposal.StatePassed, true),  // first sighting
		status("7", proposal.StatePending, true), // first sighting, nothing to report
	})

	require.Len(t, alerts, 4)
	assert.Equal(t, AlertProposalPassable, alerts[0].Type)
	assert.Equal(t, "info", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "Proposal 1")
	assert.Equal(t, AlertProposalUnreachable, alerts[1].Type)
	assert.Equal(t, "warning", alerts[1].Severity)
	assert.Equal(t, AlertProposalBlocked, alerts[2].Type)
	assert.Equal(t, "high", alerts[2].Severity)

	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
	assert.Equal(t, "pending", alerts[0].Details["from"])
	assert.Equal(t, "888.9", alerts[0].Details["threshold"])

	assert.Equal(t, "6", alerts[3].ProposalID)
	assert.Equal(t, AlertProposalPassable, alerts[3].Type)
	assert.Equal(t, "new", alerts[3].Details["from"])
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var got Alert
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		assert.Equal(t, got.ID, r.Header.Get("Idempotency-Key"))
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.WatchConfig{WebhookURL: srv.URL})
	alerts := a.Evaluate(map[string]proposal.State{"1": proposal.StatePending},
		[]proposal.Status{status("1", proposal.StatePassed, true)})

	sent, failed := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 1, sent)
	assert.Empty(t, failed)
	assert.Equal(t, int32(1), received.Load())
	mu.Lock()
	assert.Equal(t, AlertProposalPassable, got.Type)
	assert.Equal(t, "1", got.ProposalID)
	mu.Unlock()
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.WatchConfig{})
	sent, failed := a.SendAlerts(context.Background(), []Alert{{ID: "x"}})
	assert.Equal(t, 0, sent)
	assert.Empty(t, failed)
}

func TestAlerter_SendAlerts_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.WatchConfig{WebhookURL: srv.URL})
	a.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	sent, failed := a.SendAlerts(context.Background(), []Alert{{ID: "a", Type: AlertProposalBlocked}})
	assert.Equal(t, 1, sent)
	assert.Empty(t, failed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_BreakerOpensOnFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAlerter(config.WatchConfig{WebhookURL: srv.URL, FailureThreshold: 2, ResetTimeoutSecs: 60})
	a.retry = resilience.RetryConfig{MaxAttempts: 1}

	alerts := []Alert{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	sent, failed := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
	assert.Len(t, failed, 4)
	assert.Equal(t, int32(2), calls.Load(), "breaker stops calling after the threshold")
	assert.Equal(t, resilience.BreakerOpen, a.breaker.State())
}

func TestWatcher_Round(t *testing.T) {
	evals := &scriptedEvals{rounds: [][]proposal.Status{
		{status("1", proposal.StatePending, true), status("2", proposal.StatePending, true)},
		{status("1", proposal.StatePassed, true), status("2", proposal.StatePending, true)},
		{status("1", proposal.StatePassed, true), status("2", proposal.StatePassed, false)},
	}}
	w := NewWatcher(NewCollector(evals), NewAlerter(config.WatchConfig{}), config.WatchConfig{})
	log := zap.NewNop()
	ctx := context.Background()

	assert.Empty(t, w.Round(ctx, log), "first round sets the baseline")

	alerts := w.Round(ctx, log)
	require.Len(t, alerts, 1)
	assert.Equal(t, "1", alerts[0].ProposalID)

	assert.Empty(t, w.Round(ctx, log), "closed proposals are dropped")
	assert.Equal(t, map[string]proposal.State{"1": proposal.StatePassed}, w.last)
}

func TestWatcher_RoundAlertsOnNewProposal(t *testing.T) {
	evals := &scriptedEvals{rounds: [][]proposal.Status{
		{status("1", proposal.StatePassed, true)},
		{status("1", proposal.StatePassed, true), status("2", proposal.StateBlocked, true)},
	}}
	w := NewWatcher(NewCollector(evals), NewAlerter(config.WatchConfig{}), config.WatchConfig{})
	log := zap.NewNop()
	ctx := context.Background()

	assert.Empty(t, w.Round(ctx, log), "already passed at baseline")

	alerts := w.Round(ctx, log)
	require.Len(t, alerts, 1)
	assert.Equal(t, "2", alerts[0].ProposalID)
	assert.Equal(t, AlertProposalBlocked, alerts[0].Type)
}

func TestWatcher_RoundRetriesUndeliveredAlerts(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		delivered.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	evals := &scriptedEvals{rounds: [][]proposal.Status{
		{status("1", proposal.StatePending, true)},
		{status("1", proposal.StatePassed, true), status("2", proposal.StateUnreachable, true)},
	}}
	alerter := NewAlerter(config.WatchConfig{WebhookURL: srv.URL, FailureThreshold: 10, ResetTimeoutSecs: 60})
	alerter.retry = resilience.RetryConfig{MaxAttempts: 1}
	w := NewWatcher(NewCollector(evals), alerter, config.WatchConfig{})
	log := zap.NewNop()
	ctx := context.Background()

	w.Round(ctx, log)

	require.Len(t, w.Round(ctx, log), 2)
	assert.Equal(t, map[string]proposal.State{"1": proposal.StatePending}, w.last,
		"undelivered transitions stay pending")

	down.Store(false)
	require.Len(t, w.Round(ctx, log), 2)
	assert.Equal(t, int32(2), delivered.Load())
	assert.Equal(t, map[string]proposal.State{
		"1": proposal.StatePassed,
		"2": proposal.StateUnreachable,
	}, w.last)

	assert.Empty(t, w.Round(ctx, log))
}

func TestWatcher_RoundErrorKeepsStates(t *testing.T) {
	evals := &scriptedEvals{rounds: [][]proposal.Status{{status("1", proposal.StatePending, true)}}}
	w := NewWatcher(NewCollector(evals), NewAlerter(config.WatchConfig{}), config.WatchConfig{})
	w.Round(context.Background(), zap.NewNop())

	evals.mu.Lock()
	evals.err = errors.New("ledger down")
	evals.mu.Unlock()

	assert.Nil(t, w.Round(context.Background(), zap.NewNop()))
	assert.Equal(t, map[string]proposal.State{"1": proposal.StatePending}, w.last)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	evals := &scriptedEvals{rounds: [][]proposal.Status{{status("1", proposal.StatePending, true)}}}
	w := NewWatcher(NewCollector(evals), NewAlerter(config.WatchConfig{}), config.WatchConfig{IntervalSecs: 1})
	assert.Equal(t, time.Second, w.interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return evals.Calls() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWatcher_DefaultInterval(t *testing.T) {
	w := NewWatcher(NewCollector(&scriptedEvals{}), NewAlerter(config.WatchConfig{}), config.WatchConfig{})
	assert.Equal(t, time.Minute, w.interval)
}
