package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/proposal"
	"github.com/sells-group/conviction-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProposalPassable    AlertType = "proposal_passable"
	AlertProposalUnreachable AlertType = "proposal_unreachable"
	AlertProposalBlocked     AlertType = "proposal_blocked"
)

// Alert is one state transition worth telling someone about.
type Alert struct {
	ID         string         `json:"id"`
	Type       AlertType      `json:"type"`
	Severity   string         `json:"severity"`
	ProposalID string         `json:"proposal_id"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Alerter turns state transitions into alerts and posts them to a webhook
// behind a circuit breaker.
type Alerter struct {
	webhookURL string
	client     *http.Client
	breaker    *resilience.Breaker
	retry      resilience.RetryConfig
}

// NewAlerter creates an Alerter from the watch settings. An empty webhook URL
// disables delivery.
func NewAlerter(cfg config.WatchConfig) *Alerter {
	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	bcfg := resilience.FromWatchConfig(cfg)
	bcfg.OnStateChange = func(from, to resilience.BreakerState) {
		log.Warn("webhook breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "send_alert")
	return &Alerter{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		breaker:    resilience.NewBreaker(bcfg),
		retry:      retry,
	}
}

// Evaluate compares statuses with the states seen in the previous round. A
// proposal missing from prev is new and alerts if it already left pending.
func (a *Alerter) Evaluate(prev map[string]proposal.State, statuses []proposal.Status) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, st := range statuses {
		was, ok := prev[st.Proposal.ID]
		if ok && was == st.State {
			continue
		}
		from := string(was)
		if !ok {
			from = "new"
		}

		alert := Alert{
			ID:         uuid.NewString(),
			ProposalID: st.Proposal.ID,
			Details: map[string]any{
				"from":       from,
				"to":         string(st.State),
				"time":       st.Now,
				"conviction": float64(st.Conviction),
				"threshold":  st.Threshold.String(),
			},
			Timestamp: now,
		}
		switch st.State {
		case proposal.StatePassed:
			alert.Type = AlertProposalPassable
			alert.Severity = "info"
			alert.Message = fmt.Sprintf("Proposal %s (%s) reached its threshold and can be executed",
				st.Proposal.ID, st.Proposal.Name)
		case proposal.StateUnreachable:
			alert.Type = AlertProposalUnreachable
			alert.Severity = "warning"
			alert.Message = fmt.Sprintf("Proposal %s (%s) can no longer reach its threshold with %.2f tokens staked",
				st.Proposal.ID, st.Proposal.Name, st.StakedTokens)
			alert.Details["needed_tokens"] = st.NeededTokens.String()
		case proposal.StateBlocked:
			alert.Type = AlertProposalBlocked
			alert.Severity = "high"
			alert.Message = fmt.Sprintf("Proposal %s (%s) requests too large a share of the funds to ever pass",
				st.Proposal.ID, st.Proposal.Name)
		default:
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

// SendAlerts delivers alerts to the webhook. It returns how many were sent
// and the alerts that could not be delivered. Transient failures are retried;
// each alert counts once against the breaker. Without a webhook nothing is
// sent and nothing fails.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) (sent int, failed []Alert) {
	if a.webhookURL == "" || len(alerts) == 0 {
		return 0, nil
	}

	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	for _, alert := range alerts {
		err := a.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
				return a.sendWebhook(ctx, alert)
			})
		})
		if err != nil {
			log.Error("failed to send alert",
				zap.String("id", alert.ID),
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			failed = append(failed, alert)
			continue
		}
		log.Info("alert sent",
			zap.String("id", alert.ID),
			zap.String("type", string(alert.Type)),
			zap.String("proposal_id", alert.ProposalID),
		)
		sent++
	}
	return sent, failed
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", alert.ID)

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
