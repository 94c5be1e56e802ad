// Package notify delivers structured alerts about engine decisions. Delivery
// is fire-and-forget: a failed notification is logged and never aborts the
// decision path that produced it.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/config"
)

// Event categorizes an alert payload.
type Event string

const (
	EventTradeSignal    Event = "trade_signal"
	EventPositionOpened Event = "position_opened"
	EventPositionClosed Event = "position_closed"
	EventRollAlert      Event = "roll_alert"
	EventRegimeChange   Event = "regime_change"
	EventError          Event = "error"
	EventDailySummary   Event = "daily_summary"
)

// Notifier receives alert payloads as plain key-value data.
type Notifier interface {
	Notify(event Event, fields map[string]any)
}

// New selects the notifier for the configured channel. Unknown channels fall
// back to logging so alerts are never silently dropped.
func New(cfg config.NotificationsConfig, logger *logrus.Logger) Notifier {
	switch cfg.Channel {
	case "none":
		return NoopNotifier{}
	case "webhook":
		if cfg.WebhookURL == "" {
			logger.Warn("webhook channel selected without webhook_url, falling back to log")
			return &LogNotifier{logger: logger}
		}
		return &WebhookNotifier{
			url:    cfg.WebhookURL,
			client: &http.Client{Timeout: 10 * time.Second},
			logger: logger,
		}
	default:
		return &LogNotifier{logger: logger}
	}
}

// NoopNotifier discards every alert.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(Event, map[string]any) {}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert with its payload as structured fields.
func (n *LogNotifier) Notify(event Event, fields map[string]any) {
	entry := n.logger.WithField("event", string(event))
	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Info("notification")
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

type webhookPayload struct {
	Event  Event          `json:"event"`
	SentAt time.Time      `json:"sent_at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Notify posts the alert and logs any delivery failure.
func (n *WebhookNotifier) Notify(event Event, fields map[string]any) {
	body, err := json.Marshal(webhookPayload{
		Event:  event,
		SentAt: time.Now().UTC(),
		Fields: fields,
	})
	if err != nil {
		n.logger.WithError(err).WithField("event", event).Warn("encoding notification failed")
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.WithError(err).WithField("event", event).Warn("notification delivery failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		n.logger.WithFields(logrus.Fields{
			"event":  event,
			"status": resp.StatusCode,
		}).Warn("notification rejected by webhook")
	}
}

// Ensure implementations satisfy Notifier at compile time.
var (
	_ Notifier = NoopNotifier{}
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)

// Summary formats daily-summary fields from portfolio statistics.
func Summary(openPositions int, totalPnL, winRate float64) map[string]any {
	return map[string]any{
		"open_positions": openPositions,
		"total_pnl":      fmt.Sprintf("%.2f", totalPnL),
		"win_rate":       fmt.Sprintf("%.1f%%", winRate),
	}
}
