// Package webhook implements the Webhook Notifier (C6): a best-effort,
// fire-and-forget POST of an event envelope to an operator-configured URL.
// Grounded on the reference codebase's own postSlackMessage, generalized from
// a Slack-specific payload to an arbitrary JSON envelope and moved off the
// caller's goroutine.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xxrust/device-version-manager/internal/metrics"
)

const deliveryTimeout = 2 * time.Second

// Notifier posts event envelopes to a configured URL on a detached
// goroutine. The zero value (empty URL) is a no-op notifier.
type Notifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func New(url string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{url: url, client: &http.Client{Timeout: deliveryTimeout}, log: log}
}

// envelope is the JSON body every webhook delivery carries.
type envelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// Notify satisfies reconcile.Notifier. It is intentionally fire-and-forget:
// the caller never observes the outcome, only the metrics counter does.
func (n *Notifier) Notify(eventType string, payload map[string]any) {
	if n == nil || n.url == "" {
		return
	}
	env := envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Fields:    payload,
	}
	go n.deliver(env)
}

func (n *Notifier) deliver(env envelope) {
	err := n.post(env)
	metrics.RecordWebhookDelivery(err)
	if err != nil {
		n.log.Warn("webhook delivery failed", "event_type", env.EventType, "event_id", env.EventID, "error", err)
	}
}

func (n *Notifier) post(env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response from webhook endpoint: %d", resp.StatusCode)
	}
	return nil
}
