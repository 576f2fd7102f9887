package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// EventCostAnomaly prefixes webhook event names. The severity is appended,
// as in "cost_anomaly.critical".
const EventCostAnomaly = "cost_anomaly"

// Headers set on every webhook delivery.
const (
	HeaderEvent          = "X-FinOps-Event"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderSignature      = "X-FinOps-Signature"
)

// WebhookNotifier posts anomaly alerts to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier. A non-empty secret signs
// every delivery.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: []byte(secret),
		client: newHTTPClient(),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for the delivery timestamp.
func (w *WebhookNotifier) WithClock(now func() time.Time) *WebhookNotifier {
	w.now = now
	return w
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Send delivers the alert. The idempotency key only depends on the anomaly
// identity, so a receiver sees the same key when an alert is sent again.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	sentAt := w.now().UTC()
	key := alert.Key()
	event := EventName(alert.Severity)

	body, err := json.Marshal(webhookPayload{
		ID:     key,
		Event:  event,
		SentAt: sentAt.Format(time.RFC3339),
		Alert:  alert,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	headers := map[string]string{
		HeaderEvent:          event,
		HeaderIdempotencyKey: key,
	}
	if len(w.secret) > 0 {
		headers[HeaderSignature] = Sign(w.secret, sentAt, body)
	}
	return postJSON(ctx, w.client, w.Name(), w.url, body, headers)
}

type webhookPayload struct {
	ID     string `json:"id"`
	Event  string `json:"event"`
	SentAt string `json:"sent_at"`
	Alert  Alert  `json:"alert"`
}

// EventName returns the webhook event for an alert severity.
func EventName(severity model.Severity) string {
	if severity == "" {
		return EventCostAnomaly
	}
	return EventCostAnomaly + "." + string(severity)
}

// Sign returns the signature header for body delivered at sentAt:
// "t=<unix seconds>,v1=<hex HMAC-SHA256 of "<unix seconds>.<body>">".
func Sign(secret []byte, sentAt time.Time, body []byte) string {
	ts := strconv.FormatInt(sentAt.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
