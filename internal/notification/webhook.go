package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier posts each alert as a JSON document. The body is the
// alert plus a "ts" field holding the delivery time.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: newHTTPClient(),
		log:    log.With("component", "webhook"),
		now:    time.Now,
	}
}

type webhookPayload struct {
	Alert
	SentAt string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{Alert: alert, SentAt: w.now().UTC().Format(time.RFC3339Nano)}
	if _, err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook %s: %w", alert.ID, err)
	}
	w.log.DebugContext(ctx, "delivered", "alert_id", alert.ID, "title", alert.Title)
	return nil
}
