// Package notification delivers signal alerts to external channels
// (log, webhooks, Telegram, Kafka).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	ID      string           `json:"id"`
	Level   AlertLevel       `json:"level"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Signal  *strategy.Signal `json:"signal,omitempty"`
}

// SignalAlert builds the alert for a strategy signal.
func SignalAlert(id string, sig strategy.Signal) Alert {
	return Alert{
		ID:    id,
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s", sig.Ticker, sig.Action),
		Message: fmt.Sprintf("%s signal %s at %.2f (%s)",
			sig.Strategy, sig.Action, sig.Price, sig.TS.UTC().Format(time.RFC3339)),
		Signal: &sig,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	attrs := []any{"alert_id", alert.ID, "level", string(alert.Level), "title", alert.Title, "message", alert.Message}
	if s := alert.Signal; s != nil {
		attrs = append(attrs, "ticker", s.Ticker, "action", string(s.Action), "price", s.Price)
	}
	n.log.InfoContext(ctx, "alert", attrs...)
	return nil
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
