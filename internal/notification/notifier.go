// Package notification delivers trade alerts to external channels
// (log, webhook, Telegram).
package notification

import (
	"context"
	"errors"
	"log"

	"papertrader/internal/events"
	"papertrader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Trade alerts carry the event
// type and the trade snapshot so backends can render their own layout.
type Alert struct {
	Level   AlertLevel   `json:"level"`
	Event   events.Type  `json:"event,omitempty"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Symbol  string       `json:"symbol,omitempty"`
	Trade   *model.Trade `json:"trade,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. Always enabled so alerts show up in the log file.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends each alert to every backend and joins their errors.
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
