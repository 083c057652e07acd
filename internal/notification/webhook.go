package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"papertrader/internal/events"
	"papertrader/internal/model"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// webhookPayload is the body sent for every alert. Trade is set for trade
// events only.
type webhookPayload struct {
	Source  string        `json:"source"`
	Event   events.Type   `json:"event,omitempty"`
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Symbol  string        `json:"symbol,omitempty"`
	Trade   *tradePayload `json:"trade,omitempty"`
	TS      string        `json:"ts"`
}

type tradePayload struct {
	ID          string            `json:"id"`
	Side        model.Action      `json:"side"`
	Qty         float64           `json:"qty"`
	EntryPrice  float64           `json:"entryPrice"`
	ExitPrice   *float64          `json:"exitPrice,omitempty"`
	TPPrice     *float64          `json:"tpPrice,omitempty"`
	SLPrice     *float64          `json:"slPrice,omitempty"`
	PnLAbs      *float64          `json:"pnlAbs,omitempty"`
	PnLPct      *float64          `json:"pnlPct,omitempty"`
	CloseReason model.CloseReason `json:"closeReason,omitempty"`
	DecisionID  string            `json:"decisionId,omitempty"`
	OpenedAt    time.Time         `json:"tsOpen"`
	ClosedAt    *time.Time        `json:"tsClose,omitempty"`
}

func newTradePayload(t *model.Trade) *tradePayload {
	if t == nil {
		return nil
	}
	return &tradePayload{
		ID:          t.ID,
		Side:        t.Side,
		Qty:         t.Qty,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		TPPrice:     t.TPPrice,
		SLPrice:     t.SLPrice,
		PnLAbs:      t.PnLAbs,
		PnLPct:      t.PnLPct,
		CloseReason: t.CloseReason,
		DecisionID:  t.DecisionID,
		OpenedAt:    t.OpenedAt,
		ClosedAt:    t.ClosedAt,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Source:  "papertrader",
		Event:   alert.Event,
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Symbol:  alert.Symbol,
		Trade:   newTradePayload(alert.Trade),
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if alert.Event != "" {
		req.Header.Set("X-Papertrader-Event", string(alert.Event))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[webhook] sent %s alert symbol=%s", eventName(alert), alert.Symbol)
	return nil
}

func eventName(a Alert) string {
	if a.Event == "" {
		return "generic"
	}
	return string(a.Event)
}
