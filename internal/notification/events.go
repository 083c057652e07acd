package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"papertrader/internal/events"
	"papertrader/internal/model"
)

const sendTimeout = 15 * time.Second

// EventNotifier turns trade events into alerts. It implements
// events.Publisher; delivery happens on the Run goroutine so a slow
// backend never stalls the engine.
type EventNotifier struct {
	n     Notifier
	queue chan Alert
}

// NewEventNotifier creates an adapter with a queue of size buf.
func NewEventNotifier(n Notifier, buf int) *EventNotifier {
	if buf <= 0 {
		buf = 64
	}
	return &EventNotifier{n: n, queue: make(chan Alert, buf)}
}

// Publish queues an alert for trade events. Decisions are ignored.
func (en *EventNotifier) Publish(ctx context.Context, e events.Event) error {
	alert, ok := AlertFor(e)
	if !ok {
		return nil
	}
	select {
	case en.queue <- alert:
	default:
		log.Printf("[notify] queue full, dropping alert %q", alert.Title)
	}
	return nil
}

// Run delivers queued alerts until ctx is cancelled.
func (en *EventNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-en.queue:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := en.n.Send(sendCtx, a); err != nil {
				log.Printf("[notify] delivery failed for %q: %v", a.Title, err)
			}
			cancel()
		}
	}
}

// AlertFor maps a trade event to an alert. Stop-loss exits are warnings.
func AlertFor(e events.Event) (Alert, bool) {
	var t model.Trade
	switch d := e.Data.(type) {
	case model.Trade:
		t = d
	case *model.Trade:
		if d == nil {
			return Alert{}, false
		}
		t = *d
	default:
		return Alert{}, false
	}

	switch e.Type {
	case events.TradeOpened:
		return Alert{
			Level:   AlertInfo,
			Event:   e.Type,
			Title:   fmt.Sprintf("Paper %s %s opened", t.Side, t.Symbol),
			Message: fmt.Sprintf("qty %v @ %v%s", t.Qty, t.EntryPrice, targets(t)),
			Symbol:  t.Symbol,
			Trade:   &t,
		}, true
	case events.TradeClosed:
		level := AlertInfo
		if t.CloseReason == model.CloseSL {
			level = AlertWarning
		}
		var exit, pnl, pct float64
		if t.ExitPrice != nil {
			exit = *t.ExitPrice
		}
		if t.PnLAbs != nil {
			pnl = *t.PnLAbs
		}
		if t.PnLPct != nil {
			pct = *t.PnLPct
		}
		return Alert{
			Level:   level,
			Event:   e.Type,
			Title:   fmt.Sprintf("Paper %s %s closed (%s)", t.Side, t.Symbol, t.CloseReason),
			Message: fmt.Sprintf("entry %v exit %v pnl %.4f (%.2f%%)", t.EntryPrice, exit, pnl, pct),
			Symbol:  t.Symbol,
			Trade:   &t,
		}, true
	}
	return Alert{}, false
}

func targets(t model.Trade) string {
	s := ""
	if t.TPPrice != nil {
		s += fmt.Sprintf(" tp %v", *t.TPPrice)
	}
	if t.SLPrice != nil {
		s += fmt.Sprintf(" sl %v", *t.SLPrice)
	}
	return s
}
