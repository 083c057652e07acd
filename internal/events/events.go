// Package events carries engine notifications (decisions, trade opens and
// closes) to any number of sinks: WebSocket clients, Redis Pub/Sub, alerting.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Type names an engine event.
type Type string

const (
	DecisionRecorded Type = "decision"
	TradeOpened      Type = "trade.opened"
	TradeClosed      Type = "trade.closed"
)

// Event is one engine notification. Data is the decision or trade it refers to.
type Event struct {
	Type   Type      `json:"type"`
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Data   any       `json:"data"`
}

// New stamps an event with the current time.
func New(typ Type, symbol string, data any) Event {
	return Event{Type: typ, Symbol: symbol, TS: time.Now().UTC(), Data: data}
}

// JSON returns the encoded event (ignoring errors; Data is always a plain struct).
func (e Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout delivers each event to every registered publisher in order.
// A failing sink is logged and never blocks delivery to the others.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Publisher

	// OnError is called when a sink fails. sinkIdx is the 0-based registration index.
	OnError func(sinkIdx int, err error)
}

// NewFanout creates a Fanout over the given sinks.
func NewFanout(sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks}
}

// Add registers another sink.
func (f *Fanout) Add(p Publisher) {
	f.mu.Lock()
	f.sinks = append(f.sinks, p)
	f.mu.Unlock()
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Publish delivers e to all sinks. It always returns nil.
func (f *Fanout) Publish(ctx context.Context, e Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, p := range f.sinks {
		if err := p.Publish(ctx, e); err != nil {
			if f.OnError != nil {
				f.OnError(i, err)
			} else {
				log.Printf("[events] sink %d failed on %s: %v", i, e.Type, err)
			}
		}
	}
	return nil
}
