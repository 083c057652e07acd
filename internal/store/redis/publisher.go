package redis

import (
	"context"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"papertrader/internal/breaker"
	"papertrader/internal/events"
)

const (
	defaultLatestTTL = 30 * time.Minute
	defaultMaxBuffer = 1000
)

// EventChannel is the Pub/Sub channel carrying events for symbol.
func EventChannel(symbol string) string {
	return "papertrader:events:" + symbol
}

// LatestKey holds the most recent event of typ for symbol.
func LatestKey(symbol string, typ events.Type) string {
	return "papertrader:latest:" + symbol + ":" + string(typ)
}

// Publisher implements events.Publisher on Redis Pub/Sub. Each event is
// PUBLISHed and also stored under its latest key with a TTL.
//
// While the breaker is open, events are buffered locally (oldest dropped
// beyond the cap) and flushed in order after the next successful publish.
type Publisher struct {
	rdb goredis.Cmdable
	cb  *breaker.Breaker

	mu      sync.Mutex
	pending []events.Event
	maxBuf  int

	// OnBuffer is called when an event is buffered (for metrics).
	OnBuffer func()
}

// NewPublisher creates a publisher guarded by cb. cb may be nil.
func NewPublisher(rdb goredis.Cmdable, cb *breaker.Breaker) *Publisher {
	if cb == nil {
		cb = breaker.New("redis", 5, 10*time.Second)
	}
	return &Publisher{rdb: rdb, cb: cb, maxBuf: defaultMaxBuffer}
}

// Publish sends e. A failure buffers the event and is reported to the caller.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	err := p.cb.Execute(func() error { return p.send(ctx, e) })
	if err != nil {
		p.buffer(e)
		return err
	}
	p.flush(ctx)
	return nil
}

func (p *Publisher) send(ctx context.Context, e events.Event) error {
	data := e.JSON()
	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, EventChannel(e.Symbol), data)
	pipe.Set(ctx, LatestKey(e.Symbol, e.Type), data, defaultLatestTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) buffer(e events.Event) {
	p.mu.Lock()
	if len(p.pending) >= p.maxBuf {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, e)
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	for i, e := range batch {
		if err := p.send(ctx, e); err != nil {
			log.Printf("[redis] flush stopped after %d/%d buffered events: %v", i, len(batch), err)
			p.mu.Lock()
			p.pending = append(batch[i:], p.pending...)
			p.mu.Unlock()
			return
		}
	}
	log.Printf("[redis] flushed %d buffered events", len(batch))
}
