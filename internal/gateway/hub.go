// Package gateway streams engine events to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"papertrader/internal/events"
)

const replayCapacity = 200

// Envelope is the frame sent to clients: the event plus a hub-wide sequence
// number for gap detection.
type Envelope struct {
	Seq int64 `json:"seq"`
	events.Event
}

// latestKey identifies the most recent event kept for a symbol.
type latestKey struct {
	symbol string
	typ    events.Type
}

// Hub fans events out to connected WebSocket clients. It implements
// events.Publisher.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	latest  map[latestKey]replayEntry
	replay  *ReplayBuffer
	dropped int64

	// OnClientCount is called after a client joins or leaves.
	OnClientCount func(n int)
}

// NewHub creates a hub. allowedOrigin "" or "*" accepts any origin.
func NewHub(allowedOrigin string) *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[latestKey]replayEntry),
		replay:  NewReplayBuffer(replayCapacity),
	}
	h.upgrader = websocket.Upgrader{
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}
	return h
}

// Publish broadcasts e to every client whose symbol filter matches.
// Slow clients drop the frame rather than block the engine.
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	data, err := json.Marshal(Envelope{Seq: h.seq, Event: e})
	if err != nil {
		return err
	}
	h.replay.Push(h.seq, data)
	h.latest[latestKey{symbol: e.Symbol, typ: e.Type}] = replayEntry{Seq: h.seq, Data: data}

	for c := range h.clients {
		if !c.wants(e.Symbol) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped++
			log.Printf("[gateway] client send buffer full, dropped seq=%d (total dropped %d)", h.seq, h.dropped)
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket.
//
// Query parameters:
//
//	symbol    only receive events for this symbol
//	last_seq  replay buffered events after this sequence number; without it
//	          the client receives the latest event of each type per symbol
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}

	q := r.URL.Query()
	lastSeq := int64(-1)
	if v := q.Get("last_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			lastSeq = n
		}
	}
	h.register(newClient(h, conn, q.Get("symbol")), lastSeq)
}

// register queues the initial frames and adds c under one lock so no event
// is missed or duplicated between replay and live delivery.
func (h *Hub) register(c *Client, lastSeq int64) {
	h.mu.Lock()
	var initial []replayEntry
	if lastSeq >= 0 {
		entries, complete := h.replay.Since(lastSeq)
		if !complete {
			log.Printf("[gateway] client resumed after seq=%d but replay starts later; gap not recoverable", lastSeq)
		}
		initial = entries
	} else {
		for _, e := range h.latest {
			initial = append(initial, e)
		}
		sort.Slice(initial, func(i, j int) bool { return initial[i].Seq < initial[j].Seq })
	}
	for _, e := range initial {
		if !c.wantsFrame(e.Data) {
			continue
		}
		select {
		case c.send <- e.Data:
		default:
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go c.writePump()
	go c.readPump()
}

// removeClient unregisters c and closes its send channel. Safe to call twice.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.removeClient(c)
	}
}
