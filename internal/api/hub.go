package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"stake-consensus/internal/ledger"
)

const (
	hubBuffer      = 100
	writeTimeout   = 5 * time.Second
	recentOnAttach = 20
)

// Event is a message pushed to websocket clients.
type Event struct {
	Type         string               `json:"type"`
	Timestamp    time.Time            `json:"timestamp"`
	Transaction  *ledger.Transaction  `json:"transaction,omitempty"`
	Transactions []ledger.Transaction `json:"transactions,omitempty"`
}

// Hub streams ledger transactions to connected websocket clients.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*client]bool
	clientsMu sync.Mutex
	events    chan Event
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// client is one websocket connection. Only its serve goroutine writes to conn.
type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]bool),
		events:   make(chan Event, hubBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Publish queues a transaction for broadcast. It never blocks: when the
// queue is full the event is dropped, so it is safe to call from a ledger
// listener.
func (h *Hub) Publish(tx ledger.Transaction) {
	ev := Event{Type: "transaction", Timestamp: time.Now(), Transaction: &tx}
	select {
	case h.events <- ev:
	default:
		log.Warn().Str("tx_id", tx.ID).Msg("websocket queue full, dropping transaction event")
	}
}

// Run broadcasts queued events until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case ev := <-h.events:
			h.broadcast(ev)
		case <-h.stop:
			return
		}
	}
}

// Stop ends Run and every client stream.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// broadcast hands ev to every client queue. A client whose queue is full is
// dropped.
func (h *Hub) broadcast(ev Event) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			log.Debug().Msg("dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) register(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// serve upgrades the request and streams transactions until the client
// disconnects. The client is registered before snapshot is read, so every
// transaction is either in the snapshot or in the stream; transactions in
// both are sent once.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, snapshot func() []ledger.Transaction) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan Event, hubBuffer)}
	h.register(c)
	defer h.unregister(c)

	all := snapshot()
	sent := make(map[string]bool, len(all))
	for _, tx := range all {
		sent[tx.ID] = true
	}
	recent := all
	if len(recent) > recentOnAttach {
		recent = recent[len(recent)-recentOnAttach:]
	}
	if err := h.write(conn, Event{Type: "snapshot", Timestamp: time.Now(), Transactions: recent}); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			if ev.Transaction != nil {
				if sent[ev.Transaction.ID] {
					continue
				}
				sent[ev.Transaction.ID] = true
			}
			if err := h.write(conn, ev); err != nil {
				log.Debug().Err(err).Msg("dropping websocket client")
				return
			}
		case <-gone:
			return
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal websocket event")
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) clientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}
