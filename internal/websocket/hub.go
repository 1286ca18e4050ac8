// Package websocket broadcasts sync progress and queue events to connected
// UI clients. The daemon serves a single account, so there is one broadcast
// group; multiple clients (tabs, widgets) may subscribe at once.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one broadcast frame. Type distinguishes sync progress updates
// from action queue state changes.
type Event struct {
	Type     string    `json:"type"`
	Phase    string    `json:"phase,omitempty"`
	Fraction float64   `json:"fraction,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

const (
	EventSyncProgress = "sync_progress"
	EventSyncDone     = "sync_done"
	EventSyncFailed   = "sync_failed"
	EventQueueChange  = "queue_change"
)

// Client wraps one subscriber connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

// Conn returns the underlying connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Hub fans events out to every connected client. A newly registered client
// immediately receives the most recent progress event so it does not join a
// running sync blind.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxClients int
	lastEvent  *Event
}

// NewHub creates a hub with a connection limit.
func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 16
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxClients: maxClients,
	}
}

// Register adds a connection. When the hub is full the connection is closed
// and nil is returned.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	h.mu.Lock()

	if len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		log.Printf("Warning: websocket hub full (%d clients), rejecting connection", h.maxClients)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	h.clients[client] = struct{}{}
	last := h.lastEvent
	h.mu.Unlock()

	if last != nil {
		client.write(last)
	}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Broadcast sends an event to every connected client. Clients whose write
// fails are dropped.
func (h *Hub) Broadcast(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.Lock()
	h.lastEvent = &event
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.write(&event); err != nil {
			log.Printf("Warning: websocket write failed, dropping client: %v", err)
			go h.Unregister(client)
		}
	}
}

// Progress is a convenience wrapper for sync progress events.
func (h *Hub) Progress(fraction float64, phase string) {
	h.Broadcast(Event{Type: EventSyncProgress, Phase: phase, Fraction: fraction})
}

// ActiveConnections returns the current subscriber count.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) write(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
