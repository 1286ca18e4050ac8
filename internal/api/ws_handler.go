package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	ws "github.com/inboxd/inboxd/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time sync
// progress and queue events.
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback and serves a single local account.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub. The client
// receives the latest progress event immediately, then every broadcast until
// it disconnects.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection: %v", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		return
	}

	go h.readLoop(client)
}

// readLoop drains inbound frames until the connection closes, then
// unregisters the client. Clients send nothing meaningful; the read loop only
// exists to notice disconnects.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(client)
}
