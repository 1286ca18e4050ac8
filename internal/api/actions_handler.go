package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/actions"
	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
	ws "github.com/inboxd/inboxd/internal/websocket"
)

// ActionsHandler accepts user intents and feeds them into the offline queue.
type ActionsHandler struct {
	pool  *pgxpool.Pool
	queue *actions.Queue
	hub   *ws.Hub
}

// NewActionsHandler creates a new ActionsHandler instance.
func NewActionsHandler(pool *pgxpool.Pool, queue *actions.Queue, hub *ws.Hub) *ActionsHandler {
	return &ActionsHandler{pool: pool, queue: queue, hub: hub}
}

type createActionRequest struct {
	Kind           models.ActionKind `json:"kind"`
	MessageIDs     []string          `json:"message_ids"`
	ConversationID *string           `json:"conversation_id,omitempty"`
}

// CreateAction enqueues an action. The intent is durable once this returns;
// replay against the remote store happens asynchronously.
func (h *ActionsHandler) CreateAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action, err := h.queue.Enqueue(r.Context(), req.Kind, req.MessageIDs, req.ConversationID, nil)
	if err != nil {
		log.Printf("ActionsHandler: Failed to enqueue action: %v", err)
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.hub.Broadcast(ws.Event{Type: ws.EventQueueChange, Detail: string(req.Kind)})
	WriteJSON(w, http.StatusCreated, action)
}

// GetQueue reports queue depth per status.
func (h *ActionsHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	counts, err := db.CountActionsByStatus(r.Context(), h.pool)
	if err != nil {
		log.Printf("ActionsHandler: Failed to count actions: %v", err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, counts)
}
