package api

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
	enginesync "github.com/inboxd/inboxd/internal/sync"
	ws "github.com/inboxd/inboxd/internal/websocket"
)

// SyncHandler exposes manual sync triggering and daemon status.
type SyncHandler struct {
	pool         *pgxpool.Pool
	pipeline     *enginesync.Pipeline
	hub          *ws.Hub
	accountEmail string

	running atomic.Bool
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(pool *pgxpool.Pool, pipeline *enginesync.Pipeline, hub *ws.Hub, accountEmail string) *SyncHandler {
	return &SyncHandler{
		pool:         pool,
		pipeline:     pipeline,
		hub:          hub,
		accountEmail: accountEmail,
	}
}

// TriggerSync starts a sync pass in the background. If a pass is already in
// flight the request is accepted but no second pass is started; progress for
// the running one arrives over the websocket either way.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !h.running.CompareAndSwap(false, true) {
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
		return
	}

	go func() {
		defer h.running.Store(false)

		stats, err := h.pipeline.Run(context.Background())
		if err != nil {
			log.Printf("SyncHandler: sync pass failed: %v", err)
			h.hub.Broadcast(ws.Event{Type: ws.EventSyncFailed, Detail: err.Error()})
			return
		}
		log.Printf("SyncHandler: sync pass done: %d new messages, %d change records, %d rollups (%s)",
			stats.NewMessages, stats.ChangeRecords, stats.TouchedRollups, stats.Duration)
		h.hub.Broadcast(ws.Event{Type: ws.EventSyncDone})
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// statusResponse is the GET /status body.
type statusResponse struct {
	Account     string                      `json:"account"`
	SyncRunning bool                        `json:"sync_running"`
	SyncState   *models.SyncState           `json:"sync_state,omitempty"`
	QueueCounts map[models.ActionStatus]int `json:"queue_counts"`
	WSConns     int                         `json:"websocket_connections"`
}

// GetStatus reports the durable sync position, queue depth, and subscriber
// count.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, err := db.GetSyncState(ctx, h.pool, h.accountEmail)
	if err != nil {
		log.Printf("SyncHandler: Failed to load sync state: %v", err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	counts, err := db.CountActionsByStatus(ctx, h.pool)
	if err != nil {
		log.Printf("SyncHandler: Failed to count actions: %v", err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, statusResponse{
		Account:     h.accountEmail,
		SyncRunning: h.running.Load(),
		SyncState:   state,
		QueueCounts: counts,
		WSConns:     h.hub.ActiveConnections(),
	})
}
