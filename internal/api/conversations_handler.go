package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
)

// ConversationsHandler serves the local replica's conversation views.
type ConversationsHandler struct {
	pool *pgxpool.Pool
}

// NewConversationsHandler creates a new ConversationsHandler instance.
func NewConversationsHandler(pool *pgxpool.Pool) *ConversationsHandler {
	return &ConversationsHandler{pool: pool}
}

type conversationsResponse struct {
	Conversations []*models.Conversation `json:"conversations"`
	Pagination    paginationInfo         `json:"pagination"`
}

type paginationInfo struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
}

// ListConversations returns a paginated inbox view, pinned first, newest
// activity next. Hidden and archived conversations are excluded.
func (h *ConversationsHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, limit := ParsePaginationParams(r, 50)
	offset := (page - 1) * limit

	conversations, total, err := db.ListVisibleConversations(r.Context(), h.pool, limit, offset)
	if err != nil {
		log.Printf("ConversationsHandler: Failed to list conversations: %v", err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, conversationsResponse{
		Conversations: conversations,
		Pagination: paginationInfo{
			TotalCount: total,
			Page:       page,
			PerPage:    limit,
		},
	})
}

type conversationDetail struct {
	Conversation *models.Conversation `json:"conversation"`
	Messages     []*models.Message    `json:"messages"`
}

// GetConversation returns one conversation with its messages in send order.
// Routed as /api/v1/conversations/{id} and /api/v1/conversations/{id}/flags.
func (h *ConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, rest := splitConversationPath(r.URL.Path)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	if rest == "flags" {
		h.updateFlags(w, r, id)
		return
	}
	if rest != "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	conversation, err := db.GetConversationByID(ctx, h.pool, id)
	if err != nil {
		log.Printf("ConversationsHandler: Failed to get conversation %s: %v", id, err)
		WriteError(w, http.StatusNotFound, "conversation not found")
		return
	}

	messages, err := db.GetMessagesForConversation(ctx, h.pool, id)
	if err != nil {
		log.Printf("ConversationsHandler: Failed to get messages for %s: %v", id, err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, conversationDetail{
		Conversation: conversation,
		Messages:     messages,
	})
}

type flagsRequest struct {
	Pinned   *bool `json:"pinned,omitempty"`
	Muted    *bool `json:"muted,omitempty"`
	Hidden   *bool `json:"hidden,omitempty"`
	Archived *bool `json:"archived,omitempty"`
}

// updateFlags applies local-only conversation flags. These never touch the
// remote store; archiving through the action queue is separate.
func (h *ConversationsHandler) updateFlags(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req flagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := db.SetConversationFlags(r.Context(), h.pool, id, db.ConversationFlags{
		Pinned:   req.Pinned,
		Muted:    req.Muted,
		Hidden:   req.Hidden,
		Archived: req.Archived,
	})
	if err != nil {
		log.Printf("ConversationsHandler: Failed to set flags on %s: %v", id, err)
		WriteError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conversation, err := db.GetConversationByID(r.Context(), h.pool, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, conversation)
}

// splitConversationPath extracts the id and any trailing segment from
// /api/v1/conversations/{id}[/{rest}].
func splitConversationPath(path string) (id, rest string) {
	trimmed := strings.TrimPrefix(path, "/api/v1/conversations/")
	if trimmed == path {
		return "", ""
	}
	parts := strings.SplitN(strings.Trim(trimmed, "/"), "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return id, rest
}
